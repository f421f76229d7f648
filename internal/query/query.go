// Package query implements the query-tree builder (spec C2): turning an
// analyzed token stream into an OR-tree of alternative conjunctive
// interpretations for C7's criteria pipeline to try in ranked order.
package query

import (
	"github.com/blaze-search/blaze/internal/analyzer"
)

// WordMatch is one conjunctive leaf matcher in an interpretation: a
// literal term with its permitted typo budget, whether it may match as a
// prefix, whether a candidate document may lack it entirely (Optional),
// and a group id tying together matchers that trace back to the same
// source query token (C8 merges overlapping highlight spans within a
// group).
type WordMatch struct {
	Term       string
	TypoBudget int
	IsPrefix   bool
	Optional   bool
	GroupID    int
}

// Interpretation is one conjunctive reading of the query: every
// non-optional WordMatch must be satisfied by a candidate document.
type Interpretation struct {
	Words []WordMatch
}

// Tree is the OR-tree of alternative interpretations spec §4.2 describes.
type Tree struct {
	Interpretations []Interpretation
}

// Config names the index settings and per-query flags spec §4.2/§6
// read when building a query tree.
type Config struct {
	StopWords      map[string]struct{}
	WordsLimit     int
	OptionalWords  bool
	AuthorizeTypos bool // index-wide; ANDed with the per-query flag
	Analyzer       analyzer.Config
}

// DefaultConfig mirrors milli's query defaults (words_limit: 10,
// optional_words/authorize_typos: true).
func DefaultConfig() Config {
	return Config{
		WordsLimit:     10,
		OptionalWords:  true,
		AuthorizeTypos: true,
		Analyzer:       analyzer.DefaultConfig(),
	}
}

// Build tokenizes text and produces the OR-tree of interpretations spec
// §4.2 names: the literal phrase, consecutive-word concatenations,
// splits of long tokens, a stop-word-removed variant, and - when
// cfg.OptionalWords is set - single-word-optional variants. The literal
// phrase keeps stop words (a query-settings stopword list only trims the
// dedicated stop-word variant, not the base phrase, since the two must
// remain distinct interpretations). words_limit truncates the token
// stream before any variant is generated.
func Build(text string, cfg Config, queryAuthorizeTypos bool) *Tree {
	tokenCfg := cfg.Analyzer
	tokenCfg.StopWords = nil // the literal phrase must retain stop words
	terms := analyzer.Words(text, tokenCfg)

	limit := cfg.WordsLimit
	if limit > 0 && limit < len(terms) {
		terms = terms[:limit]
	}
	if len(terms) == 0 {
		return &Tree{}
	}

	authorizeTypos := cfg.AuthorizeTypos && queryAuthorizeTypos
	tree := &Tree{}
	tree.Interpretations = append(tree.Interpretations, literal(terms, authorizeTypos))

	for i := 0; i+1 < len(terms); i++ {
		tree.Interpretations = append(tree.Interpretations, literal(concat(terms, i), authorizeTypos))
	}

	for i, term := range terms {
		for _, pair := range splits(term) {
			tree.Interpretations = append(tree.Interpretations, literal(replaceWithSplit(terms, i, pair), authorizeTypos))
		}
	}

	if stopped := withoutStopWords(terms, cfg.StopWords); stopped != nil {
		tree.Interpretations = append(tree.Interpretations, literal(stopped, authorizeTypos))
	}

	if cfg.OptionalWords && len(terms) > 1 {
		for i := range terms {
			interp := literal(terms, authorizeTypos)
			interp.Words[i].Optional = true
			tree.Interpretations = append(tree.Interpretations, interp)
		}
	}

	return tree
}

// literal builds a fully-mandatory interpretation over terms. Only the
// last term is prefix-enabled, matching the as-you-type convention that
// a query's trailing word is still being typed (the spec names a prefix
// flag per matcher but does not say which words carry it; this is this
// implementation's documented choice - see DESIGN.md).
func literal(terms []string, authorizeTypos bool) Interpretation {
	words := make([]WordMatch, len(terms))
	for i, term := range terms {
		words[i] = WordMatch{
			Term:       term,
			TypoBudget: analyzer.TypoBudget(term, authorizeTypos),
			IsPrefix:   i == len(terms)-1,
			GroupID:    i,
		}
	}
	return Interpretation{Words: words}
}

// concat merges terms[i] and terms[i+1] into a single synthetic term
// ("the door" -> "thedoor"), spec §4.2's consecutive-word concatenation
// variant.
func concat(terms []string, i int) []string {
	out := make([]string, 0, len(terms)-1)
	out = append(out, terms[:i]...)
	out = append(out, terms[i]+terms[i+1])
	out = append(out, terms[i+2:]...)
	return out
}

// splits returns every way to cut term into two non-empty halves of at
// least two runes each, avoiding degenerate single-letter splits; short
// terms (spec's typo-budget length-4 floor) are never split.
func splits(term string) [][2]string {
	runes := []rune(term)
	if len(runes) < 5 {
		return nil
	}
	out := make([][2]string, 0, len(runes)-4)
	for cut := 2; cut <= len(runes)-2; cut++ {
		out = append(out, [2]string{string(runes[:cut]), string(runes[cut:])})
	}
	return out
}

// replaceWithSplit substitutes terms[i] with the two halves of pair.
func replaceWithSplit(terms []string, i int, pair [2]string) []string {
	out := make([]string, 0, len(terms)+1)
	out = append(out, terms[:i]...)
	out = append(out, pair[0], pair[1])
	out = append(out, terms[i+1:]...)
	return out
}

// withoutStopWords drops every term present in stopWords, returning nil
// if no stop word was present (the variant would be identical to the
// literal phrase) or if every term was a stop word.
func withoutStopWords(terms []string, stopWords map[string]struct{}) []string {
	if len(stopWords) == 0 {
		return nil
	}
	out := make([]string, 0, len(terms))
	changed := false
	for _, t := range terms {
		if _, stop := stopWords[t]; stop {
			changed = true
			continue
		}
		out = append(out, t)
	}
	if !changed || len(out) == 0 {
		return nil
	}
	return out
}
