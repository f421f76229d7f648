// Package analyzer turns raw field text into the searchable token stream
// shared by indexing (C3) and query parsing (C2).
//
// The pipeline is: tokenize -> lowercase -> stopword filter -> length
// filter -> stem. Each stage is a pure []string -> []string function so
// callers can disable stages (a query-time analyzer still needs raw,
// unstemmed tokens for the exact/prefix matchers in C1, for instance).
package analyzer

import (
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"
)

// Config controls which stages of the pipeline run. Stopwords are supplied
// by index settings (spec C2: "Stop words come from index settings"),
// not hardcoded, so every caller must build one from the index's
// configured stopword set.
type Config struct {
	MinTokenLength int
	EnableStemming bool
	StopWords      map[string]struct{}
}

// DefaultConfig returns the pipeline configuration used when an index has
// not customized its stopword list or stemming behavior.
func DefaultConfig() Config {
	return Config{
		MinTokenLength: 1,
		EnableStemming: true,
		StopWords:      map[string]struct{}{},
	}
}

// Token is a single analyzed occurrence: its normalized text and its
// 0-based position in the original field value. Positions are assigned
// before stopword/length filtering is applied so that proximity
// calculations (C3 word-pair proximity) reflect real textual distance
// rather than post-filter distance.
type Token struct {
	Term     string
	Position int
}

// Analyze runs the default pipeline (stemming on, no stopwords removed)
// over text and returns the resulting tokens with positions.
func Analyze(text string) []Token {
	return AnalyzeWithConfig(text, DefaultConfig())
}

// AnalyzeWithConfig runs text through tokenize/lowercase/stopword/length/
// stem stages driven by cfg, preserving each surviving token's original
// position in the tokenized stream.
func AnalyzeWithConfig(text string, cfg Config) []Token {
	raw := tokenize(text)

	tokens := make([]Token, 0, len(raw))
	for pos, word := range raw {
		word = strings.ToLower(word)
		if len(word) == 0 {
			continue
		}
		if _, stop := cfg.StopWords[word]; stop {
			continue
		}
		if len(word) < cfg.MinTokenLength {
			continue
		}
		// Words longer than 511 bytes are silently skipped (spec §7
		// resource limit), never surfaced as an error.
		if len(word) > 511 {
			continue
		}
		if cfg.EnableStemming {
			word = snowballeng.Stem(word, false)
		}
		tokens = append(tokens, Token{Term: word, Position: pos})
	}
	return tokens
}

// Words is a convenience for callers that only need the term strings, in
// analyzed order, dropping position information (used by C2's phrase and
// split-word reconstruction, which only cares about term sequence).
func Words(text string, cfg Config) []string {
	toks := AnalyzeWithConfig(text, cfg)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Term
	}
	return out
}

// tokenize splits text on any rune that is neither a letter nor a number,
// which keeps CJK graphemes intact (spec scenario S4: "小化妆包" must
// tokenize without relying on whitespace).
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// FirstGrapheme returns the first rune of word as a string, used by C1 to
// build the "starts-with first grapheme" automaton that enforces the
// first-letter constraint on typo-tolerant derivation.
func FirstGrapheme(word string) string {
	for _, r := range word {
		return string(r)
	}
	return ""
}

// TypoBudget implements the spec C2 rule: 0 typos for length <= 4, 1 for
// length <= 8, 2 otherwise, gated by authorizeTypos (index-wide AND
// per-query flags must both allow typos).
func TypoBudget(word string, authorizeTypos bool) int {
	if !authorizeTypos {
		return 0
	}
	n := len([]rune(word))
	switch {
	case n <= 4:
		return 0
	case n <= 8:
		return 1
	default:
		return 2
	}
}
