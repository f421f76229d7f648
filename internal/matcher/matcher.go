// Package matcher implements the match/crop/highlight formatter (spec
// C8): given a field's raw text and the matching-word set a query
// resolved against it, compute which spans of the text matched, select
// the densest crop window, and wrap matched spans in <em> tags.
package matcher

import (
	"sort"
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"
)

// MatchingWord is one leaf matcher C2 produced, resolved to the form C8
// needs to test a token against it: a term, the typo budget it was
// authorized to match within, whether it may match as a prefix, and the
// group id tying it back to its source query token (spec §4.8: "each a
// (term, typo_budget, prefix_flag) plus group-id").
type MatchingWord struct {
	Term       string
	TypoBudget int
	IsPrefix   bool
	GroupID    int
}

// FormatOptions controls what Format produces (spec §4.8).
type FormatOptions struct {
	Highlight bool
	// Crop is the window size in tokens; 0 disables cropping.
	Crop int
}

// Span is a matched byte range of the original text, tagged with the
// query group it satisfied.
type Span struct {
	Start, End int
	GroupID    int
}

// Token is one tokenized word of the original text together with its
// byte offsets, so highlighting/cropping can slice the original bytes
// rather than rebuild text from normalized terms.
type Token struct {
	Text       string
	Start, End int
}

// Tokenize splits text the same way internal/analyzer does (runs of
// letters/numbers), but keeps byte offsets into text instead of
// discarding them, since C8 must preserve surrounding whitespace and
// punctuation byte-for-byte.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			tokens = append(tokens, Token{Text: text[start:i], Start: start, End: i})
			start = -1
		}
	}
	if start != -1 {
		tokens = append(tokens, Token{Text: text[start:], Start: start, End: len(text)})
	}
	return tokens
}

// ComputeMatches tokenizes text and tests every token against words,
// returning one Span per matched token, spans from the same group merged
// when they overlap or touch (spec §4.8: "overlapping matches from the
// same group are merged").
func ComputeMatches(text string, words []MatchingWord) []Span {
	tokens := Tokenize(text)
	var spans []Span
	for _, tok := range tokens {
		if gid, ok := matchToken(tok.Text, words); ok {
			spans = append(spans, Span{Start: tok.Start, End: tok.End, GroupID: gid})
		}
	}
	return mergeSameGroup(spans)
}

// matchToken normalizes tok the way the indexing analyzer does
// (lowercase + stem, no stopword/length filtering - C8 must consider
// every token a candidate) and reports the first configured word it
// satisfies within its typo budget.
func matchToken(tok string, words []MatchingWord) (groupID int, ok bool) {
	normalized := normalize(tok)
	for _, w := range words {
		var d int
		if w.IsPrefix {
			d = prefixDistance(w.Term, normalized, w.TypoBudget)
		} else {
			d = distance(normalized, w.Term, w.TypoBudget)
		}
		if d <= w.TypoBudget {
			return w.GroupID, true
		}
	}
	return 0, false
}

func normalize(tok string) string {
	return snowballeng.Stem(strings.ToLower(tok), false)
}

// mergeSameGroup sorts spans by start and merges any pair sharing a
// GroupID whose byte ranges overlap or are adjacent.
func mergeSameGroup(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	out := []Span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.GroupID == last.GroupID && s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// SelectCropWindow picks the token window of length crop maximizing the
// number of distinct matched groups it contains, ties broken by earliest
// start (spec §4.8). It reports the window as a token index range
// [start, end) and whether it had to trim content off either edge (for
// ellipsis placement). If crop <= 0 or tokens fit within crop already,
// the full text is returned untrimmed.
func SelectCropWindow(tokens []Token, spans []Span, crop int) (start, end int, trimmedStart, trimmedEnd bool) {
	if crop <= 0 || len(tokens) <= crop {
		return 0, len(tokens), false, false
	}

	groupOf := make(map[int]int, len(tokens)) // token index -> group id, for matched tokens only
	for _, s := range spans {
		for i, tok := range tokens {
			if tok.Start >= s.Start && tok.End <= s.End {
				groupOf[i] = s.GroupID
			}
		}
	}

	bestStart, bestCount := 0, -1
	for winStart := 0; winStart+crop <= len(tokens); winStart++ {
		seen := make(map[int]struct{})
		for i := winStart; i < winStart+crop; i++ {
			if gid, ok := groupOf[i]; ok {
				seen[gid] = struct{}{}
			}
		}
		if len(seen) > bestCount {
			bestCount = len(seen)
			bestStart = winStart
		}
	}
	winEnd := bestStart + crop
	return bestStart, winEnd, bestStart > 0, winEnd < len(tokens)
}

// Format implements spec §4.8's output: text optionally cropped to the
// densest crop-token window (with leading/trailing ellipses when
// trimmed) and optionally highlighted with <em>...</em> around every
// matched span.
func Format(text string, words []MatchingWord, opts FormatOptions) string {
	spans := ComputeMatches(text, words)
	tokens := Tokenize(text)

	winStart, winEnd := 0, len(tokens)
	trimmedStart, trimmedEnd := false, false
	if opts.Crop > 0 {
		winStart, winEnd, trimmedStart, trimmedEnd = SelectCropWindow(tokens, spans, opts.Crop)
	}

	byteStart, byteEnd := 0, len(text)
	if len(tokens) > 0 {
		if winEnd > winStart {
			byteStart = tokens[winStart].Start
			byteEnd = tokens[winEnd-1].End
		} else {
			byteStart, byteEnd = 0, 0
		}
	}

	body := text[byteStart:byteEnd]
	if opts.Highlight {
		windowed := make([]Span, 0, len(spans))
		for _, s := range spans {
			if s.Start >= byteStart && s.End <= byteEnd {
				windowed = append(windowed, Span{Start: s.Start - byteStart, End: s.End - byteStart, GroupID: s.GroupID})
			}
		}
		body = insertTags(body, windowed)
	}

	var b strings.Builder
	if trimmedStart {
		b.WriteString("…")
	}
	b.WriteString(body)
	if trimmedEnd {
		b.WriteString("…")
	}
	return b.String()
}

// insertTags wraps each span of s in <em>...</em>, first unioning
// overlapping spans (regardless of group - at this point only tag
// placement matters) so tags never nest or cross.
func insertTags(s string, spans []Span) string {
	if len(spans) == 0 {
		return s
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	merged := []Span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.Start <= last.End {
			if sp.End > last.End {
				last.End = sp.End
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	cursor := 0
	for _, sp := range merged {
		b.WriteString(s[cursor:sp.Start])
		b.WriteString("<em>")
		b.WriteString(s[sp.Start:sp.End])
		b.WriteString("</em>")
		cursor = sp.End
	}
	b.WriteString(s[cursor:])
	return b.String()
}

// distance computes the Levenshtein edit distance between a and b. When
// the lengths alone differ by more than cap it returns cap+1 without
// building the DP table; otherwise it returns the exact distance, which
// may exceed cap+1. Mirrors internal/fstx's derivation distance
// (grounded on the same algorithm; unexported there, so reimplemented
// here rather than threading an internal dependency between C1 and C8).
func distance(a, b string, cap int) int {
	ar, br := []rune(a), []rune(b)
	la, lb := len(ar), len(br)
	if abs(la-lb) > cap {
		return cap + 1
	}
	prev := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur := make([]int, lb+1)
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev = cur
	}
	return prev[lb]
}

// prefixDistance reports the minimum edit distance between term and any
// prefix of tok whose length is within cap of len(term), i.e. how far
// term is from being a prefix of tok.
func prefixDistance(term, tok string, cap int) int {
	tr, mr := []rune(term), []rune(tok)
	lo := len(tr) - cap
	if lo < 0 {
		lo = 0
	}
	hi := len(tr) + cap
	if hi > len(mr) {
		hi = len(mr)
	}
	best := cap + 1
	for l := lo; l <= hi; l++ {
		if d := distance(term, string(mr[:l]), cap); d < best {
			best = d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
