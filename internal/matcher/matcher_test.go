package matcher

import (
	"strings"
	"testing"
)

func TestFormatHighlightsMatchedSpan(t *testing.T) {
	words := []MatchingWord{{Term: "quick", TypoBudget: 0, GroupID: 0}}
	got := Format("the quick brown fox", words, FormatOptions{Highlight: true})
	want := "the <em>quick</em> brown fox"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatPreservesPunctuationByteForByte(t *testing.T) {
	words := []MatchingWord{{Term: "hello", TypoBudget: 0, GroupID: 0}}
	got := Format("hello, world!", words, FormatOptions{Highlight: true})
	want := "<em>hello</em>, world!"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatMatchesWithinTypoBudget(t *testing.T) {
	// "quack" is one substitution away from "quick".
	words := []MatchingWord{{Term: "quick", TypoBudget: 1, GroupID: 0}}
	got := Format("a quack noise", words, FormatOptions{Highlight: true})
	want := "a <em>quack</em> noise"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatRejectsMatchOutsideTypoBudget(t *testing.T) {
	words := []MatchingWord{{Term: "quick", TypoBudget: 0, GroupID: 0}}
	got := Format("a quack noise", words, FormatOptions{Highlight: true})
	if strings.Contains(got, "<em>") {
		t.Fatalf("got %q, expected no highlight (distance exceeds budget)", got)
	}
}

func TestFormatPrefixMatch(t *testing.T) {
	words := []MatchingWord{{Term: "fox", TypoBudget: 0, IsPrefix: true, GroupID: 0}}
	got := Format("a foxes den", words, FormatOptions{Highlight: true})
	want := "a <em>foxes</em> den"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatCropsWithEllipses(t *testing.T) {
	text := "one two three four five six seven eight matched nine ten"
	words := []MatchingWord{{Term: "match", TypoBudget: 0, GroupID: 0}}
	got := Format(text, words, FormatOptions{Highlight: true, Crop: 3})

	if !strings.HasPrefix(got, "…") {
		t.Fatalf("got %q, want leading ellipsis", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("got %q, want trailing ellipsis", got)
	}
	if !strings.Contains(got, "<em>matched</em>") {
		t.Fatalf("got %q, want the matched token highlighted", got)
	}
}

func TestFormatCropNoEllipsisAtBoundary(t *testing.T) {
	text := "match one two"
	words := []MatchingWord{{Term: "match", TypoBudget: 0, GroupID: 0}}
	got := Format(text, words, FormatOptions{Crop: 2})
	if strings.HasPrefix(got, "…") {
		t.Fatalf("got %q, expected no leading ellipsis at text start", got)
	}
}

func TestFormatNoCropWhenWindowCoversAllTokens(t *testing.T) {
	text := "one two"
	words := []MatchingWord{{Term: "one", TypoBudget: 0, GroupID: 0}}
	got := Format(text, words, FormatOptions{Crop: 5})
	if got != "one two" {
		t.Fatalf("got %q, want unmodified text (crop wider than token count)", got)
	}
}

func TestComputeMatchesMergesOverlappingSameGroupSpans(t *testing.T) {
	spans := []Span{
		{Start: 0, End: 5, GroupID: 1},
		{Start: 5, End: 9, GroupID: 1},
		{Start: 20, End: 25, GroupID: 2},
	}
	merged := mergeSameGroup(spans)
	if len(merged) != 2 {
		t.Fatalf("got %d spans, want 2 (first two merged, touching and same group)", len(merged))
	}
	if merged[0].Start != 0 || merged[0].End != 9 {
		t.Fatalf("merged span = %+v, want {0,9,1}", merged[0])
	}
}

func TestComputeMatchesDoesNotMergeDifferentGroups(t *testing.T) {
	spans := []Span{
		{Start: 0, End: 5, GroupID: 1},
		{Start: 3, End: 9, GroupID: 2},
	}
	merged := mergeSameGroup(spans)
	if len(merged) != 2 {
		t.Fatalf("got %d spans, want 2 (overlapping but different groups stay separate)", len(merged))
	}
}

func TestTokenizeKeepsByteOffsets(t *testing.T) {
	toks := Tokenize("hi, 世界!")
	if len(toks) != 2 {
		t.Fatalf("got %d tokens, want 2", len(toks))
	}
	if toks[0].Text != "hi" || toks[1].Text != "世界" {
		t.Fatalf("tokens = %+v", toks)
	}
	if "hi, 世界!"[toks[1].Start:toks[1].End] != "世界" {
		t.Fatal("second token's byte offsets do not round-trip to its text")
	}
}

func TestInsertTagsUnionsOverlappingSpansRegardlessOfGroup(t *testing.T) {
	s := "abcdefgh"
	out := insertTags(s, []Span{{Start: 1, End: 4, GroupID: 0}, {Start: 3, End: 6, GroupID: 1}})
	want := "a<em>bcdef</em>gh"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}
