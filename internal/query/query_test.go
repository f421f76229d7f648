package query

import "testing"

func TestBuildLiteralInterpretationMarksLastWordPrefix(t *testing.T) {
	tree := Build("the door", DefaultConfig(), true)
	if len(tree.Interpretations) == 0 {
		t.Fatal("expected at least one interpretation")
	}
	literal := tree.Interpretations[0]
	if len(literal.Words) != 2 {
		t.Fatalf("literal interpretation has %d words, want 2", len(literal.Words))
	}
	if literal.Words[0].IsPrefix {
		t.Fatal("only the last word should be prefix-enabled")
	}
	if !literal.Words[1].IsPrefix {
		t.Fatal("the last word should be prefix-enabled")
	}
}

func TestBuildIncludesConcatenationVariant(t *testing.T) {
	tree := Build("the door", DefaultConfig(), true)
	found := false
	for _, interp := range tree.Interpretations {
		if len(interp.Words) == 1 && interp.Words[0].Term == "thedoor" {
			found = true
		}
	}
	if !found {
		t.Fatal(`expected a "thedoor" concatenation interpretation`)
	}
}

func TestBuildAppliesWordsLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WordsLimit = 2
	cfg.OptionalWords = false
	tree := Build("one two three four", cfg, true)
	literal := tree.Interpretations[0]
	if len(literal.Words) != 2 {
		t.Fatalf("literal interpretation has %d words, want 2 (words_limit)", len(literal.Words))
	}
}

func TestBuildStopWordVariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopWords = map[string]struct{}{"the": {}}
	tree := Build("the door opens", cfg, true)

	var sawLiteralWithThe, sawStoppedVariant bool
	for _, interp := range tree.Interpretations {
		if len(interp.Words) == 3 && interp.Words[0].Term == "the" {
			sawLiteralWithThe = true
		}
		if len(interp.Words) == 2 && interp.Words[0].Term == "door" {
			sawStoppedVariant = true
		}
	}
	if !sawLiteralWithThe {
		t.Fatal("expected the literal phrase to retain the stop word")
	}
	if !sawStoppedVariant {
		t.Fatal("expected a stop-word-removed variant")
	}
}

func TestBuildOptionalWordsProducesDropVariants(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OptionalWords = true
	tree := Build("quick brown fox", cfg, true)

	var sawOptionalFirst bool
	for _, interp := range tree.Interpretations {
		if len(interp.Words) != 3 {
			continue
		}
		if interp.Words[0].Optional && !interp.Words[1].Optional && !interp.Words[2].Optional {
			sawOptionalFirst = true
		}
	}
	if !sawOptionalFirst {
		t.Fatal("expected a variant with only the first word marked optional")
	}
}

func TestBuildTypoBudgetGatedByAuthorizeTypos(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OptionalWords = false
	tree := Build("verylongword", cfg, false)
	literal := tree.Interpretations[0]
	for _, w := range literal.Words {
		if w.TypoBudget != 0 {
			t.Fatalf("word %q has typo budget %d, want 0 when typos are not authorized", w.Term, w.TypoBudget)
		}
	}
}

func TestBuildSplitsLongToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OptionalWords = false
	tree := Build("thedoor", cfg, true)

	found := false
	for _, interp := range tree.Interpretations {
		if len(interp.Words) == 2 && interp.Words[0].Term == "the" && interp.Words[1].Term == "door" {
			found = true
		}
	}
	if !found {
		t.Fatal(`expected a split variant producing ["the", "door"]`)
	}
}

func TestBuildEmptyQueryYieldsEmptyTree(t *testing.T) {
	tree := Build("   ", DefaultConfig(), true)
	if len(tree.Interpretations) != 0 {
		t.Fatalf("expected no interpretations for an empty query, got %d", len(tree.Interpretations))
	}
}
