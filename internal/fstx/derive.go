package fstx

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/vellum"

	"github.com/blaze-search/blaze/internal/analyzer"
)

// Match is one derived term and the typo distance it was found at.
type Match struct {
	Term     string
	Distance int
}

// Derive implements spec C1's `derive(word, is_prefix, max_typo, fst)`
// operation.
func Derive(fst *vellum.FST, word string, isPrefix bool, maxTypo int) ([]Match, error) {
	if word == "" {
		return nil, fmt.Errorf("blaze: derive called with an empty word")
	}
	wb := []byte(word)

	switch maxTypo {
	case 0:
		return deriveBounded(fst, word, wb, isPrefix, 0, len(wb))
	case 1:
		firstLen := len(analyzer.FirstGrapheme(word))
		return deriveBounded(fst, word, wb, isPrefix, 1, firstLen)
	case 2:
		firstLen := len(analyzer.FirstGrapheme(word))
		branchB, err := deriveBounded(fst, word, wb, isPrefix, 2, firstLen)
		if err != nil {
			return nil, err
		}
		branchA, err := deriveFirstLetterPenalty(fst, word, wb, isPrefix)
		if err != nil {
			return nil, err
		}
		return mergeMatches(branchB, branchA), nil
	default:
		return nil, fmt.Errorf("blaze: invalid max_typo %d, want 0, 1 or 2", maxTypo)
	}
}

func deriveBounded(fst *vellum.FST, word string, wb []byte, isPrefix bool, maxEdits, literalPrefixLen int) ([]Match, error) {
	if literalPrefixLen > len(wb) {
		literalPrefixLen = len(wb)
	}
	aut := newBoundedAutomaton(wb[:literalPrefixLen], wb[literalPrefixLen:], maxEdits, isPrefix)

	itr, err := fst.Search(aut, nil, nil)
	if err == vellum.ErrIteratorDone {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blaze: searching fst for %q: %w", word, err)
	}

	var out []Match
	for err == nil {
		k, _ := itr.Current()
		key := string(k)
		var dist int
		if isPrefix {
			dist = prefixDistance(word, key, maxEdits)
		} else {
			dist = runeDistance([]rune(word), []rune(key), maxEdits)
		}
		if dist <= maxEdits {
			out = append(out, Match{Term: key, Distance: dist})
		}
		err = itr.Next()
	}
	if err != nil && err != vellum.ErrIteratorDone {
		return nil, fmt.Errorf("blaze: iterating fst matches for %q: %w", word, err)
	}
	return out, nil
}

// deriveFirstLetterPenalty implements max_typo=2 branch (a): a typo on
// the first letter is allowed, but only together with at most zero
// further edits (distance-1 DFA over the whole word, unconstrained),
// excluding matches that already satisfy the first-letter constraint
// (those belong to branch b). Every surviving match is reported at
// distance 2, the penalty spec §4.1 assigns for a first-letter error.
func deriveFirstLetterPenalty(fst *vellum.FST, word string, wb []byte, isPrefix bool) ([]Match, error) {
	raw, err := deriveBounded(fst, word, wb, isPrefix, 1, 0)
	if err != nil {
		return nil, err
	}
	firstGrapheme := analyzer.FirstGrapheme(word)
	out := make([]Match, 0, len(raw))
	for _, m := range raw {
		if strings.HasPrefix(m.Term, firstGrapheme) {
			continue
		}
		out = append(out, Match{Term: m.Term, Distance: 2})
	}
	return out, nil
}

func mergeMatches(sets ...[]Match) []Match {
	best := make(map[string]int)
	var order []string
	for _, set := range sets {
		for _, m := range set {
			if d, ok := best[m.Term]; !ok || m.Distance < d {
				if !ok {
					order = append(order, m.Term)
				}
				best[m.Term] = m.Distance
			}
		}
	}
	out := make([]Match, 0, len(order))
	for _, term := range order {
		out = append(out, Match{Term: term, Distance: best[term]})
	}
	return out
}

// runeDistance computes the Levenshtein edit distance between a and b.
// When the lengths alone differ by more than cap it returns cap+1 without
// building the DP table; otherwise it returns the exact distance, which
// may exceed cap+1.
func runeDistance(a, b []rune, cap int) int {
	la, lb := len(a), len(b)
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
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev = cur
	}
	return prev[lb]
}

// prefixDistance reports the minimum edit distance between word and any
// prefix of key whose length is within maxEdits of len(word), i.e. the
// "word is a fuzzy prefix of key" distance the prefix-mode automaton
// already filtered candidates on.
func prefixDistance(word, key string, maxEdits int) int {
	wr := []rune(word)
	kr := []rune(key)
	lo := len(wr) - maxEdits
	if lo < 0 {
		lo = 0
	}
	hi := len(wr) + maxEdits
	if hi > len(kr) {
		hi = len(kr)
	}
	best := maxEdits + 1
	for l := lo; l <= hi; l++ {
		d := runeDistance(wr, kr[:l], maxEdits)
		if d < best {
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

// Cache memoizes Derive results for the lifetime of a single query
// (spec §4.1: "Results are cached by (word, is_prefix, max_typo) for
// the duration of one query"). Safe for concurrent use by the parallel
// matchers C2/C7 share it with.
type Cache struct {
	fst *vellum.FST

	mu      sync.Mutex
	entries map[cacheKey][]Match
}

type cacheKey struct {
	word     string
	isPrefix bool
	maxTypo  int
}

// NewCache returns a derivation cache bound to fst, for one query.
func NewCache(fst *vellum.FST) *Cache {
	return &Cache{fst: fst, entries: make(map[cacheKey][]Match)}
}

// Derive returns cached results for (word, isPrefix, maxTypo), computing
// and storing them on first request.
func (c *Cache) Derive(word string, isPrefix bool, maxTypo int) ([]Match, error) {
	key := cacheKey{word, isPrefix, maxTypo}

	c.mu.Lock()
	if m, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	matches, err := Derive(c.fst, word, isPrefix, maxTypo)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = matches
	c.mu.Unlock()
	return matches, nil
}
