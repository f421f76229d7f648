// Package fstx implements term derivation (spec C1): intersecting a
// bounded Levenshtein automaton with the words FST (or words-prefixes
// FST) to enumerate typo-tolerant candidate terms proportional to the
// number of matches rather than the size of the vocabulary.
//
// vellum (github.com/blevesearch/vellum) exposes exactly this extension
// point: any type satisfying its five-method Automaton interface can
// drive FST.Search. Rather than reach for vellum's bundled
// levenshtein subpackage - which targets plain fuzzy search, not the
// first-letter-constrained, optionally-prefixed variant spec §4.1
// describes - boundedAutomaton below implements Automaton directly,
// splicing a literal-match phase (the "no typo on the leading
// grapheme" constraint) in front of a standard bounded-edit-distance
// DP phase.
package fstx

// boundedAutomaton accepts an FST key k if: the first len(literalPrefix)
// bytes of k equal literalPrefix exactly, and the edit distance between
// the remaining bytes of k and suffix is at most maxEdits. When
// prefixMode is set, once that budget is satisfied the automaton keeps
// matching (and reports WillAlwaysMatch) regardless of what follows,
// implementing "word is a fuzzy prefix of k".
type boundedAutomaton struct {
	literalPrefix []byte
	suffix        []byte
	maxEdits      int
	prefixMode    bool

	states  []autoState
	deadIdx int
	hasDead bool
}

type autoState struct {
	dead     bool
	inLit    bool
	litCount int
	row      []int
	locked   bool
}

func newBoundedAutomaton(literalPrefix, suffix []byte, maxEdits int, prefixMode bool) *boundedAutomaton {
	return &boundedAutomaton{
		literalPrefix: literalPrefix,
		suffix:        suffix,
		maxEdits:      maxEdits,
		prefixMode:    prefixMode,
	}
}

func initialRow(n int) []int {
	row := make([]int, n+1)
	for i := range row {
		row[i] = i
	}
	return row
}

func (a *boundedAutomaton) dpStateFromLiteral() autoState {
	row := initialRow(len(a.suffix))
	locked := a.prefixMode && row[len(row)-1] <= a.maxEdits
	return autoState{row: row, locked: locked}
}

// Start returns the initial automaton state: the literal-matching phase
// if literalPrefix is non-empty, otherwise straight into the DP phase.
func (a *boundedAutomaton) Start() int {
	var s autoState
	if len(a.literalPrefix) == 0 {
		s = a.dpStateFromLiteral()
	} else {
		s = autoState{inLit: true}
	}
	a.states = append(a.states, s)
	return len(a.states) - 1
}

func (a *boundedAutomaton) dead() int {
	if a.hasDead {
		return a.deadIdx
	}
	a.states = append(a.states, autoState{dead: true})
	a.deadIdx = len(a.states) - 1
	a.hasDead = true
	return a.deadIdx
}

// Accept advances state on incoming byte b, returning the next state.
func (a *boundedAutomaton) Accept(state int, b byte) int {
	s := a.states[state]
	if s.dead {
		return a.dead()
	}

	if s.inLit {
		if s.litCount < len(a.literalPrefix) && a.literalPrefix[s.litCount] == b {
			next := s.litCount + 1
			var ns autoState
			if next == len(a.literalPrefix) {
				ns = a.dpStateFromLiteral()
			} else {
				ns = autoState{inLit: true, litCount: next}
			}
			a.states = append(a.states, ns)
			return len(a.states) - 1
		}
		return a.dead()
	}

	if s.locked {
		return state // absorbing: matched already, any continuation is fine
	}

	newRow := stepRow(s.row, a.suffix, b)
	locked := a.prefixMode && newRow[len(newRow)-1] <= a.maxEdits
	a.states = append(a.states, autoState{row: newRow, locked: locked})
	return len(a.states) - 1
}

func stepRow(prev []int, target []byte, b byte) []int {
	n := len(prev)
	next := make([]int, n)
	next[0] = prev[0] + 1
	for j := 1; j < n; j++ {
		cost := 1
		if target[j-1] == b {
			cost = 0
		}
		del := prev[j] + 1
		ins := next[j-1] + 1
		sub := prev[j-1] + cost
		next[j] = minInt3(del, ins, sub)
	}
	return next
}

func minInt3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// CanMatch reports whether any continuation from state could still
// satisfy the edit-distance budget.
func (a *boundedAutomaton) CanMatch(state int) bool {
	s := a.states[state]
	if s.dead {
		return false
	}
	if s.inLit {
		return true
	}
	if s.locked {
		return true
	}
	return minRow(s.row) <= a.maxEdits
}

func minRow(row []int) int {
	m := row[0]
	for _, v := range row[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// IsMatch reports whether the key consumed to reach state is itself an
// accepted match (only ever consulted by FST.Search at FST-final nodes).
func (a *boundedAutomaton) IsMatch(state int) bool {
	s := a.states[state]
	if s.dead || s.inLit {
		return false
	}
	if a.prefixMode {
		return s.locked
	}
	return s.row[len(s.row)-1] <= a.maxEdits
}

// WillAlwaysMatch lets FST.Search stop evaluating the automaton once a
// prefix-mode match has locked in.
func (a *boundedAutomaton) WillAlwaysMatch(state int) bool {
	s := a.states[state]
	return !s.dead && !s.inLit && s.locked && a.prefixMode
}
