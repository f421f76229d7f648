package analyzer

// DefaultEnglishStopWords is offered as a starting point for indexes that
// want English stopword removal; settings.StopWords (spec §6) ultimately
// decides what is active for a given index, so this is not wired in
// automatically by Config.
//
// Kept short deliberately: the teacher's 300-entry list encoded an
// opinionated default for a single global analyzer. Here stopwords are a
// per-index setting, so a long baked-in list would just be dead weight
// for indexes that configure their own.
var DefaultEnglishStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "if": {}, "in": {}, "into": {}, "is": {},
	"it": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "such": {},
	"that": {}, "the": {}, "their": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "will": {}, "with": {},
}
