package blaze

import (
	"errors"
	"fmt"

	"github.com/blaze-search/blaze/internal/criteria"
	"github.com/blaze-search/blaze/internal/document"
	"github.com/blaze-search/blaze/internal/extract"
	"github.com/blaze-search/blaze/internal/ids"
)

// Kind names the error taxonomy spec §7 describes ("what, not type
// names"): a closed set of conditions callers branch on with errors.As,
// rather than one error type per package.
type Kind int

const (
	KindInvalidDocumentID Kind = iota
	KindMissingPrimaryKey
	KindAttributeLimitReached
	KindInvalidFilter
	KindInvalidSortableAttribute
	KindSortRankingRuleMissing
	KindInvalidGeoField
	KindIO
	KindKVS
	KindSerialization
	KindUTF8
)

func (k Kind) String() string {
	switch k {
	case KindInvalidDocumentID:
		return "InvalidDocumentId"
	case KindMissingPrimaryKey:
		return "MissingPrimaryKey"
	case KindAttributeLimitReached:
		return "AttributeLimitReached"
	case KindInvalidFilter:
		return "InvalidFilter"
	case KindInvalidSortableAttribute:
		return "InvalidSortableAttribute"
	case KindSortRankingRuleMissing:
		return "SortRankingRuleMissing"
	case KindInvalidGeoField:
		return "InvalidGeoField"
	case KindIO:
		return "Io"
	case KindKVS:
		return "KvsError"
	case KindSerialization:
		return "SerializationError"
	case KindUTF8:
		return "Utf8Error"
	default:
		return "Unknown"
	}
}

// Error carries a Kind alongside the wrapped cause, so callers can
// errors.As(err, &blaze.Error{}) and switch on Kind the way the teacher
// compares sentinel errors with errors.Is.
type Error struct {
	Kind   Kind
	Reason string // populated for KindInvalidGeoField
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("blaze: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("blaze: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapIngestError(err error, external string) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	var geoErr *extract.InvalidGeoFieldError
	switch {
	case errors.Is(err, document.ErrMissingPrimaryKey):
		return &Error{Kind: KindMissingPrimaryKey, Err: err}
	case errors.Is(err, document.ErrInvalidPrimaryKeyValue):
		return &Error{Kind: KindInvalidDocumentID, Err: err}
	case errors.Is(err, ids.ErrAttributeLimitReached):
		return &Error{Kind: KindAttributeLimitReached, Err: err}
	case errors.As(err, &geoErr):
		return &Error{Kind: KindInvalidGeoField, Reason: geoErr.Reason, Err: err}
	default:
		if external != "" {
			err = fmt.Errorf("document %q: %w", external, err)
		}
		return &Error{Kind: KindIO, Err: err}
	}
}

func wrapSearchError(err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, criteria.ErrSortRankingRuleMissing) {
		return &Error{Kind: KindSortRankingRuleMissing, Err: err}
	}
	if errors.Is(err, errInvalidFilter) {
		return &Error{Kind: KindInvalidFilter, Err: err}
	}
	if errors.Is(err, errInvalidSortableAttribute) {
		return &Error{Kind: KindInvalidSortableAttribute, Err: err}
	}
	return &Error{Kind: KindKVS, Err: err}
}
