package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNoReadings signals a page without meter readings. Averages are keyed by
// the first reading's period, so none can be derived from such a page.
var ErrNoReadings = eris.New("page has no meter readings")

// ValidationError describes a malformed or incomplete incoming record.
type ValidationError struct {
	Record string // record kind, e.g. "meter reading"
	Index  int    // position within the batch, -1 when not applicable
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("validation: %s[%d]: %s: %s", e.Record, e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s: %s", e.Record, e.Field, e.Reason)
}

func invalid(record string, index int, field, reason string) *ValidationError {
	return &ValidationError{Record: record, Index: index, Field: field, Reason: reason}
}
