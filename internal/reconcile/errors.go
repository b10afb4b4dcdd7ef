package reconcile

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrUnsupportedGranularity is returned when a batch targets a granularity
// that has no table of the requested kind, e.g. weekly meter readings.
var ErrUnsupportedGranularity = eris.New("reconcile: unsupported granularity")

// CommitError reports a store failure while persisting a batch. The batch's
// transaction has been rolled back when it is returned.
type CommitError struct {
	Table string
	Op    string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("reconcile: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
