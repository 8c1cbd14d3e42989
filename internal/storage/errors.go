package storage

import (
	"errors"
	"fmt"
)

// ErrVerificationFailed is matched by errors.Is against the loader's
// count-verification failures.
var ErrVerificationFailed = errors.New("row count verification failed")

// ErrUnknownFilterField rejects a query filter key that is not in the
// allow-list. Keys are interpolated into query text, so unknown ones are
// refused before any query is built.
var ErrUnknownFilterField = errors.New("unknown filter field")

// VerificationError reports a staged or live row count that does not
// match the input record count after insert.
type VerificationError struct {
	Stage string // "staging" | "live"
	Want  int
	Got   int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s count verification failed: inserted %d, expected %d", e.Stage, e.Got, e.Want)
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerificationFailed
}

// QueryError wraps a store-level failure during a read. Request-scoped:
// it never affects stored data.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query: %v", e.Err) }

func (e *QueryError) Unwrap() error { return e.Err }
