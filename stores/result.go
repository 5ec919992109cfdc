package stores

import (
	"errors"
	"fmt"

	"github.com/poiesic/strata/core"
)

// Status is the outcome of a store write.
type Status int

const (
	// StatusOk means the write was applied.
	StatusOk Status = iota
	// StatusUnavailable means the store is down or not provisioned.
	StatusUnavailable
	// StatusError means the store was reachable but the write failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result is returned by every store write.
type Result struct {
	Status   Status
	RecordID string            // external key of the written record
	Details  map[string]string // target-specific identifiers
	Err      error
}

// Ok returns a successful Result.
func Ok(recordID string, details map[string]string) Result {
	return Result{Status: StatusOk, RecordID: recordID, Details: details}
}

// Unavailable returns a Result for a store that cannot be reached. reason may be nil.
func Unavailable(reason error) Result {
	if reason == nil {
		reason = core.ErrStoreUnavailable
	} else if !errors.Is(reason, core.ErrStoreUnavailable) {
		reason = fmt.Errorf("%w: %w", core.ErrStoreUnavailable, reason)
	}
	return Result{Status: StatusUnavailable, Err: reason}
}

// Failed returns a Result for a failed write.
func Failed(err error) Result {
	if err == nil {
		err = core.ErrStoreError
	} else if !errors.Is(err, core.ErrStoreError) {
		err = fmt.Errorf("%w: %w", core.ErrStoreError, err)
	}
	return Result{Status: StatusError, Err: err}
}

// IsOk reports whether the write was applied.
func (r Result) IsOk() bool { return r.Status == StatusOk }

// IsUnavailable reports whether the store could not be reached.
func (r Result) IsUnavailable() bool { return r.Status == StatusUnavailable }

// Error returns the failure text, or "" for a successful result.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
