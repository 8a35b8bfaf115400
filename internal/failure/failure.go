// Package failure defines the common error taxonomy the adapters and the
// dispatcher agree on. Provider-specific errors are wrapped into a Failure
// so callers can branch on Kind without knowing which provider was behind it.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Validation covers malformed or empty input, recovered locally
	// with a re-prompt and never surfaced as an error to the user.
	Validation Kind = "validation"
	// Authorization is a role-gate rejection.
	Authorization Kind = "authorization"
	// AdapterTransient is a downstream timeout or 5xx class error that
	// may succeed on retry.
	AdapterTransient Kind = "adapter_transient"
	// AdapterPermanent is a downstream rejection that will not succeed
	// on retry (bad credentials, unsupported payload).
	AdapterPermanent Kind = "adapter_permanent"
	// Persistence means the database is unavailable. Fatal for the
	// current request, not retried within it.
	Persistence Kind = "persistence"
)

type Failure struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// New wraps err into a Failure of the given kind. Op names the failed
// operation for logging.
func New(kind Kind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err}
}

// KindOf returns the failure kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsTransient reports whether err is a transient adapter failure.
func IsTransient(err error) bool {
	return KindOf(err) == AdapterTransient
}
