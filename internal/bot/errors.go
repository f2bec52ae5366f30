package bot

import (
	"errors"
	"fmt"
)

// ErrorKind classifies cycle failures so callers never have to inspect
// free-text messages.
type ErrorKind uint8

const (
	// KindTransient covers data-source and venue hiccups; the loop skips
	// the cycle and retries after the cooldown.
	KindTransient ErrorKind = iota
	// KindRejected covers order placements the venue refused; state is
	// left untouched.
	KindRejected
	// KindInvalid covers non-retryable logic results such as a computed
	// size below the venue minimum.
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// CycleError wraps a failure inside the trading loop with its kind.
type CycleError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

func transientErr(op string, err error) error {
	return &CycleError{Kind: KindTransient, Op: op, Err: err}
}

func rejectedErr(op string, err error) error {
	return &CycleError{Kind: KindRejected, Op: op, Err: err}
}

func invalidErr(op string, err error) error {
	return &CycleError{Kind: KindInvalid, Op: op, Err: err}
}

// IsTransient reports whether err should be retried next cycle.
func IsTransient(err error) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	return false
}
