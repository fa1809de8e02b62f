package policy

import (
	"errors"
	"fmt"
)

// ErrRejected matches every *Rejection via errors.Is.
var ErrRejected = errors.New("rejected by policy")

// Reason classifies a rejection.
type Reason string

// Rejection reasons.
const (
	ReasonSenderNotAllowed Reason = "sender not allowed"
	ReasonTypeNotAllowed   Reason = "type not allowed"
	ReasonNoSupportedFile  Reason = "no supported file"
	ReasonExceedsMaxSize   Reason = "exceeds max size"
)

// Rejection is an expected, informational outcome. Processing of the
// message stops and nothing is retried.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Is reports whether target is ErrRejected.
func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
