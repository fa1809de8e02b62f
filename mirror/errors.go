package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// Sentinel errors for classifying store failures.
// Use errors.Is(err, ErrXxx).
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrNetwork          = errors.New("network error")
	ErrUnclassified     = errors.New("storage error")
)

// StorageError wraps an underlying error with its classification.
type StorageError struct {
	// Kind is one of the sentinels above.
	Kind error
	// Op is the failed operation: init, read or write.
	Op string
	// Path is the local path, store key or backend involved.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("mirror %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("mirror %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target is the error's Kind.
func (e *StorageError) Is(target error) bool { return e.Kind == target }

func wrap(op string, err error, path string) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: Classify(err), Op: op, Path: path, Err: err}
}

// WrapWriteError classifies a store write failure. Returns nil for nil.
func WrapWriteError(err error, key string) error { return wrap("write", err, key) }

// WrapReadError classifies a local read failure. Returns nil for nil.
func WrapReadError(err error, path string) error { return wrap("read", err, path) }

// WrapInitError classifies a store initialization failure. Returns nil for nil.
func WrapInitError(err error, backend string) error { return wrap("init", err, backend) }

// rules are checked in order; the first match wins.
var rules = []struct {
	kind     error
	patterns []string
}{
	{ErrTimeout, []string{"deadline exceeded", "timed out", "timeout"}},
	{ErrAccessDenied, []string{"accessdenied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "nosuchkey", "nosuchbucket", "404"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "toomanyrequests", "429"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "unauthorized", "401"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "no such host", "dial tcp"}},
}

// Classify maps err to one of the sentinel kinds. Typed errors are checked
// before message patterns.
func Classify(err error) error {
	var timeout interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &timeout) && timeout.Timeout():
		return ErrTimeout
	case errors.Is(err, os.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, os.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return r.kind
			}
		}
	}
	return ErrUnclassified
}
