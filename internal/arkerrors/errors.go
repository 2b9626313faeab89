// Package arkerrors gives every reconciler error kind a concrete Go type and
// classifies it as temporary (worth a requeue) or permanent (terminal until
// the spec changes), mirroring kopf's TemporaryError/PermanentError split.
package arkerrors

import (
	"errors"
	"fmt"
	"time"
)

// Temporary is satisfied by errors that should trigger a requeue rather than
// a terminal status.
type Temporary interface {
	error
	RequeueAfter() time.Duration
}

// TransientError wraps a network/API/RCON failure that is worth retrying.
type TransientError struct {
	Op    string
	Delay time.Duration
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporary error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RequeueAfter implements Temporary.
func (e *TransientError) RequeueAfter() time.Duration {
	if e.Delay <= 0 {
		return 3 * time.Second
	}
	return e.Delay
}

// NewTransient builds a TransientError with the default 3s requeue delay.
func NewTransient(op string, err error) *TransientError {
	return &TransientError{Op: op, Delay: 3 * time.Second, Err: err}
}

// NewTransientAfter builds a TransientError with an explicit requeue delay.
func NewTransientAfter(op string, delay time.Duration, err error) *TransientError {
	return &TransientError{Op: op, Delay: delay, Err: err}
}

// PermanentError marks a reconciliation as terminally failed; its Message
// becomes status.state verbatim (with the "Error: " prefix added by the caller).
type PermanentError struct {
	Message string
	Err     error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanent builds a PermanentError carrying a user-visible message.
func NewPermanent(message string, err error) *PermanentError {
	return &PermanentError{Message: message, Err: err}
}

// NotFoundError signals an API read found nothing; callers recover locally.
type NotFoundError struct {
	Kind      string
	Name      string
	Namespace string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s/%s not found", e.Kind, e.Namespace, e.Name)
}

// InvalidSizeError signals a size literal the size parser could not parse.
type InvalidSizeError struct {
	Literal string
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("invalid size literal %q", e.Literal)
}

// PVCShrinkError signals a PVC resize request smaller than the current size.
type PVCShrinkError struct {
	Name        string
	Current     int64
	Requested   int64
	CurrentStr  string
	RequestStr  string
}

func (e *PVCShrinkError) Error() string {
	return fmt.Sprintf("cannot shrink PVC %s from %s to %s", e.Name, e.CurrentStr, e.RequestStr)
}

// PVCTooSmallError signals a PVC creation request below the configured minimum.
type PVCTooSmallError struct {
	MinSize string
}

func (e *PVCTooSmallError) Error() string {
	return fmt.Sprintf("PVC is too small. Min size is %s", e.MinSize)
}

// ManagedCollisionError signals a user-supplied param/opt collides with a
// reserved, operator-managed entry.
type ManagedCollisionError struct {
	Kind  string // "parameters" or "options"
	Items []string
}

func (e *ManagedCollisionError) Error() string {
	return fmt.Sprintf("%v are managed %s, they cannot be provided manually", e.Items, e.Kind)
}

// JobFailedError signals a Job whose failure count reached the retry limit.
type JobFailedError struct {
	JobName string
	Failed  int32
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed %d times", e.JobName, e.Failed)
}

// RCONError wraps a single RCON send failure, including a timeout.
type RCONError struct {
	Host string
	Port int
	Op   string
	Err  error
}

func (e *RCONError) Error() string {
	return fmt.Sprintf("rcon %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *RCONError) Unwrap() error { return e.Err }

// ConfigParseError signals malformed user-supplied INI content.
type ConfigParseError struct {
	Line string
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("failed to parse config line %q", e.Line)
}

// IsPermanent reports whether err (or any wrapped error) is a PermanentError
// or one of the validation error kinds that are always terminal.
func IsPermanent(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}
	var sizeErr *InvalidSizeError
	var shrinkErr *PVCShrinkError
	var tooSmallErr *PVCTooSmallError
	var collisionErr *ManagedCollisionError
	var jobErr *JobFailedError
	var parseErr *ConfigParseError
	switch {
	case errors.As(err, &sizeErr):
		return true
	case errors.As(err, &shrinkErr):
		return true
	case errors.As(err, &tooSmallErr):
		return true
	case errors.As(err, &collisionErr):
		return true
	case errors.As(err, &jobErr):
		return true
	case errors.As(err, &parseErr):
		return true
	}
	return false
}

// IsTemporary reports whether err (or any wrapped error) implements Temporary.
func IsTemporary(err error) (Temporary, bool) {
	var t Temporary
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ErrorState formats err as the "Error: <message>" status.state carrier.
func ErrorState(err error) string {
	return fmt.Sprintf("Error: %s", err.Error())
}
