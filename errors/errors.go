package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the allocator the error occurred
type Phase string

const (
	PhaseConfigure   Phase = "configure"   // limits validation, pool construction
	PhaseAcquire     Phase = "acquire"     // slot acquisition
	PhaseRelease     Phase = "release"     // slot release and decommit
	PhaseGrow        Phase = "grow"        // in-place growth
	PhaseInstantiate Phase = "instantiate" // coordinated instance allocation
	PhaseProbe       Phase = "probe"       // compiled-module limits check
	PhaseClose       Phase = "close"       // allocator teardown
)

// Kind categorizes the error
type Kind string

const (
	KindCapacity      Kind = "capacity"       // concurrency limit reached, recoverable
	KindConfiguration Kind = "configuration"  // limits incompatible with the request
	KindPlatform      Kind = "platform"       // OS memory primitive failed
	KindUnsupported   Kind = "unsupported"    // operation disabled by configuration
	KindClosed        Kind = "closed"         // allocator already closed
	KindStillLive     Kind = "still_live"     // teardown with live allocations
	KindInvalidInput  Kind = "invalid_input"  // malformed request
)

// Error is the structured error type used throughout the allocator
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Pool   string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Pool != "" {
		b.WriteString(" in ")
		b.WriteString(e.Pool)
		b.WriteString(" pool")
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Pool sets the pool name
func (b *Builder) Pool(name string) *Builder {
	b.err.Pool = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// CapacityExceeded reports that a pool's concurrency limit is reached.
// It is the expected error under high load; callers apply backpressure
// and retry after a release.
func CapacityExceeded(pool string, limit uint32) *Error {
	return &Error{
		Phase:  PhaseAcquire,
		Kind:   KindCapacity,
		Pool:   pool,
		Detail: fmt.Sprintf("maximum concurrent %s limit of %d reached", pool, limit),
		Value:  limit,
	}
}

// ConfigMismatch reports a guest request incompatible with the configured
// per-slot sizing. Surfaced to the module-loading path.
func ConfigMismatch(pool string, requested, capacity uint64) *Error {
	return &Error{
		Phase:  PhaseAcquire,
		Kind:   KindConfiguration,
		Pool:   pool,
		Detail: fmt.Sprintf("requested size %d exceeds configured slot capacity %d", requested, capacity),
		Value:  requested,
	}
}

// InvalidLimits reports a limits configuration rejected at construction.
func InvalidLimits(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseConfigure,
		Kind:   KindConfiguration,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// PlatformFailure reports an OS memory primitive failing below the
// configured limit. Distinct from capacity so callers do not treat true
// exhaustion as retryable backpressure.
func PlatformFailure(phase Phase, pool, op string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPlatform,
		Pool:   pool,
		Detail: op,
		Cause:  cause,
	}
}

// Unsupported reports an operation disabled by configuration.
func Unsupported(pool, what string) *Error {
	return &Error{
		Phase:  PhaseAcquire,
		Kind:   KindUnsupported,
		Pool:   pool,
		Detail: what,
	}
}

// Closed reports use of an allocator after Close.
func Closed(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: "allocator is closed",
	}
}

// StillLive reports teardown attempted while allocations are outstanding.
func StillLive(pool string, live uint32) *Error {
	return &Error{
		Phase:  PhaseClose,
		Kind:   KindStillLive,
		Pool:   pool,
		Detail: fmt.Sprintf("%d allocations still live", live),
		Value:  live,
	}
}

// InvalidInput creates an invalid request error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsCapacity reports whether err is a recoverable capacity error from any
// pool. This is the check an embedding server uses to apply backpressure.
func IsCapacity(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindCapacity {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
