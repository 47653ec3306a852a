// Package errors provides structured error types for the wasm-pool library.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type includes the affected pool and a cause
// chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAcquire, errors.KindCapacity).
//		Pool("memory").
//		Detail("maximum concurrent memory limit of %d reached", limit).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.CapacityExceeded("stack", 128)
//	err := errors.ConfigMismatch("memory", requested, capacity)
//
// All errors implement the standard error interface and support
// errors.Is/As. Two error kinds matter to embedders: KindCapacity is the
// recoverable "too many concurrent instances" signal (see IsCapacity), and
// KindConfiguration marks a guest module incompatible with the configured
// limits. Internal invariant violations are never reported through this
// package; they panic, so a corrupted allocator state cannot be mistaken
// for a normal, recoverable failure.
package errors
