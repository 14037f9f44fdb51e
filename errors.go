// Package ecs provides a versioned, copy-on-write entity graph with
// content-addressable snapshots, per-field provenance, and a callable
// function layer that executes user code against the graph.
package ecs

import (
	"fmt"

	"github.com/google/uuid"
	perrors "github.com/pkg/errors"
)

// Sentinel errors. Match with errors.Is against these, or use the typed
// errors below (MalformedAddressError, BadPathError, ...) when the
// caller needs the offending address, segment, or id.
var (
	// ErrMalformedAddress indicates an address string has a bad "@" prefix
	// or an invalid UUID.
	ErrMalformedAddress = perrors.New("malformed address")

	// ErrUnknownEntity indicates an id or address root is not present in
	// the registry.
	ErrUnknownEntity = perrors.New("unknown entity")

	// ErrBadPath indicates a segment lookup failed: missing field,
	// out-of-range index, or missing map key.
	ErrBadPath = perrors.New("bad address path")

	// ErrInvariantViolation indicates a broken ownership/containment
	// invariant, or an unresolved cycle during fork.
	ErrInvariantViolation = perrors.New("invariant violation")

	// ErrUnknownVersion indicates a cold snapshot referenced during fork
	// is missing from the registry.
	ErrUnknownVersion = perrors.New("unknown version")

	// ErrUnknownFunction indicates Execute was called with an
	// unregistered function name.
	ErrUnknownFunction = perrors.New("unknown function")

	// ErrInputAssembly indicates a classification/resolution
	// inconsistency while assembling a function's input entity.
	ErrInputAssembly = perrors.New("input assembly error")

	// ErrUserFunction wraps an error raised by user code during Execute.
	ErrUserFunction = perrors.New("user function error")

	// ErrAmbiguousEntity is accepted, unchanged, from external
	// collaborators (e.g. a coarse descriptor matching more than one
	// entity) and surfaced as-is.
	ErrAmbiguousEntity = perrors.New("ambiguous entity")
)

// MalformedAddressError reports the offending address string.
type MalformedAddressError struct {
	Address string
	Reason  string
}

func (e *MalformedAddressError) Error() string {
	return fmt.Sprintf("malformed address %q: %s", e.Address, e.Reason)
}

func (e *MalformedAddressError) Unwrap() error { return ErrMalformedAddress }

// UnknownEntityError reports the id that could not be found.
type UnknownEntityError struct {
	ID uuid.UUID
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity %s", e.ID)
}

func (e *UnknownEntityError) Unwrap() error { return ErrUnknownEntity }

// BadPathError reports how far an address resolved before failing.
type BadPathError struct {
	Address          string
	ConsumedSegments []string
	FailedSegment    string
	Reason           string
}

func (e *BadPathError) Error() string {
	return fmt.Sprintf("bad path in %q after %v: segment %q: %s",
		e.Address, e.ConsumedSegments, e.FailedSegment, e.Reason)
}

func (e *BadPathError) Unwrap() error { return ErrBadPath }

// InvariantViolationError fatally aborts the current operation; the
// registry is left consistent (no partial fork is committed).
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Detail)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// UnknownVersionError reports the missing ecs_id.
type UnknownVersionError struct {
	ECSID uuid.UUID
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown version %s", e.ECSID)
}

func (e *UnknownVersionError) Unwrap() error { return ErrUnknownVersion }

// UnknownFunctionError reports the requested function name.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q", e.Name)
}

func (e *UnknownFunctionError) Unwrap() error { return ErrUnknownFunction }

// InputAssemblyError reports which field failed and why. No execution
// entity is written for this error.
type InputAssemblyError struct {
	Field  string
	Reason string
}

func (e *InputAssemblyError) Error() string {
	return fmt.Sprintf("input assembly failed for field %q: %s", e.Field, e.Reason)
}

func (e *InputAssemblyError) Unwrap() error { return ErrInputAssembly }

// UserFunctionError wraps the original error raised by user code plus the
// execution entity id that recorded the failure.
type UserFunctionError struct {
	ExecutionID uuid.UUID
	Cause       error
}

func (e *UserFunctionError) Error() string {
	return fmt.Sprintf("user function error (execution %s): %v", e.ExecutionID, e.Cause)
}

func (e *UserFunctionError) Unwrap() error { return e.Cause }

// Is reports true for ErrUserFunction so callers can match on the
// taxonomy sentinel without unwrapping to the original cause.
func (e *UserFunctionError) Is(target error) bool {
	return target == ErrUserFunction
}

// AmbiguousEntityError is accepted unchanged from external collaborators
// (e.g. a coarse descriptor matching more than one entity).
type AmbiguousEntityError struct {
	Descriptor string
	Candidates []uuid.UUID
}

func (e *AmbiguousEntityError) Error() string {
	return fmt.Sprintf("ambiguous entity descriptor %q: %d candidates", e.Descriptor, len(e.Candidates))
}

func (e *AmbiguousEntityError) Unwrap() error { return ErrAmbiguousEntity }
