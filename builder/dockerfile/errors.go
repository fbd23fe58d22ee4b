package dockerfile

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/moby/treebuilder/builder/dockerfile/parser"
	"github.com/moby/treebuilder/imgstore"
)

// Decoder errors, returned unchanged by Build.
type (
	MalformedScriptError        = parser.MalformedScriptError
	UnsupportedInstructionError = parser.UnsupportedInstructionError
	UnknownInstructionError     = parser.UnknownInstructionError
)

// BaseImageNotFoundError is returned when the FROM reference does not
// resolve in the store.
type BaseImageNotFoundError struct {
	Name string
	Err  error
}

func (e *BaseImageNotFoundError) Error() string {
	return fmt.Sprintf("base image %s not found", e.Name)
}

func (e *BaseImageNotFoundError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrNotFound}
}

// CheckoutFailedError is returned when the last cached state can not be
// materialized into the working tree.
type CheckoutFailedError struct {
	ID  imgstore.CommitID
	Err error
}

func (e *CheckoutFailedError) Error() string {
	return fmt.Sprintf("failed to check out %s: %v", e.ID, e.Err)
}

func (e *CheckoutFailedError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrUnavailable}
}

// InstructionFailedError wraps the failure of the instruction at Index.
// An Index equal to the number of instructions denotes the configuration
// step.
type InstructionFailedError struct {
	Index int
	Err   error
}

func (e *InstructionFailedError) Error() string {
	return fmt.Sprintf("step %d failed: %v", e.Index+1, e.Err)
}

func (e *InstructionFailedError) Unwrap() error {
	return e.Err
}

// StoreTransactionError is returned when a commit, a reference lookup or a
// tag update fails in the store.
type StoreTransactionError struct {
	Op  string
	Err error
}

func (e *StoreTransactionError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreTransactionError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrUnavailable}
}

// SandboxExecutionError is returned when a RUN command exits non-zero.
type SandboxExecutionError struct {
	Command    string
	ExitStatus int
}

func (e *SandboxExecutionError) Error() string {
	return fmt.Sprintf("the command '%s' returned a non-zero code: %d", e.Command, e.ExitStatus)
}

func (e *SandboxExecutionError) Unwrap() error {
	return errdefs.ErrFailedPrecondition
}
