package parser

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// MalformedScriptError is returned when the script violates the structural
// rules: it must start with FROM, may not use FROM again, and every
// instruction needs arguments.
type MalformedScriptError struct {
	Line int
	Msg  string
}

func (e *MalformedScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed script: line %d: %s", e.Line, e.Msg)
	}
	return "malformed script: " + e.Msg
}

func (e *MalformedScriptError) Unwrap() error {
	return errdefs.ErrInvalidArgument
}

// UnsupportedInstructionError is returned for keywords that are recognized
// but deliberately not implemented.
type UnsupportedInstructionError struct {
	Line    int
	Keyword string
}

func (e *UnsupportedInstructionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: unsupported instruction %s", e.Line, e.Keyword)
	}
	return "unsupported instruction " + e.Keyword
}

func (e *UnsupportedInstructionError) Unwrap() error {
	return errdefs.ErrNotImplemented
}

// UnknownInstructionError is returned for keywords that are not recognized.
type UnknownInstructionError struct {
	Line    int
	Keyword string
}

func (e *UnknownInstructionError) Error() string {
	return fmt.Sprintf("line %d: unknown instruction: %s", e.Line, e.Keyword)
}

func (e *UnknownInstructionError) Unwrap() error {
	return errdefs.ErrInvalidArgument
}
