package shader

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
)

var (
	// ErrUnknownConstant is returned when a constant name is not declared by the program.
	// It is a soft error: callers log it and carry on.
	ErrUnknownConstant = errors.New("unknown shader constant")

	// ErrSizeMismatch is returned when a value's byte length differs from the declared size
	// of the constant it is written to.
	ErrSizeMismatch = errors.New("shader constant size mismatch")

	// ErrPackingMismatch is returned when packed constants do not fill their buffer exactly,
	// or a layout's variables overlap or overflow the buffer.
	ErrPackingMismatch = errors.New("constant buffer packing mismatch")

	// ErrUnsupportedStage is returned when the compiler cannot target a stage.
	ErrUnsupportedStage = errors.New("stage not supported by the shader compiler")

	// ErrReleased is returned by operations on a released program.
	ErrReleased = errors.New("shader program already released")
)

// CompileError reports a stage source that could not be compiled. It is recoverable:
// a hot reload that fails to compile keeps the previous program.
type CompileError struct {
	Path       string
	Stage      device.Stage
	Diagnostic string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile %s shader %s: %s", e.Stage, e.Path, e.Diagnostic)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// ReflectionError reports a compiled stage whose resources could not be enumerated, or whose
// constant buffer layout is malformed. Programs treat it as fatal.
type ReflectionError struct {
	Path  string
	Stage device.Stage
	Err   error
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("failed to reflect %s shader %s: %v", e.Stage, e.Path, e.Err)
}

func (e *ReflectionError) Unwrap() error {
	return e.Err
}
