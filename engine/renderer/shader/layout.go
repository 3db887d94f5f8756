package shader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
)

// Variable is one constant inside a constant buffer.
type Variable struct {
	Name   string
	Offset int
	Size   int
}

// ConstantBufferLayout is the reflected schema of one constant buffer: its stage slot, total
// byte size and variables in declaration order. It is built once per compile and never
// modified afterwards.
type ConstantBufferLayout struct {
	// Name is the buffer's declared name.
	Name string

	// Stage is the stage that declares the buffer.
	Stage device.Stage

	// Slot is the buffer's index among the stage's constant buffers, assigned from 0.
	Slot int

	// Group and Binding are the WGSL @group / @binding of the buffer.
	Group   uint32
	Binding uint32

	// Size is the total byte size of the buffer including padding.
	Size int

	// Variables are the buffer's constants in declaration order.
	Variables []Variable
}

// Validate checks that the variables are in ascending offset order, do not overlap, and end
// within the buffer.
//
// Returns:
//   - error: an ErrPackingMismatch wrapping a description of the first violation, or nil
func (l ConstantBufferLayout) Validate() error {
	end := 0
	for _, v := range l.Variables {
		if v.Size < 0 {
			return fmt.Errorf("buffer %q: variable %q has negative size %d: %w", l.Name, v.Name, v.Size, ErrPackingMismatch)
		}
		if v.Offset < end {
			return fmt.Errorf("buffer %q: variable %q at offset %d overlaps the previous variable ending at %d: %w", l.Name, v.Name, v.Offset, end, ErrPackingMismatch)
		}
		end = v.Offset + v.Size
		if end > l.Size {
			return fmt.Errorf("buffer %q: variable %q ends at %d beyond buffer size %d: %w", l.Name, v.Name, end, l.Size, ErrPackingMismatch)
		}
	}
	return nil
}

// Variable returns the variable with the given name.
func (l ConstantBufferLayout) Variable(name string) (Variable, bool) {
	for _, v := range l.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}
