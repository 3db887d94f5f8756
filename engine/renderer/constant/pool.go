// Package constant holds the CPU-side storage for named shader constants.
//
// Every variable a shader declares inside a constant buffer is backed by one Constant
// allocated from a Pool. Programs keep the returned IDs for their whole lifetime, so a
// Pool only ever grows during a run and is cleared once at engine exit.
package constant

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the pool size used when no capacity is configured. Shader hot reload
// allocates new slots without freeing the old ones, so the capacity bounds the number of
// reloads in a session as well as the number of loaded constants.
const DefaultCapacity = 4096

// ErrPoolExhausted is returned by Allocate when every slot of the pool is in use.
// It is a configuration error: the capacity must be raised.
var ErrPoolExhausted = errors.New("constant pool exhausted")

// ID identifies a Constant inside its Pool. IDs are handed out in increasing order.
type ID int

// Constant is a named, raw-byte-backed shader constant. The byte size of the constant
// is len(Data) and never changes after allocation.
type Constant struct {
	// Name is the variable name as declared by the shader.
	Name string

	// Data is the CPU copy of the value, owned exclusively by the pool slot.
	Data []byte
}

// Size returns the declared byte size of the constant.
func (c *Constant) Size() int {
	return len(c.Data)
}

// Pool is a fixed-capacity store of Constants.
// A Pool is not safe for concurrent use; it is written during load and reload phases
// and read on the render thread.
type Pool struct {
	slots []Constant
	next  int
}

// NewPool creates a Pool that can hold up to capacity constants.
// A non-positive capacity falls back to DefaultCapacity.
//
// Parameters:
//   - capacity: the maximum number of constants the pool can hold
//
// Returns:
//   - *Pool: the new, empty pool
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		slots: make([]Constant, capacity),
	}
}

// Allocate reserves the next unused slot, names it and zero-initializes a byte buffer of
// the requested size.
//
// Parameters:
//   - name: the constant's variable name
//   - size: the byte size of the constant
//
// Returns:
//   - ID: the identifier of the allocated slot
//   - error: ErrPoolExhausted when the pool is full, or an error for a negative size
func (p *Pool) Allocate(name string, size int) (ID, error) {
	if size < 0 {
		return -1, fmt.Errorf("constant %q: negative size %d", name, size)
	}
	if p.next >= len(p.slots) {
		return -1, fmt.Errorf("allocating %q (capacity %d): %w", name, len(p.slots), ErrPoolExhausted)
	}
	id := ID(p.next)
	p.slots[id] = Constant{
		Name: name,
		Data: make([]byte, size),
	}
	p.next++
	return id, nil
}

// Get returns a mutable reference to the constant stored at id.
// Asking for an id that was never allocated is a programming error and panics.
//
// Parameters:
//   - id: the identifier returned by Allocate
//
// Returns:
//   - *Constant: the constant stored in the slot
func (p *Pool) Get(id ID) *Constant {
	if id < 0 || int(id) >= p.next {
		panic(fmt.Sprintf("constant: id %d is not allocated (%d in use)", id, p.next))
	}
	return &p.slots[id]
}

// Len returns the number of allocated constants.
func (p *Pool) Len() int {
	return p.next
}

// Cap returns the fixed capacity of the pool.
func (p *Pool) Cap() int {
	return len(p.slots)
}

// Clear releases every allocated buffer and resets the allocation cursor.
// Only call this at teardown, once no Program holds IDs from this pool.
func (p *Pool) Clear() {
	for i := 0; i < p.next; i++ {
		p.slots[i] = Constant{}
	}
	p.next = 0
}
