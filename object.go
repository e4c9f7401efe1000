package symflow

import (
	"fmt"
)

// SymbolicObject describes a contiguous memory region of the subject
// program: its start address, its size in bytes, and the element type
// pointers into it dereference. DerefExpr nests an object together with
// a snapshot of its concrete bytes.
type SymbolicObject struct {
	start Addr
	size  uint
	elem  Type
}

// NewSymbolicObject returns a descriptor for the region [start, start+size).
func NewSymbolicObject(start Addr, size uint, elem Type) *SymbolicObject {
	return &SymbolicObject{start: start, size: size, elem: elem}
}

// Start returns the region's start address.
func (o *SymbolicObject) Start() Addr { return o.start }

// Size returns the region's size in bytes.
func (o *SymbolicObject) Size() uint { return o.size }

// ElemType returns the type of the region's elements.
func (o *SymbolicObject) ElemType() Type { return o.elem }

// Contains returns true if addr falls within the region.
func (o *SymbolicObject) Contains(addr Addr) bool {
	return addr >= o.start && addr < o.start+Addr(o.size)
}

// Equals returns true if other describes the same region.
func (o *SymbolicObject) Equals(other *SymbolicObject) bool {
	return o.start == other.start && o.size == other.size && o.elem == other.elem
}

// Clone returns a copy of the descriptor.
func (o *SymbolicObject) Clone() *SymbolicObject {
	return &SymbolicObject{start: o.start, size: o.size, elem: o.elem}
}

// String returns a string representation of the region.
func (o *SymbolicObject) String() string {
	return fmt.Sprintf("(obj %#x %d)", o.start, o.size)
}
