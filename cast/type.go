// Package cast defines the typed C abstract syntax tree the external
// parser delivers to the instrumentation pass: resolved types with sizes
// and field offsets, side-effect-free expressions, and CFG-ready
// statements.
package cast

import (
	"fmt"
)

// TypeKind discriminates C types.
type TypeKind int

// C type kinds.
const (
	Void TypeKind = iota
	Bool
	Char
	UChar
	Short
	UShort
	Int
	UInt
	Long
	ULong
	LongLong
	ULongLong
	Enum
	Pointer
	Array
	Struct
	Union
	Func
)

var typeKindNames = [...]string{
	Void:      "void",
	Bool:      "_Bool",
	Char:      "char",
	UChar:     "unsigned char",
	Short:     "short",
	UShort:    "unsigned short",
	Int:       "int",
	UInt:      "unsigned int",
	Long:      "long",
	ULong:     "unsigned long",
	LongLong:  "long long",
	ULongLong: "unsigned long long",
	Enum:      "enum",
	Pointer:   "pointer",
	Array:     "array",
	Struct:    "struct",
	Union:     "union",
	Func:      "function",
}

// String returns the C spelling of the kind.
func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return fmt.Sprintf("TypeKind<%d>", int(k))
}

// Field is a struct or union member with its byte offset resolved.
type Field struct {
	Name   string
	Type   *Type
	Offset uint64
}

// Type is a resolved C type. Scalar sizes follow the LP64 data model;
// record sizes are resolved by the parser and carried in RecordSize.
type Type struct {
	Kind       TypeKind
	Elem       *Type    // Pointer and Array element type
	Len        int64    // Array length
	Fields     []*Field // Struct and Union members
	RecordSize uint64   // Struct and Union byte size, padding included
}

var scalarSizes = map[TypeKind]uint64{
	Bool: 1, Char: 1, UChar: 1,
	Short: 2, UShort: 2,
	Int: 4, UInt: 4, Enum: 4,
	Long: 8, ULong: 8, LongLong: 8, ULongLong: 8,
	Pointer: 8,
}

// Size returns the byte size of the type.
func (t *Type) Size() uint64 {
	switch t.Kind {
	case Array:
		return uint64(t.Len) * t.Elem.Size()
	case Struct, Union:
		return t.RecordSize
	default:
		return scalarSizes[t.Kind]
	}
}

// IsInteger returns true for the integer kinds, including _Bool and enum.
func (t *Type) IsInteger() bool {
	switch t.Kind {
	case Bool, Char, UChar, Short, UShort, Int, UInt, Long, ULong, LongLong, ULongLong, Enum:
		return true
	default:
		return false
	}
}

// IsPointer returns true for pointer types.
func (t *Type) IsPointer() bool { return t.Kind == Pointer }

// IsAggregate returns true for arrays, structs, and unions.
func (t *Type) IsAggregate() bool {
	switch t.Kind {
	case Array, Struct, Union:
		return true
	default:
		return false
	}
}

// IsSigned returns true for the signed integer kinds.
func (t *Type) IsSigned() bool {
	switch t.Kind {
	case Char, Short, Int, Long, LongLong, Enum:
		return true
	default:
		return false
	}
}

// FieldByName returns the named member of a struct or union.
func (t *Type) FieldByName(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// PointerTo returns the type of a pointer to elem.
func PointerTo(elem *Type) *Type {
	return &Type{Kind: Pointer, Elem: elem}
}

// ArrayOf returns the type of an n-element array of elem.
func ArrayOf(elem *Type, n int64) *Type {
	return &Type{Kind: Array, Elem: elem, Len: n}
}

// IntType returns the int type.
func IntType() *Type { return &Type{Kind: Int} }

// UIntType returns the unsigned int type.
func UIntType() *Type { return &Type{Kind: UInt} }

// ULongType returns the unsigned long type, which also models size_t
// and addresses.
func ULongType() *Type { return &Type{Kind: ULong} }

// CharType returns the char type.
func CharType() *Type { return &Type{Kind: Char} }

// VoidType returns the void type.
func VoidType() *Type { return &Type{Kind: Void} }

// Object is a named storage location: a global, a local, or a parameter.
type Object struct {
	Name   string
	Type   *Type
	Static bool
	Global bool
}
