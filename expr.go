package symflow

import (
	"bytes"
	"fmt"
)

// Expr represents an immutable symbolic expression. Every node carries
// the size of the value it denotes, in bytes, and the concrete witness
// value observed when the subject program executed. Factories record
// the witness; they never re-evaluate the tree.
type Expr interface {
	// Size returns the width of the expression in bytes.
	Size() uint

	// Value returns the concrete witness, truncated to Size bytes.
	Value() Value

	// IsConcrete returns true only for ConcreteExpr nodes.
	IsConcrete() bool

	// Equals returns true if other has the same structure. Concrete
	// equality disregards sub-structure.
	Equals(other Expr) bool

	// AppendVars adds every symbolic variable reachable through the
	// tree's leaves to vars.
	AppendVars(vars map[Var]struct{})

	// DependsOn returns true if any leaf references a variable in vars.
	DependsOn(vars map[Var]Type) bool

	// Clone returns a deep copy of the expression.
	Clone() Expr

	// String returns an s-expression form of the tree.
	String() string

	// BitBlast lowers the expression to a bit-vector term.
	BitBlast(ctx BitBlaster) (Term, error)

	// writeTo appends the node's wire form to buf.
	writeTo(buf *bytes.Buffer)
}

// truncValue truncates v to size bytes.
func truncValue(v Value, size uint) Value {
	if size >= 8 {
		return v
	}
	return v & (1<<(8*size) - 1)
}

// ConcreteExpr is a concrete bit-vector with no symbolic structure.
type ConcreteExpr struct {
	size  uint
	value Value
}

// NewConcreteExpr returns a concrete expression of the type's size.
func NewConcreteExpr(ty Type, val Value) *ConcreteExpr {
	return NewConcreteExprSized(ty.Size(), val)
}

// NewConcreteExprSized returns a concrete expression of an explicit size.
func NewConcreteExprSized(size uint, val Value) *ConcreteExpr {
	return &ConcreteExpr{size: size, value: truncValue(val, size)}
}

func (e *ConcreteExpr) Size() uint       { return e.size }
func (e *ConcreteExpr) Value() Value     { return e.value }
func (e *ConcreteExpr) IsConcrete() bool { return true }

func (e *ConcreteExpr) AppendVars(vars map[Var]struct{}) {}

func (e *ConcreteExpr) DependsOn(vars map[Var]Type) bool { return false }

// Equals returns true if other is concrete with the same size and value.
func (e *ConcreteExpr) Equals(other Expr) bool {
	return other.IsConcrete() && e.size == other.Size() && e.value == other.Value()
}

// Clone returns a copy of the expression.
func (e *ConcreteExpr) Clone() Expr {
	return &ConcreteExpr{size: e.size, value: e.value}
}

// String returns the string representation of the expression.
func (e *ConcreteExpr) String() string {
	return fmt.Sprintf("(const %d %d)", e.value, e.size)
}

// BasicExpr is a leaf referencing a symbolic input variable.
type BasicExpr struct {
	size     uint
	value    Value
	variable Var
}

// NewBasicExpr returns a leaf for variable v with witness val.
func NewBasicExpr(size uint, val Value, v Var) *BasicExpr {
	return &BasicExpr{size: size, value: truncValue(val, size), variable: v}
}

func (e *BasicExpr) Size() uint       { return e.size }
func (e *BasicExpr) Value() Value     { return e.value }
func (e *BasicExpr) IsConcrete() bool { return false }

// Variable returns the symbolic input variable the leaf references.
func (e *BasicExpr) Variable() Var { return e.variable }

func (e *BasicExpr) AppendVars(vars map[Var]struct{}) {
	vars[e.variable] = struct{}{}
}

func (e *BasicExpr) DependsOn(vars map[Var]Type) bool {
	_, ok := vars[e.variable]
	return ok
}

func (e *BasicExpr) Equals(other Expr) bool {
	o, ok := other.(*BasicExpr)
	return ok && e.size == o.size && e.value == o.value && e.variable == o.variable
}

func (e *BasicExpr) Clone() Expr {
	return &BasicExpr{size: e.size, value: e.value, variable: e.variable}
}

// String returns the string representation of the expression.
func (e *BasicExpr) String() string {
	return fmt.Sprintf("(x%d %d)", e.variable, e.size)
}

// UnaryExpr applies a unary operator to a child expression.
type UnaryExpr struct {
	size  uint
	value Value
	op    UnaryOp
	child Expr
}

// NewUnaryExpr returns a unary node of the type's size with witness val.
func NewUnaryExpr(ty Type, val Value, op UnaryOp, child Expr) *UnaryExpr {
	return newUnaryExprSized(ty.Size(), val, op, child)
}

func newUnaryExprSized(size uint, val Value, op UnaryOp, child Expr) *UnaryExpr {
	return &UnaryExpr{size: size, value: truncValue(val, size), op: op, child: child}
}

func (e *UnaryExpr) Size() uint       { return e.size }
func (e *UnaryExpr) Value() Value     { return e.value }
func (e *UnaryExpr) IsConcrete() bool { return false }

// Op returns the unary operator.
func (e *UnaryExpr) Op() UnaryOp { return e.op }

// Child returns the operand.
func (e *UnaryExpr) Child() Expr { return e.child }

func (e *UnaryExpr) AppendVars(vars map[Var]struct{}) {
	e.child.AppendVars(vars)
}

func (e *UnaryExpr) DependsOn(vars map[Var]Type) bool {
	return e.child.DependsOn(vars)
}

func (e *UnaryExpr) Equals(other Expr) bool {
	o, ok := other.(*UnaryExpr)
	return ok && e.size == o.size && e.value == o.value && e.op == o.op &&
		e.child.Equals(o.child)
}

func (e *UnaryExpr) Clone() Expr {
	return &UnaryExpr{size: e.size, value: e.value, op: e.op, child: e.child.Clone()}
}

// String returns the string representation of the expression.
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("(%s %s)", e.op, e.child)
}

// BinaryExpr applies a binary operator to two child expressions.
type BinaryExpr struct {
	size  uint
	value Value
	op    BinaryOp
	left  Expr
	right Expr
}

// NewBinaryExpr returns a binary node of the type's size with witness val.
func NewBinaryExpr(ty Type, val Value, op BinaryOp, left, right Expr) *BinaryExpr {
	return NewBinaryExprSized(ty.Size(), val, op, left, right)
}

// NewBinaryExprSized returns a binary node of an explicit size.
func NewBinaryExprSized(size uint, val Value, op BinaryOp, left, right Expr) *BinaryExpr {
	return &BinaryExpr{size: size, value: truncValue(val, size), op: op, left: left, right: right}
}

// NewBinaryExprValue returns a binary node whose right operand is the
// concrete value rval of the same type.
func NewBinaryExprValue(ty Type, val Value, op BinaryOp, left Expr, rval Value) *BinaryExpr {
	return NewBinaryExpr(ty, val, op, left, NewConcreteExpr(ty, rval))
}

func (e *BinaryExpr) Size() uint       { return e.size }
func (e *BinaryExpr) Value() Value     { return e.value }
func (e *BinaryExpr) IsConcrete() bool { return false }

// Op returns the binary operator.
func (e *BinaryExpr) Op() BinaryOp { return e.op }

// Left returns the left operand.
func (e *BinaryExpr) Left() Expr { return e.left }

// Right returns the right operand.
func (e *BinaryExpr) Right() Expr { return e.right }

func (e *BinaryExpr) AppendVars(vars map[Var]struct{}) {
	e.left.AppendVars(vars)
	e.right.AppendVars(vars)
}

func (e *BinaryExpr) DependsOn(vars map[Var]Type) bool {
	return e.left.DependsOn(vars) || e.right.DependsOn(vars)
}

func (e *BinaryExpr) Equals(other Expr) bool {
	o, ok := other.(*BinaryExpr)
	return ok && e.size == o.size && e.value == o.value && e.op == o.op &&
		e.left.Equals(o.left) && e.right.Equals(o.right)
}

func (e *BinaryExpr) Clone() Expr {
	return &BinaryExpr{size: e.size, value: e.value, op: e.op, left: e.left.Clone(), right: e.right.Clone()}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.op, e.left, e.right)
}

// CompareExpr applies a comparison operator to two child expressions.
// Comparison results are one byte wide with value 0 or 1.
type CompareExpr struct {
	size  uint
	value Value
	op    CompareOp
	left  Expr
	right Expr
}

// NewCompareExpr returns a comparison node with witness val.
func NewCompareExpr(val Value, op CompareOp, left, right Expr) *CompareExpr {
	return newCompareExprSized(1, val, op, left, right)
}

func newCompareExprSized(size uint, val Value, op CompareOp, left, right Expr) *CompareExpr {
	return &CompareExpr{size: size, value: truncValue(val, size), op: op, left: left, right: right}
}

func (e *CompareExpr) Size() uint       { return e.size }
func (e *CompareExpr) Value() Value     { return e.value }
func (e *CompareExpr) IsConcrete() bool { return false }

// Op returns the comparison operator.
func (e *CompareExpr) Op() CompareOp { return e.op }

// Left returns the left operand.
func (e *CompareExpr) Left() Expr { return e.left }

// Right returns the right operand.
func (e *CompareExpr) Right() Expr { return e.right }

// Negate returns a comparison for the complementary operator with the
// complementary witness.
func (e *CompareExpr) Negate() *CompareExpr {
	return newCompareExprSized(e.size, 1-e.value, NegateCompareOp(e.op), e.left, e.right)
}

func (e *CompareExpr) AppendVars(vars map[Var]struct{}) {
	e.left.AppendVars(vars)
	e.right.AppendVars(vars)
}

func (e *CompareExpr) DependsOn(vars map[Var]Type) bool {
	return e.left.DependsOn(vars) || e.right.DependsOn(vars)
}

func (e *CompareExpr) Equals(other Expr) bool {
	o, ok := other.(*CompareExpr)
	return ok && e.size == o.size && e.value == o.value && e.op == o.op &&
		e.left.Equals(o.left) && e.right.Equals(o.right)
}

func (e *CompareExpr) Clone() Expr {
	return &CompareExpr{size: e.size, value: e.value, op: e.op, left: e.left.Clone(), right: e.right.Clone()}
}

// String returns the string representation of the expression.
func (e *CompareExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.op, e.left, e.right)
}

// DerefExpr records a read of Size bytes at a possibly-symbolic address
// within a memory region, together with a snapshot of the region's
// concrete bytes at evaluation time.
type DerefExpr struct {
	size  uint
	value Value
	obj   *SymbolicObject
	addr  Expr
	bytes []byte
}

// NewDerefExpr returns a dereference through a symbolic address.
// snapshot holds the region's concrete bytes and must be obj.Size() long.
func NewDerefExpr(ty Type, val Value, obj *SymbolicObject, addr Expr, snapshot []byte) *DerefExpr {
	assert(uint(len(snapshot)) == obj.Size(), "deref snapshot size mismatch: %d != %d", len(snapshot), obj.Size())
	b := make([]byte, len(snapshot))
	copy(b, snapshot)
	return &DerefExpr{size: ty.Size(), value: truncValue(val, ty.Size()), obj: obj.Clone(), addr: addr, bytes: b}
}

// NewConstDerefExpr returns a dereference through a concrete address.
func NewConstDerefExpr(ty Type, val Value, obj *SymbolicObject, addr Addr, snapshot []byte) *DerefExpr {
	return NewDerefExpr(ty, val, obj, NewConcreteExpr(TypeULong, Value(addr)), snapshot)
}

func (e *DerefExpr) Size() uint       { return e.size }
func (e *DerefExpr) Value() Value     { return e.value }
func (e *DerefExpr) IsConcrete() bool { return false }

// Object returns the descriptor of the dereferenced region.
func (e *DerefExpr) Object() *SymbolicObject { return e.obj }

// Address returns the address expression.
func (e *DerefExpr) Address() Expr { return e.addr }

// Snapshot returns the concrete bytes of the region at evaluation time.
func (e *DerefExpr) Snapshot() []byte { return e.bytes }

func (e *DerefExpr) AppendVars(vars map[Var]struct{}) {
	e.addr.AppendVars(vars)
}

func (e *DerefExpr) DependsOn(vars map[Var]Type) bool {
	return e.addr.DependsOn(vars)
}

func (e *DerefExpr) Equals(other Expr) bool {
	o, ok := other.(*DerefExpr)
	return ok && e.size == o.size && e.value == o.value &&
		e.obj.Equals(o.obj) && e.addr.Equals(o.addr) && bytes.Equal(e.bytes, o.bytes)
}

func (e *DerefExpr) Clone() Expr {
	b := make([]byte, len(e.bytes))
	copy(b, e.bytes)
	return &DerefExpr{size: e.size, value: e.value, obj: e.obj.Clone(), addr: e.addr.Clone(), bytes: b}
}

// String returns the string representation of the expression.
func (e *DerefExpr) String() string {
	return fmt.Sprintf("(deref %s %s %d)", e.obj, e.addr, e.size)
}

// Concat returns a CONCAT node joining msb and lsb, where msb holds the
// high-order bytes. The node's value is (msb.Value << 8*lsb.Size) | lsb.Value.
// Operand order in the node depends on the configured endianness: the
// high-order operand comes first on big-endian targets, the low-order
// operand first on little-endian ones. This is the only place where
// endianness shapes the tree.
func Concat(msb, lsb Expr) *BinaryExpr {
	size := msb.Size() + lsb.Size()
	val := msb.Value()<<(8*lsb.Size()) | truncValue(lsb.Value(), lsb.Size())
	if bigEndian {
		return NewBinaryExprSized(size, val, CONCAT, msb, lsb)
	}
	return NewBinaryExprSized(size, val, CONCAT, lsb, msb)
}

// ExtractBytes returns an EXTRACT node slicing n bytes from e starting
// at byte i, which must be n-aligned. On little-endian targets byte 0
// is the least significant; on big-endian targets the index counts from
// the most significant end. Concrete operands fold to a ConcreteExpr.
//
// Little-endian: ExtractBytes(0xABCDEF12, 2, 2) => 0xABCD.
// Big-endian:    ExtractBytes(0xABCDEF12, 2, 2) => 0xEF12.
func ExtractBytes(e Expr, i, n uint) Expr {
	assert(i%n == 0, "extract index %d not aligned to %d", i, n)
	if bigEndian {
		i = e.Size() - i - n
	}

	val := truncValue(e.Value()>>(8*i), n)
	if e.IsConcrete() {
		return NewConcreteExprSized(n, val)
	}
	idx := NewConcreteExpr(TypeULong, Value(i))
	return NewBinaryExprSized(n, val, EXTRACT, e, idx)
}

// ExtractBytesValue slices n bytes from a concrete value of the given
// size, starting at byte i, which must be n-aligned.
func ExtractBytesValue(size uint, value Value, i, n uint) *ConcreteExpr {
	assert(i%n == 0, "extract index %d not aligned to %d", i, n)
	if bigEndian {
		i = size - i - n
	}
	return NewConcreteExprSized(n, value>>(8*i))
}
