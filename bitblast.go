package symflow

import (
	"fmt"
)

// Term is an opaque bit-vector or boolean term owned by a BitBlaster.
type Term interface{}

// BitBlaster constructs bit-vector terms for a constraint solver.
// Widths are in bits. Comparison results are boolean terms; BoolToBV
// converts them back into bit-vectors where an expression uses a
// comparison as an integer.
type BitBlaster interface {
	Const(width uint, value uint64) (Term, error)
	Var(v Var, width uint) (Term, error)

	// Read returns a width-bit read at addr within the region obj.
	Read(obj *SymbolicObject, addr Term, width uint) (Term, error)

	Neg(t Term) (Term, error)
	Not(t Term) (Term, error)
	BoolToBV(t Term, width uint) (Term, error)
	ZExt(t Term, width uint) (Term, error)
	SExt(t Term, width uint) (Term, error)
	Extract(t Term, high, low uint) (Term, error)
	Concat(msb, lsb Term) (Term, error)

	// Binary applies an arithmetic or bitwise operator; signed variants
	// must map to the signed solver primitive.
	Binary(op BinaryOp, lhs, rhs Term) (Term, error)

	// Compare applies a comparison operator and returns a boolean term.
	Compare(op CompareOp, lhs, rhs Term) (Term, error)
}

// BitBlast returns an 8·size-bit constant with the node's value.
// Values wider than 64 bits are zero-extended.
func (e *ConcreteExpr) BitBlast(ctx BitBlaster) (Term, error) {
	return blastConst(ctx, e.value, 8*e.size)
}

func blastConst(ctx BitBlaster, value Value, width uint) (Term, error) {
	if width <= 64 {
		return ctx.Const(width, uint64(value))
	}
	t, err := ctx.Const(64, uint64(value))
	if err != nil {
		return nil, err
	}
	return ctx.ZExt(t, width)
}

// BitBlast returns the bit-vector variable for the leaf's input variable.
func (e *BasicExpr) BitBlast(ctx BitBlaster) (Term, error) {
	return ctx.Var(e.variable, 8*e.size)
}

// BitBlast lowers the operator onto the lowered child.
func (e *UnaryExpr) BitBlast(ctx BitBlaster) (Term, error) {
	child, err := blastBV(ctx, e.child)
	if err != nil {
		return nil, err
	}
	childWidth := 8 * e.child.Size()
	width := 8 * e.size

	switch e.op {
	case NEGATE:
		return ctx.Neg(child)
	case BITWISE_NOT:
		return ctx.Not(child)
	case LOGICAL_NOT:
		zero, err := blastConst(ctx, 0, childWidth)
		if err != nil {
			return nil, err
		}
		isZero, err := ctx.Compare(EQ, child, zero)
		if err != nil {
			return nil, err
		}
		return ctx.BoolToBV(isZero, width)
	case UNSIGNED_CAST:
		return blastResize(ctx, child, childWidth, width, false)
	case SIGNED_CAST:
		return blastResize(ctx, child, childWidth, width, true)
	default:
		return nil, fmt.Errorf("symflow: bit-blast of unknown unary op: %s", e.op)
	}
}

// blastResize widens or truncates t from one width to another.
func blastResize(ctx BitBlaster, t Term, from, to uint, signed bool) (Term, error) {
	switch {
	case to == from:
		return t, nil
	case to < from:
		return ctx.Extract(t, to-1, 0)
	case signed:
		return ctx.SExt(t, to)
	default:
		return ctx.ZExt(t, to)
	}
}

// BitBlast lowers the operator onto the lowered operands. CONCAT maps to
// bit-vector concatenation with the high-order operand selected by the
// configured endianness; EXTRACT maps to bit-vector extraction scaled by
// eight; CONCRETE forgets its operands and lowers to a constant.
func (e *BinaryExpr) BitBlast(ctx BitBlaster) (Term, error) {
	width := 8 * e.size

	switch e.op {
	case CONCRETE:
		return blastConst(ctx, e.value, width)

	case CONCAT:
		left, err := blastBV(ctx, e.left)
		if err != nil {
			return nil, err
		}
		right, err := blastBV(ctx, e.right)
		if err != nil {
			return nil, err
		}
		if bigEndian {
			return ctx.Concat(left, right)
		}
		return ctx.Concat(right, left)

	case EXTRACT:
		idx, ok := e.right.(*ConcreteExpr)
		if !ok {
			return nil, fmt.Errorf("symflow: bit-blast of EXTRACT with symbolic index")
		}
		src, err := blastBV(ctx, e.left)
		if err != nil {
			return nil, err
		}
		low := 8 * uint(idx.Value())
		return ctx.Extract(src, low+width-1, low)

	default:
		left, err := blastBV(ctx, e.left)
		if err != nil {
			return nil, err
		}
		right, err := blastBV(ctx, e.right)
		if err != nil {
			return nil, err
		}
		return ctx.Binary(e.op, left, right)
	}
}

// BitBlast lowers the comparison and returns a boolean term.
func (e *CompareExpr) BitBlast(ctx BitBlaster) (Term, error) {
	left, err := blastBV(ctx, e.left)
	if err != nil {
		return nil, err
	}
	right, err := blastBV(ctx, e.right)
	if err != nil {
		return nil, err
	}
	return ctx.Compare(e.op, left, right)
}

// BitBlast lowers the dereference to a read within the region.
func (e *DerefExpr) BitBlast(ctx BitBlaster) (Term, error) {
	addr, err := blastBV(ctx, e.addr)
	if err != nil {
		return nil, err
	}
	return ctx.Read(e.obj, addr, 8*e.size)
}

// blastBV lowers e and coerces boolean comparison results back into a
// bit-vector of e's width.
func blastBV(ctx BitBlaster, e Expr) (Term, error) {
	t, err := e.BitBlast(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := e.(*CompareExpr); ok {
		return ctx.BoolToBV(t, 8*e.Size())
	}
	return t, nil
}
