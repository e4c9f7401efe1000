// Package instrument rewrites typed C syntax trees into a linear stream
// of calls against the concolic runtime's symbolic operand stack, and
// records branch pairs and per-function control-flow graphs along the
// way. Identifiers stay unique across translation units through
// disk-backed counters; the enclosing build must serialize invocations.
package instrument

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/cast"
)

// Runtime entry points emitted by the pass. Names, argument types, and
// argument order are contracts with the runtime library. Every helper is
// itself skip-annotated so the pass never instruments its own calls.
const (
	FnInit         = "__CrestInit"
	FnRegGlobal    = "__CrestRegGlobal"
	FnLoad         = "__CrestLoad"
	FnLoadAggr     = "__CrestLoadAggr"
	FnDeref        = "__CrestDeref"
	FnStore        = "__CrestStore"
	FnWrite        = "__CrestWrite"
	FnClearStack   = "__CrestClearStack"
	FnApply1       = "__CrestApply1"
	FnApply2       = "__CrestApply2"
	FnPtrApply2    = "__CrestPtrApply2"
	FnBranch       = "__CrestBranch"
	FnCall         = "__CrestCall"
	FnReturn       = "__CrestReturn"
	FnHandleReturn = "__CrestHandleReturn"
)

// runtimeFuncs lists every runtime entry point.
var runtimeFuncs = []string{
	FnInit, FnRegGlobal, FnLoad, FnLoadAggr, FnDeref, FnStore, FnWrite,
	FnClearStack, FnApply1, FnApply2, FnPtrApply2, FnBranch, FnCall,
	FnReturn, FnHandleReturn,
}

// Operator codes passed to __CrestApply1 and __CrestApply2. The runtime
// resolves signedness from the accompanying type code. OpUnknown marks a
// C operator the pass cannot model; the runtime keeps only the concrete
// result for that sub-expression.
const (
	opAdd  = 0
	opSub  = 1
	opMul  = 2
	opDiv  = 3
	opMod  = 4
	opShl  = 5
	opShr  = 6
	opLt   = 7
	opGt   = 8
	opLe   = 9
	opGe   = 10
	opEq   = 11
	opNe   = 12
	opBAnd = 13
	opBXor = 14
	opBOr  = 15
	opLAnd = 16
	opLOr  = 17

	OpUnknown = 18

	opNeg  = 19
	opBNot = 20
	opLNot = 21

	OpCast = 22
)

var binaryOpCodes = map[cast.BinaryOp]int{
	cast.Add:    opAdd,
	cast.Sub:    opSub,
	cast.Mul:    opMul,
	cast.Div:    opDiv,
	cast.Mod:    opMod,
	cast.Shl:    opShl,
	cast.Shr:    opShr,
	cast.Lt:     opLt,
	cast.Gt:     opGt,
	cast.Le:     opLe,
	cast.Ge:     opGe,
	cast.Eq:     opEq,
	cast.Ne:     opNe,
	cast.BitAnd: opBAnd,
	cast.BitXor: opBXor,
	cast.BitOr:  opBOr,
	cast.LogicalAnd: opLAnd,
	cast.LogicalOr:  opLOr,
}

// binaryOpCode returns the wire code for a C binary operator, or
// OpUnknown for operators the runtime cannot model symbolically.
func binaryOpCode(op cast.BinaryOp) int {
	if code, ok := binaryOpCodes[op]; ok {
		return code
	}
	return OpUnknown
}

var unaryOpCodes = map[cast.UnaryOp]int{
	cast.Neg:        opNeg,
	cast.BitNot:     opBNot,
	cast.LogicalNot: opLNot,
}

// unaryOpCode returns the wire code for a C unary operator.
func unaryOpCode(op cast.UnaryOp) (int, bool) {
	code, ok := unaryOpCodes[op]
	return code, ok
}

// RuntimeBinaryOp translates an Apply2 wire code into the expression
// algebra's binary operator, choosing the signed variant from the type
// code. Codes with no binary counterpart report false.
func RuntimeBinaryOp(code int, ty symflow.Type) (symflow.BinaryOp, bool) {
	signed := ty.IsSigned()
	switch code {
	case opAdd:
		return symflow.ADD, true
	case opSub:
		return symflow.SUB, true
	case opMul:
		return symflow.MUL, true
	case opDiv:
		if signed {
			return symflow.SDIV, true
		}
		return symflow.UDIV, true
	case opMod:
		if signed {
			return symflow.SMOD, true
		}
		return symflow.UMOD, true
	case opShl:
		return symflow.SHL, true
	case opShr:
		if signed {
			return symflow.ASHR, true
		}
		return symflow.LSHR, true
	case opBAnd:
		return symflow.AND, true
	case opBOr:
		return symflow.OR, true
	case opBXor:
		return symflow.XOR, true
	case OpUnknown:
		return symflow.CONCRETE, true
	default:
		return 0, false
	}
}

// RuntimeCompareOp translates an Apply2 wire code into the expression
// algebra's comparison operator, choosing the signed variant from the
// type code. Non-comparison codes report false.
func RuntimeCompareOp(code int, ty symflow.Type) (symflow.CompareOp, bool) {
	signed := ty.IsSigned()
	switch code {
	case opEq:
		return symflow.EQ, true
	case opNe:
		return symflow.NEQ, true
	case opLt:
		if signed {
			return symflow.SLT, true
		}
		return symflow.ULT, true
	case opGt:
		if signed {
			return symflow.SGT, true
		}
		return symflow.UGT, true
	case opLe:
		if signed {
			return symflow.SLE, true
		}
		return symflow.ULE, true
	case opGe:
		if signed {
			return symflow.SGE, true
		}
		return symflow.UGE, true
	default:
		return 0, false
	}
}

// Pointer operator codes passed to __CrestPtrApply2.
const (
	addPI = symflow.ADD_PI
	subPP = symflow.SUB_PP
)

// pointerOpCode returns the PtrApply2 code for pointer-plus-integer or
// pointer-minus-integer, with the signed variant chosen by the integer
// operand's type.
func pointerOpCode(op cast.BinaryOp, operand *cast.Type) symflow.PointerOp {
	signed := operand.IsSigned()
	if op == cast.Sub {
		if signed {
			return symflow.S_SUB_PI
		}
		return symflow.SUB_PI
	}
	if signed {
		return symflow.S_ADD_PI
	}
	return symflow.ADD_PI
}

// toType maps a resolved C type onto the runtime type code. Pointers map
// to unsigned long, enums to int, and aggregates to the single aggregate
// code; their size travels separately.
func toType(t *cast.Type) (symflow.Type, error) {
	switch t.Kind {
	case cast.Bool:
		return symflow.TypeBoolean, nil
	case cast.Char:
		return symflow.TypeChar, nil
	case cast.UChar:
		return symflow.TypeUChar, nil
	case cast.Short:
		return symflow.TypeShort, nil
	case cast.UShort:
		return symflow.TypeUShort, nil
	case cast.Int, cast.Enum:
		return symflow.TypeInt, nil
	case cast.UInt:
		return symflow.TypeUInt, nil
	case cast.Long:
		return symflow.TypeLong, nil
	case cast.ULong, cast.Pointer:
		return symflow.TypeULong, nil
	case cast.LongLong:
		return symflow.TypeLongLong, nil
	case cast.ULongLong:
		return symflow.TypeULongLong, nil
	case cast.Array, cast.Struct, cast.Union:
		return symflow.TypeStruct, nil
	default:
		return 0, fmt.Errorf("instrument: no type code for %s", t.Kind)
	}
}

// isSymbolicType reports whether values of the type flow through the
// symbolic operand stack. Integers and pointers do; aggregates move as
// opaque blobs; void and function types do not.
func isSymbolicType(t *cast.Type) bool {
	return t.IsInteger() || t.IsPointer()
}
