// Package z3 lowers symflow expressions to Z3 bit-vector terms through
// an embedded Z3 solver.
package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/symflow/symflow"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdint.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure context implements the lowering interface.
var _ symflow.BitBlaster = (*Context)(nil)

// Context represents a Z3 context object that is used for constructing terms.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return ctx.err("Z3_del_context")
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// Const returns a width-bit bit-vector constant.
func (ctx *Context) Const(width uint, value uint64) (symflow.Term, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.ulonglong(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// Var returns the width-bit bit-vector constant named after v. Repeated
// lowerings of the same variable refer to the same solver constant.
func (ctx *Context) Var(v symflow.Var, width uint) (symflow.Term, error) {
	sort, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}

	cname := C.CString(varName(v))
	defer C.free(unsafe.Pointer(cname))
	nameSymbol := C.Z3_mk_string_symbol(ctx.raw, cname)
	return C.Z3_mk_const(ctx.raw, nameSymbol, sort), ctx.err("Z3_mk_const")
}

// Read returns a width-bit read at addr within obj, assembled from
// byte-wide selects on the region's array constant.
func (ctx *Context) Read(obj *symflow.SymbolicObject, addr symflow.Term, width uint) (symflow.Term, error) {
	array, err := ctx.makeArrayConst(obj)
	if err != nil {
		return nil, err
	}

	base, err := ctx.Const(64, obj.Start())
	if err != nil {
		return nil, err
	}
	offset := C.Z3_mk_bvsub(ctx.raw, addr.(C.Z3_ast), base.(C.Z3_ast))
	if err := ctx.err("Z3_mk_bvsub"); err != nil {
		return nil, err
	}

	// Assemble the read byte-by-byte, least significant byte first.
	var result C.Z3_ast
	for i := uint(0); i < width/8; i++ {
		delta, err := ctx.Const(64, uint64(i))
		if err != nil {
			return nil, err
		}
		index := C.Z3_mk_bvadd(ctx.raw, offset, delta.(C.Z3_ast))
		if err := ctx.err("Z3_mk_bvadd"); err != nil {
			return nil, err
		}
		b := C.Z3_mk_select(ctx.raw, array, index)
		if err := ctx.err("Z3_mk_select"); err != nil {
			return nil, err
		}
		if i == 0 {
			result = b
		} else {
			result = C.Z3_mk_concat(ctx.raw, b, result)
			if err := ctx.err("Z3_mk_concat"); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// Neg returns the two's complement negation of t.
func (ctx *Context) Neg(t symflow.Term) (symflow.Term, error) {
	return C.Z3_mk_bvneg(ctx.raw, t.(C.Z3_ast)), ctx.err("Z3_mk_bvneg")
}

// Not returns the bitwise complement of t.
func (ctx *Context) Not(t symflow.Term) (symflow.Term, error) {
	return C.Z3_mk_bvnot(ctx.raw, t.(C.Z3_ast)), ctx.err("Z3_mk_bvnot")
}

// BoolToBV converts a boolean term to a width-bit vector holding 0 or 1.
func (ctx *Context) BoolToBV(t symflow.Term, width uint) (symflow.Term, error) {
	one, err := ctx.Const(width, 1)
	if err != nil {
		return nil, err
	}
	zero, err := ctx.Const(width, 0)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, t.(C.Z3_ast), one.(C.Z3_ast), zero.(C.Z3_ast)), ctx.err("Z3_mk_ite")
}

// ZExt zero-extends t to width bits.
func (ctx *Context) ZExt(t symflow.Term, width uint) (symflow.Term, error) {
	return C.Z3_mk_zero_ext(ctx.raw, C.uint(width-ctx.bvSize(t.(C.Z3_ast))), t.(C.Z3_ast)), ctx.err("Z3_mk_zero_ext")
}

// SExt sign-extends t to width bits.
func (ctx *Context) SExt(t symflow.Term, width uint) (symflow.Term, error) {
	return C.Z3_mk_sign_ext(ctx.raw, C.uint(width-ctx.bvSize(t.(C.Z3_ast))), t.(C.Z3_ast)), ctx.err("Z3_mk_sign_ext")
}

// Extract returns bits high down to low of t.
func (ctx *Context) Extract(t symflow.Term, high, low uint) (symflow.Term, error) {
	return C.Z3_mk_extract(ctx.raw, C.uint(high), C.uint(low), t.(C.Z3_ast)), ctx.err("Z3_mk_extract")
}

// Concat concatenates msb and lsb.
func (ctx *Context) Concat(msb, lsb symflow.Term) (symflow.Term, error) {
	return C.Z3_mk_concat(ctx.raw, msb.(C.Z3_ast), lsb.(C.Z3_ast)), ctx.err("Z3_mk_concat")
}

// Binary applies an arithmetic or bitwise operator to lhs and rhs.
func (ctx *Context) Binary(op symflow.BinaryOp, lhs, rhs symflow.Term) (symflow.Term, error) {
	l, r := lhs.(C.Z3_ast), rhs.(C.Z3_ast)
	switch op {
	case symflow.ADD:
		return C.Z3_mk_bvadd(ctx.raw, l, r), ctx.err("Z3_mk_bvadd")
	case symflow.SUB:
		return C.Z3_mk_bvsub(ctx.raw, l, r), ctx.err("Z3_mk_bvsub")
	case symflow.MUL:
		return C.Z3_mk_bvmul(ctx.raw, l, r), ctx.err("Z3_mk_bvmul")
	case symflow.UDIV:
		return C.Z3_mk_bvudiv(ctx.raw, l, r), ctx.err("Z3_mk_bvudiv")
	case symflow.SDIV:
		return C.Z3_mk_bvsdiv(ctx.raw, l, r), ctx.err("Z3_mk_bvsdiv")
	case symflow.UMOD:
		return C.Z3_mk_bvurem(ctx.raw, l, r), ctx.err("Z3_mk_bvurem")
	case symflow.SMOD:
		return C.Z3_mk_bvsrem(ctx.raw, l, r), ctx.err("Z3_mk_bvsrem")
	case symflow.SHL:
		return C.Z3_mk_bvshl(ctx.raw, l, r), ctx.err("Z3_mk_bvshl")
	case symflow.LSHR:
		return C.Z3_mk_bvlshr(ctx.raw, l, r), ctx.err("Z3_mk_bvlshr")
	case symflow.ASHR:
		return C.Z3_mk_bvashr(ctx.raw, l, r), ctx.err("Z3_mk_bvashr")
	case symflow.AND:
		return C.Z3_mk_bvand(ctx.raw, l, r), ctx.err("Z3_mk_bvand")
	case symflow.OR:
		return C.Z3_mk_bvor(ctx.raw, l, r), ctx.err("Z3_mk_bvor")
	case symflow.XOR:
		return C.Z3_mk_bvxor(ctx.raw, l, r), ctx.err("Z3_mk_bvxor")
	default:
		return nil, fmt.Errorf("z3: unexpected binary operation: %s", op)
	}
}

// Compare applies a comparison operator to lhs and rhs, returning a
// boolean term.
func (ctx *Context) Compare(op symflow.CompareOp, lhs, rhs symflow.Term) (symflow.Term, error) {
	l, r := lhs.(C.Z3_ast), rhs.(C.Z3_ast)
	switch op {
	case symflow.EQ:
		return C.Z3_mk_eq(ctx.raw, l, r), ctx.err("Z3_mk_eq")
	case symflow.NEQ:
		eq := C.Z3_mk_eq(ctx.raw, l, r)
		if err := ctx.err("Z3_mk_eq"); err != nil {
			return nil, err
		}
		return C.Z3_mk_not(ctx.raw, eq), ctx.err("Z3_mk_not")
	case symflow.ULT:
		return C.Z3_mk_bvult(ctx.raw, l, r), ctx.err("Z3_mk_bvult")
	case symflow.ULE:
		return C.Z3_mk_bvule(ctx.raw, l, r), ctx.err("Z3_mk_bvule")
	case symflow.UGT:
		return C.Z3_mk_bvugt(ctx.raw, l, r), ctx.err("Z3_mk_bvugt")
	case symflow.UGE:
		return C.Z3_mk_bvuge(ctx.raw, l, r), ctx.err("Z3_mk_bvuge")
	case symflow.SLT:
		return C.Z3_mk_bvslt(ctx.raw, l, r), ctx.err("Z3_mk_bvslt")
	case symflow.SLE:
		return C.Z3_mk_bvsle(ctx.raw, l, r), ctx.err("Z3_mk_bvsle")
	case symflow.SGT:
		return C.Z3_mk_bvsgt(ctx.raw, l, r), ctx.err("Z3_mk_bvsgt")
	case symflow.SGE:
		return C.Z3_mk_bvsge(ctx.raw, l, r), ctx.err("Z3_mk_bvsge")
	default:
		return nil, fmt.Errorf("z3: unexpected comparison operation: %s", op)
	}
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

// bvSize returns the width of expr in bits. Panic if expr is not a bit-vector.
func (ctx *Context) bvSize(expr C.Z3_ast) uint {
	t := C.Z3_get_sort(ctx.raw, expr)
	if err := ctx.err("Z3_get_sort"); err != nil {
		panic(err)
	}
	sz := uint(C.Z3_get_bv_sort_size(ctx.raw, t))
	if err := ctx.err("Z3_get_bv_sort_size"); err != nil {
		panic(err)
	}
	return sz
}

// makeArrayConst returns the 64-to-8 bit array constant naming the region.
func (ctx *Context) makeArrayConst(obj *symflow.SymbolicObject) (C.Z3_ast, error) {
	domainSort := C.Z3_mk_bv_sort(ctx.raw, C.uint(64))
	if err := ctx.err("Z3_mk_bv_sort[domain]"); err != nil {
		return nil, err
	}
	rangeSort := C.Z3_mk_bv_sort(ctx.raw, C.uint(8))
	if err := ctx.err("Z3_mk_bv_sort[range]"); err != nil {
		return nil, err
	}
	arraySort := C.Z3_mk_array_sort(ctx.raw, domainSort, rangeSort)
	if err := ctx.err("Z3_mk_array_sort"); err != nil {
		return nil, err
	}

	cname := C.CString(objectName(obj))
	defer C.free(unsafe.Pointer(cname))
	nameSymbol := C.Z3_mk_string_symbol(ctx.raw, cname)

	return C.Z3_mk_const(ctx.raw, nameSymbol, arraySort), ctx.err("Z3_mk_const")
}

func (ctx *Context) astToString(ast C.Z3_ast) string {
	return C.GoString(C.Z3_ast_to_string(ctx.raw, ast))
}

func (ctx *Context) modelToString(model C.Z3_model) string {
	return C.GoString(C.Z3_model_to_string(ctx.raw, model))
}

func varName(v symflow.Var) string {
	return fmt.Sprintf("x%d", v)
}

func objectName(obj *symflow.SymbolicObject) string {
	return fmt.Sprintf("M%x", obj.Start())
}

// Solver checks path constraints with an embedded Z3 solver and extracts
// witness values for symbolic variables.
type Solver struct {
	ctx   *Context
	stats Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Solve checks the conjunction of constraints. On satisfiability it
// returns a value for every variable in vars.
func (s *Solver) Solve(constraints []symflow.Expr, vars map[symflow.Var]symflow.Type) (satisfiable bool, values map[symflow.Var]symflow.Value, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return false, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	// Assert constraints.
	for _, constraint := range constraints {
		term, err := constraint.BitBlast(s.ctx)
		if err != nil {
			return false, nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, term.(C.Z3_ast))
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return false, nil, err
		}
	}

	// Check equations with the solver.
	// Exit immediately if unsatisfiable or the solver encountered an error.
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return false, nil, err
	} else if ret == C.Z3_L_FALSE {
		return false, nil, nil
	} else if ret == C.Z3_L_UNDEF {
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return false, nil, ErrSolverTimeout
		case strings.Contains(reason, "canceled"):
			return false, nil, ErrSolverCanceled
		default:
			return false, nil, fmt.Errorf("z3: %s", reason)
		}
	} else if len(vars) == 0 {
		return true, nil, nil // no symbolics, ignore model
	}

	// Calculate a model for the given formula.
	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return true, nil, err
	}

	// Fetch a witness for every symbolic variable.
	values = make(map[symflow.Var]symflow.Value, len(vars))
	for v, ty := range vars {
		value, err := s.evalVar(model, v, ty)
		if err != nil {
			return true, nil, err
		}
		values[v] = value
	}
	return true, values, nil
}

// evalVar evaluates a single variable against the model.
func (s *Solver) evalVar(model C.Z3_model, v symflow.Var, ty symflow.Type) (symflow.Value, error) {
	term, err := s.ctx.Var(v, 8*ty.Size())
	if err != nil {
		return 0, err
	}

	var evaled C.Z3_ast
	C.Z3_model_eval(s.ctx.raw, model, term.(C.Z3_ast), C.bool(true), &evaled)
	if err := s.ctx.err("Z3_model_eval"); err != nil {
		return 0, err
	}

	var value C.uint64_t
	C.Z3_get_numeral_uint64(s.ctx.raw, evaled, &value)
	if err := s.ctx.err("Z3_get_numeral_uint64"); err != nil {
		return 0, err
	}
	return symflow.Value(value), nil
}

// Solver failure modes surfaced from Z3's unknown result.
var (
	ErrSolverTimeout  = &SolverError{"timeout"}
	ErrSolverCanceled = &SolverError{"canceled"}
)

// SolverError represents an inconclusive solver result.
type SolverError struct {
	Reason string
}

// Error returns the error as a string.
func (e *SolverError) Error() string {
	return fmt.Sprintf("z3: solver %s", e.Reason)
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Stats tracks aggregate solver usage.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
