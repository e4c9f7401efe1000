package instrument

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/cast"
)

// runtimeObjects resolves runtime entry point names to call targets.
var runtimeObjects = func() map[string]*cast.Object {
	m := make(map[string]*cast.Object, len(runtimeFuncs))
	for _, name := range runtimeFuncs {
		m[name] = &cast.Object{Name: name, Type: &cast.Type{Kind: cast.Func}, Global: true}
	}
	return m
}()

// visitor compiles C expressions and statements into calls against the
// runtime's symbolic operand stack. The order of emitted calls is the
// order of stack operations: every call pushes one value, folds the top
// of the stack, or pops everything with a side effect.
type visitor struct {
	counters *Counters
	rec      *Recorder
	skip     map[string]bool
}

// emit builds one runtime call, assigning it the next instrumentation id
// as its first argument.
func (v *visitor) emit(name string, args ...cast.Expr) *cast.CallStmt {
	id := v.counters.NextID()
	callArgs := make([]cast.Expr, 0, len(args)+1)
	callArgs = append(callArgs, &cast.Const{T: cast.UIntType(), Val: int64(id)})
	callArgs = append(callArgs, args...)
	return &cast.CallStmt{Fn: runtimeObjects[name], Args: callArgs}
}

func nullAddr() cast.Expr {
	return &cast.Const{T: cast.ULongType(), Val: 0}
}

func addrOf(lv cast.Expr) cast.Expr {
	return &cast.AddrOf{X: cast.CloneExpr(lv)}
}

// typeCode returns the runtime type code argument for t.
func typeCode(t *cast.Type) (cast.Expr, error) {
	code, err := toType(t)
	if err != nil {
		return nil, err
	}
	return &cast.Const{T: cast.IntType(), Val: int64(code)}, nil
}

func opConst(code int) cast.Expr {
	return &cast.Const{T: cast.IntType(), Val: int64(code)}
}

func typeConst(code symflow.Type) cast.Expr {
	return &cast.Const{T: cast.IntType(), Val: int64(code)}
}

func sizeConst(n uint64) cast.Expr {
	return &cast.Const{T: cast.ULongType(), Val: int64(n)}
}

// symbolicAddr reports whether the lvalue's address itself can depend on
// a symbolic input: a dereference, a pointer subscript, or an array
// subscript with a non-constant index.
func symbolicAddr(lv cast.Expr) bool {
	switch lv := lv.(type) {
	case *cast.Deref:
		return true
	case *cast.Index:
		if cast.TypeOf(lv.X).IsPointer() {
			return true
		}
		if _, ok := lv.Idx.(*cast.Const); !ok {
			return true
		}
		return symbolicAddr(lv.X)
	case *cast.FieldSel:
		return symbolicAddr(lv.X)
	default:
		return false
	}
}

// instrExpr emits the call sequence that reproduces the evaluation of e
// on the symbolic operand stack, leaving one value on top.
func (v *visitor) instrExpr(e cast.Expr) ([]cast.Stmt, error) {
	switch e := e.(type) {
	case *cast.Const:
		code, err := typeCode(e.T)
		if err != nil {
			return nil, err
		}
		return []cast.Stmt{v.emit(FnLoad, nullAddr(), code, cast.CloneExpr(e))}, nil

	case *cast.SizeOf:
		code, err := typeCode(e.T)
		if err != nil {
			return nil, err
		}
		return []cast.Stmt{v.emit(FnLoad, nullAddr(), code, &cast.Const{T: e.T, Val: e.Val})}, nil

	case *cast.Ident, *cast.FieldSel, *cast.Index, *cast.Deref:
		return v.instrRead(e)

	case *cast.Unary:
		code, ok := unaryOpCode(e.Op)
		if !ok {
			return nil, fmt.Errorf("instrument: unknown unary operator %s", e.Op)
		}
		seq, err := v.instrExpr(e.X)
		if err != nil {
			return nil, err
		}
		tc, err := typeCode(e.T)
		if err != nil {
			return nil, err
		}
		return append(seq, v.emit(FnApply1, opConst(code), tc, cast.CloneExpr(e))), nil

	case *cast.Conv:
		seq, err := v.instrExpr(e.X)
		if err != nil {
			return nil, err
		}
		tc, err := typeCode(e.T)
		if err != nil {
			return nil, err
		}
		return append(seq, v.emit(FnApply1, opConst(OpCast), tc, cast.CloneExpr(e))), nil

	case *cast.AddrOf:
		return v.computeAddr(e.X)

	case *cast.Binary:
		return v.instrBinary(e)

	default:
		return nil, fmt.Errorf("instrument: cannot instrument expression %T", e)
	}
}

// instrRead emits the sequence for reading an lvalue.
func (v *visitor) instrRead(lv cast.Expr) ([]cast.Stmt, error) {
	t := cast.TypeOf(lv)

	// Aggregates move as opaque sized blobs.
	if t.IsAggregate() {
		code, err := typeCode(t)
		if err != nil {
			return nil, err
		}
		return []cast.Stmt{v.emit(FnLoadAggr, addrOf(lv), code, sizeConst(t.Size()))}, nil
	}

	code, err := typeCode(t)
	if err != nil {
		return nil, err
	}

	if symbolicAddr(lv) {
		seq, err := v.computeAddr(lv)
		if err != nil {
			return nil, err
		}
		return append(seq, v.emit(FnDeref, addrOf(lv), code, cast.CloneExpr(lv))), nil
	}
	return []cast.Stmt{v.emit(FnLoad, addrOf(lv), code, cast.CloneExpr(lv))}, nil
}

// instrBinary emits the sequence for a binary operator. Pointer
// arithmetic routes through PtrApply2 with the element size; everything
// else folds the top two stack values with Apply2. The left operand's
// trace fully precedes the right operand's.
func (v *visitor) instrBinary(e *cast.Binary) ([]cast.Stmt, error) {
	seq, err := v.instrExpr(e.X)
	if err != nil {
		return nil, err
	}
	right, err := v.instrExpr(e.Y)
	if err != nil {
		return nil, err
	}
	seq = append(seq, right...)

	xt, yt := cast.TypeOf(e.X), cast.TypeOf(e.Y)

	// p - q
	if e.Op == cast.Sub && xt.IsPointer() && yt.IsPointer() {
		return append(seq, v.emit(FnPtrApply2,
			opConst(int(subPP)), sizeConst(xt.Elem.Size()), cast.CloneExpr(e))), nil
	}

	// p + i, p - i, i + p
	if xt.IsPointer() && (e.Op == cast.Add || e.Op == cast.Sub) {
		return append(seq, v.emit(FnPtrApply2,
			opConst(int(pointerOpCode(e.Op, yt))), sizeConst(xt.Elem.Size()), cast.CloneExpr(e))), nil
	}
	if yt.IsPointer() && e.Op == cast.Add {
		return append(seq, v.emit(FnPtrApply2,
			opConst(int(pointerOpCode(e.Op, xt))), sizeConst(yt.Elem.Size()), cast.CloneExpr(e))), nil
	}

	tc, err := typeCode(e.T)
	if err != nil {
		return nil, err
	}
	return append(seq, v.emit(FnApply2, opConst(binaryOpCode(e.Op)), tc, cast.CloneExpr(e))), nil
}

// computeAddr emits the sequence that leaves the lvalue's address on the
// operand stack, peeling the outermost offset recursively.
func (v *visitor) computeAddr(lv cast.Expr) ([]cast.Stmt, error) {
	switch lv := lv.(type) {
	case *cast.Ident:
		code, err := typeCode(cast.PointerTo(lv.Obj.Type))
		if err != nil {
			return nil, err
		}
		return []cast.Stmt{v.emit(FnLoad, nullAddr(), code, addrOf(lv))}, nil

	case *cast.Deref:
		return v.instrExpr(lv.X)

	case *cast.Index:
		baseT := cast.TypeOf(lv.X)
		var seq []cast.Stmt
		var err error
		if baseT.IsPointer() {
			seq, err = v.instrExpr(lv.X)
		} else {
			seq, err = v.computeAddr(lv.X)
		}
		if err != nil {
			return nil, err
		}
		idx, err := v.instrExpr(lv.Idx)
		if err != nil {
			return nil, err
		}
		seq = append(seq, idx...)
		op := pointerOpCode(cast.Add, cast.TypeOf(lv.Idx))
		return append(seq, v.emit(FnPtrApply2,
			opConst(int(op)), sizeConst(baseT.Elem.Size()), addrOf(lv))), nil

	case *cast.FieldSel:
		seq, err := v.computeAddr(lv.X)
		if err != nil {
			return nil, err
		}
		seq = append(seq, v.emit(FnLoad, nullAddr(),
			typeConst(symflow.TypeULong), &cast.Const{T: cast.ULongType(), Val: int64(lv.Field.Offset)}))
		return append(seq, v.emit(FnPtrApply2,
			opConst(int(addPI)), sizeConst(1), addrOf(lv))), nil

	default:
		return nil, fmt.Errorf("instrument: cannot compute address of %T", lv)
	}
}

// instrStmt returns the call sequences to insert before and after s.
// Conditionals are rewritten in place.
func (v *visitor) instrStmt(s cast.Stmt) (pre, post []cast.Stmt, err error) {
	switch s := s.(type) {
	case *cast.Assign:
		return v.instrAssign(s)

	case *cast.CallStmt:
		return v.instrCall(s)

	case *cast.If:
		return nil, nil, fmt.Errorf("instrument: conditional outside instrBlock")

	case *cast.Return:
		if s.X != nil && isSymbolicType(cast.TypeOf(s.X)) {
			pre, err = v.instrExpr(s.X)
			if err != nil {
				return nil, nil, err
			}
		}
		return append(pre, v.emit(FnReturn)), nil, nil

	case *cast.Goto, *cast.Label, *cast.Skip:
		return nil, nil, nil

	case *cast.While:
		return nil, nil, fmt.Errorf("instrument: loop not lowered before instrumentation")

	default:
		return nil, nil, fmt.Errorf("instrument: cannot instrument statement %T", s)
	}
}

func (v *visitor) instrAssign(s *cast.Assign) (pre, post []cast.Stmt, err error) {
	lt := cast.TypeOf(s.LHS)

	switch {
	case isSymbolicType(lt) && symbolicAddr(s.LHS):
		pre, err = v.computeAddr(s.LHS)
		if err != nil {
			return nil, nil, err
		}
		rhs, err := v.instrExpr(s.RHS)
		if err != nil {
			return nil, nil, err
		}
		pre = append(pre, rhs...)
		return pre, []cast.Stmt{v.emit(FnWrite, addrOf(s.LHS))}, nil

	case isSymbolicType(lt) || lt.IsAggregate():
		pre, err = v.instrExpr(s.RHS)
		if err != nil {
			return nil, nil, err
		}
		return pre, []cast.Stmt{v.emit(FnStore, addrOf(s.LHS))}, nil

	default:
		return nil, nil, nil
	}
}

func (v *visitor) instrCall(s *cast.CallStmt) (pre, post []cast.Stmt, err error) {
	// Calls to skip-annotated functions are left entirely alone.
	if v.skip[s.Fn.Name] {
		return nil, nil, nil
	}

	for _, arg := range s.Args {
		if !isSymbolicType(cast.TypeOf(arg)) {
			continue
		}
		seq, err := v.instrExpr(arg)
		if err != nil {
			return nil, nil, err
		}
		pre = append(pre, seq...)
	}

	if s.Ret != nil && cast.IsLvalue(s.Ret) && isSymbolicType(cast.TypeOf(s.Ret)) {
		tc, err := typeCode(cast.TypeOf(s.Ret))
		if err != nil {
			return nil, nil, err
		}
		post = append(post,
			v.emit(FnHandleReturn, tc, cast.CloneExpr(s.Ret)),
			v.emit(FnStore, addrOf(s.Ret)),
		)
		return pre, post, nil
	}
	return pre, []cast.Stmt{v.emit(FnClearStack)}, nil
}

// instrBlock rewrites the block, interleaving runtime calls with the
// original statements.
func (v *visitor) instrBlock(b *cast.Block) error {
	if b == nil {
		return nil
	}
	var out []cast.Stmt
	for _, s := range b.List {
		if ifStmt, ok := s.(*cast.If); ok {
			seq, err := v.instrIf(ifStmt)
			if err != nil {
				return err
			}
			out = append(out, seq...)
			out = append(out, s)
			continue
		}

		pre, post, err := v.instrStmt(s)
		if err != nil {
			return err
		}
		out = append(out, pre...)
		out = append(out, s)
		out = append(out, post...)
	}
	b.List = out
	return nil
}

// instrIf instruments a conditional: the condition's trace is emitted
// before the statement, a Branch call is prepended to either arm, and
// the successor pair is recorded for the current function.
func (v *visitor) instrIf(s *cast.If) ([]cast.Stmt, error) {
	trueSID := s.Then.List[0].SID()
	falseSID := s.Else.List[0].SID()

	pre, err := v.instrExpr(s.Cond)
	if err != nil {
		return nil, err
	}

	if err := v.instrBlock(s.Then); err != nil {
		return nil, err
	}
	if err := v.instrBlock(s.Else); err != nil {
		return nil, err
	}

	branchTrue := v.emit(FnBranch,
		&cast.Const{T: cast.IntType(), Val: int64(trueSID)},
		&cast.Const{T: cast.IntType(), Val: 1})
	branchFalse := v.emit(FnBranch,
		&cast.Const{T: cast.IntType(), Val: int64(falseSID)},
		&cast.Const{T: cast.IntType(), Val: 0})

	s.Then.List = append([]cast.Stmt{branchTrue}, s.Then.List...)
	s.Else.List = append([]cast.Stmt{branchFalse}, s.Else.List...)

	v.rec.RecordBranchPair(trueSID, falseSID)
	return pre, nil
}

// instrumentFunction instruments one function definition: the body is
// rewritten, then the entry sequence is prepended: Call with the fresh
// function id, and one Store per symbolic parameter in reverse
// declaration order, matching the order the caller pushed them.
func (v *visitor) instrumentFunction(fn *cast.Function, fid uint32) error {
	v.rec.BeginFunction(fid)

	if err := v.instrBlock(fn.Body); err != nil {
		return err
	}

	entry := []cast.Stmt{v.emit(FnCall, &cast.Const{T: cast.UIntType(), Val: int64(fid)})}
	if !fn.Variadic {
		for i := len(fn.Params) - 1; i >= 0; i-- {
			p := fn.Params[i]
			if isSymbolicType(p.Type) {
				entry = append(entry, v.emit(FnStore, addrOf(&cast.Ident{Obj: p})))
			}
		}
	}
	fn.Body.List = append(entry, fn.Body.List...)
	return nil
}
