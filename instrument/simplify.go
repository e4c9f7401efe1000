package instrument

import (
	"fmt"

	"github.com/symflow/symflow/cast"
)

// simplifyMem splits complex memory references into temporaries so that
// every lvalue contains at most one dereference. The hoisted assignments
// are ordinary statements and get instrumented like any other read.
//
//	**q = e   =>   __mem1 = *q; *__mem1 = e
func simplifyMem(fn *cast.Function) {
	s := &simplifier{fn: fn}
	fn.Body = s.block(fn.Body)
}

type simplifier struct {
	fn  *cast.Function
	seq int
	pre []cast.Stmt
}

func (s *simplifier) block(b *cast.Block) *cast.Block {
	if b == nil {
		return nil
	}
	out := &cast.Block{}
	for _, stmt := range b.List {
		s.pre = nil
		switch stmt := stmt.(type) {
		case *cast.Assign:
			stmt.RHS = s.expr(stmt.RHS)
			stmt.LHS = s.expr(stmt.LHS)
		case *cast.CallStmt:
			for i, arg := range stmt.Args {
				stmt.Args[i] = s.expr(arg)
			}
			if stmt.Ret != nil {
				stmt.Ret = s.expr(stmt.Ret)
			}
		case *cast.If:
			stmt.Cond = s.expr(stmt.Cond)
			stmt.Then = s.block(stmt.Then)
			stmt.Else = s.block(stmt.Else)
		case *cast.While:
			stmt.Cond = s.expr(stmt.Cond)
			stmt.Body = s.block(stmt.Body)
		case *cast.Return:
			if stmt.X != nil {
				stmt.X = s.expr(stmt.X)
			}
		}
		out.List = append(out.List, s.pre...)
		out.List = append(out.List, stmt)
	}
	return out
}

func (s *simplifier) expr(e cast.Expr) cast.Expr {
	switch e := e.(type) {
	case *cast.Unary:
		e.X = s.expr(e.X)
	case *cast.Binary:
		e.X = s.expr(e.X)
		e.Y = s.expr(e.Y)
	case *cast.Conv:
		e.X = s.expr(e.X)
	case *cast.AddrOf:
		e.X = s.expr(e.X)
	case *cast.FieldSel:
		e.X = s.expr(e.X)
	case *cast.Deref:
		e.X = s.expr(e.X)
		if _, ok := e.X.(*cast.Ident); !ok {
			e.X = s.hoist(e.X)
		}
	case *cast.Index:
		e.X = s.expr(e.X)
		e.Idx = s.expr(e.Idx)
		if _, ok := e.X.(*cast.Ident); !ok && cast.TypeOf(e.X).IsPointer() {
			e.X = s.hoist(e.X)
		}
	}
	return e
}

// hoist assigns x to a fresh temporary and returns a reference to it.
func (s *simplifier) hoist(x cast.Expr) *cast.Ident {
	s.seq++
	obj := &cast.Object{
		Name: fmt.Sprintf("__mem%d", s.seq),
		Type: cast.TypeOf(x),
	}
	s.fn.Locals = append(s.fn.Locals, obj)
	s.pre = append(s.pre, &cast.Assign{LHS: &cast.Ident{Obj: obj}, RHS: x})
	return &cast.Ident{Obj: obj}
}

// singleReturn rewrites the function so that exactly one return
// statement exists, at the end of the body. Interior returns store the
// result into a dedicated local and jump to the exit label.
func singleReturn(fn *cast.Function) {
	returns := 0
	walkStmts(fn.Body, func(s cast.Stmt) {
		if _, ok := s.(*cast.Return); ok {
			returns++
		}
	})

	// Already in single-return form.
	if returns == 1 && len(fn.Body.List) > 0 {
		if _, ok := fn.Body.List[len(fn.Body.List)-1].(*cast.Return); ok {
			return
		}
	}

	label := "__return_" + fn.Name
	var retObj *cast.Object
	if fn.RetType != nil && fn.RetType.Kind != cast.Void {
		retObj = &cast.Object{Name: "__retres", Type: fn.RetType}
		fn.Locals = append(fn.Locals, retObj)
	}

	fn.Body = rewriteReturns(fn.Body, retObj, label)

	fn.Body.List = append(fn.Body.List, &cast.Label{Name: label})
	ret := &cast.Return{}
	if retObj != nil {
		ret.X = &cast.Ident{Obj: retObj}
	}
	fn.Body.List = append(fn.Body.List, ret)
}

func rewriteReturns(b *cast.Block, retObj *cast.Object, label string) *cast.Block {
	if b == nil {
		return nil
	}
	out := &cast.Block{}
	for _, s := range b.List {
		switch s := s.(type) {
		case *cast.Return:
			if retObj != nil && s.X != nil {
				out.List = append(out.List, &cast.Assign{LHS: &cast.Ident{Obj: retObj}, RHS: s.X})
			}
			out.List = append(out.List, &cast.Goto{Target: label})
		case *cast.If:
			s.Then = rewriteReturns(s.Then, retObj, label)
			s.Else = rewriteReturns(s.Else, retObj, label)
			out.List = append(out.List, s)
		case *cast.While:
			s.Body = rewriteReturns(s.Body, retObj, label)
			out.List = append(out.List, s)
		default:
			out.List = append(out.List, s)
		}
	}
	return out
}
