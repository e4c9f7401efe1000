package instrument

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symflow/symflow/cast"
)

func instrumentOne(t *testing.T, f *cast.File) {
	t.Helper()
	in := New(Config{Dir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, in.InstrumentFile(f))
}

// Constant arithmetic: int x = 3 + 4.
func TestInstrument_ConstantArithmetic(t *testing.T) {
	x := intObj("x")
	fn := &cast.Function{
		Name:    "f",
		RetType: cast.VoidType(),
		Locals:  []*cast.Object{x},
		Body: block(&cast.Assign{
			LHS: ident(x),
			RHS: binary(cast.Add, intConst(3), intConst(4)),
		}),
	}
	f := &cast.File{Name: "s1.c", Funcs: []*cast.Function{fn}}
	instrumentOne(t, f)

	assert.Equal(t, []string{
		"Call(1)",
		"Load(0, 5, 3)",
		"Load(0, 5, 4)",
		"Apply2(0, 5, (3 + 4))",
		"x = (3 + 4)",
		"Store(&x)",
		"label __return_f",
		"Return()",
		"return",
	}, renderBody(fn.Body))
}

// Symbolic branch: if (a < 10) b = 1; else b = 2.
func TestInstrument_SymbolicBranch(t *testing.T) {
	a, b := intObj("a"), intObj("b")
	fn := &cast.Function{
		Name:    "g",
		Params:  []*cast.Object{a},
		Locals:  []*cast.Object{b},
		RetType: cast.VoidType(),
		Body: block(&cast.If{
			Cond: binary(cast.Lt, ident(a), intConst(10)),
			Then: block(&cast.Assign{LHS: ident(b), RHS: intConst(1)}),
			Else: block(&cast.Assign{LHS: ident(b), RHS: intConst(2)}),
		}),
	}
	dir := t.TempDir()
	f := &cast.File{Name: "s2.c", Funcs: []*cast.Function{fn}}
	in := New(Config{Dir: dir}, zerolog.Nop())
	require.NoError(t, in.InstrumentFile(f))

	assert.Equal(t, []string{
		"Call(1)",
		"Store(&a)",
		"Load(&a, 5, a)",
		"Load(0, 5, 10)",
		"Apply2(7, 5, (a < 10))",
		"if (a < 10)",
		"  Branch(2, 1)",
		"  Load(0, 5, 1)",
		"  b = 1",
		"  Store(&b)",
		"else",
		"  Branch(3, 0)",
		"  Load(0, 5, 2)",
		"  b = 2",
		"  Store(&b)",
		"label __return_g",
		"Return()",
		"return",
	}, renderBody(fn.Body))

	// The branch pair lands in the branches file under the function id.
	assert.Equal(t, "1 1\n2 3\n", readOutput(t, dir, "branches"))
}

// Pointer indexing with a symbolic index: p[i] = 5.
func TestInstrument_PointerIndexing(t *testing.T) {
	p := &cast.Object{Name: "p", Type: cast.PointerTo(cast.IntType())}
	i := intObj("i")
	fn := &cast.Function{
		Name:    "h",
		Locals:  []*cast.Object{p, i},
		RetType: cast.VoidType(),
		Body: block(&cast.Assign{
			LHS: &cast.Index{X: ident(p), Idx: ident(i)},
			RHS: intConst(5),
		}),
	}
	f := &cast.File{Name: "s3.c", Funcs: []*cast.Function{fn}}
	instrumentOne(t, f)

	assert.Equal(t, []string{
		"Call(1)",
		"Load(&p, 6, p)",
		"Load(&i, 5, i)",
		"PtrApply2(1, 4, &p[i])",
		"Load(0, 5, 5)",
		"p[i] = 5",
		"Write(&p[i])",
		"label __return_h",
		"Return()",
		"return",
	}, renderBody(fn.Body))
}

// Struct field access with a static base: s.f = s.g + 1.
func TestInstrument_StructField(t *testing.T) {
	fieldF := &cast.Field{Name: "f", Type: cast.IntType(), Offset: 0}
	fieldG := &cast.Field{Name: "g", Type: cast.IntType(), Offset: 4}
	st := &cast.Type{Kind: cast.Struct, Fields: []*cast.Field{fieldF, fieldG}, RecordSize: 8}
	s := &cast.Object{Name: "s", Type: st}

	fn := &cast.Function{
		Name:    "k",
		Locals:  []*cast.Object{s},
		RetType: cast.VoidType(),
		Body: block(&cast.Assign{
			LHS: &cast.FieldSel{X: ident(s), Field: fieldF},
			RHS: binary(cast.Add, &cast.FieldSel{X: ident(s), Field: fieldG}, intConst(1)),
		}),
	}
	f := &cast.File{Name: "s4.c", Funcs: []*cast.Function{fn}}
	instrumentOne(t, f)

	assert.Equal(t, []string{
		"Call(1)",
		"Load(&s.g, 5, s.g)",
		"Load(0, 5, 1)",
		"Apply2(0, 5, (s.g + 1))",
		"s.f = (s.g + 1)",
		"Store(&s.f)",
		"label __return_k",
		"Return()",
		"return",
	}, renderBody(fn.Body))
}

// A skip-annotated function gets no instrumentation at all, and calls to
// it emit neither argument instrumentation nor ClearStack.
func TestInstrument_SkipAttribute(t *testing.T) {
	a := intObj("a")
	ext := &cast.Function{
		Name:    "ext",
		Params:  []*cast.Object{intObj("v")},
		RetType: cast.VoidType(),
		Attrs:   []string{cast.AttrSkip},
		Body:    block(&cast.Return{}),
	}
	caller := &cast.Function{
		Name:    "use",
		Locals:  []*cast.Object{a},
		RetType: cast.VoidType(),
		Body: block(&cast.CallStmt{
			Fn:   &cast.Object{Name: "ext", Type: &cast.Type{Kind: cast.Func}, Global: true},
			Args: []cast.Expr{ident(a)},
		}),
	}
	f := &cast.File{Name: "s5.c", Funcs: []*cast.Function{ext, caller}}
	instrumentOne(t, f)

	// The skip function body is untouched.
	assert.Equal(t, []string{"return"}, renderBody(ext.Body))

	assert.Equal(t, []string{
		"Call(1)",
		"ext(a)",
		"label __return_use",
		"Return()",
		"return",
	}, renderBody(caller.Body))
}

// A call with a used return value gets HandleReturn plus Store; a call
// with a discarded result clears the operand stack.
func TestInstrument_CallReturnHandling(t *testing.T) {
	callee := &cast.Object{Name: "get", Type: &cast.Type{Kind: cast.Func}, Global: true}
	y, v := intObj("y"), intObj("v")

	fn := &cast.Function{
		Name:    "use",
		Locals:  []*cast.Object{y, v},
		RetType: cast.VoidType(),
		Body: block(
			&cast.CallStmt{Ret: ident(y), Fn: callee, Args: []cast.Expr{ident(v)}},
			&cast.CallStmt{Fn: callee, Args: []cast.Expr{intConst(2)}},
		),
	}
	f := &cast.File{Name: "call.c", Funcs: []*cast.Function{fn}}
	instrumentOne(t, f)

	assert.Equal(t, []string{
		"Call(1)",
		"Load(&v, 5, v)",
		"y = get(v)",
		"HandleReturn(5, y)",
		"Store(&y)",
		"Load(0, 5, 2)",
		"get(2)",
		"ClearStack()",
		"label __return_use",
		"Return()",
		"return",
	}, renderBody(fn.Body))
}

// Unary operators, casts, and pointer differences.
func TestInstrument_OperatorForms(t *testing.T) {
	a := intObj("a")
	p := &cast.Object{Name: "p", Type: cast.PointerTo(cast.IntType())}
	q := &cast.Object{Name: "q", Type: cast.PointerTo(cast.IntType())}
	d := &cast.Object{Name: "d", Type: cast.ULongType()}

	fn := &cast.Function{
		Name:    "ops",
		Locals:  []*cast.Object{a, p, q, d},
		RetType: cast.VoidType(),
		Body: block(
			&cast.Assign{LHS: ident(a), RHS: &cast.Unary{Op: cast.Neg, X: ident(a), T: cast.IntType()}},
			&cast.Assign{LHS: ident(a), RHS: &cast.Conv{T: cast.IntType(), X: &cast.Ident{Obj: d}}},
			&cast.Assign{LHS: ident(d), RHS: &cast.Binary{Op: cast.Sub, X: ident(p), Y: ident(q), T: cast.ULongType()}},
		),
	}
	f := &cast.File{Name: "ops.c", Funcs: []*cast.Function{fn}}
	instrumentOne(t, f)

	assert.Equal(t, []string{
		"Call(1)",
		"Load(&a, 5, a)",
		"Apply1(19, 5, -a)",
		"a = -a",
		"Store(&a)",
		"Load(&d, 6, d)",
		"Apply1(22, 5, (int)d)",
		"a = (int)d",
		"Store(&a)",
		"Load(&p, 6, p)",
		"Load(&q, 6, q)",
		"PtrApply2(4, 4, (p - q))",
		"d = (p - q)",
		"Store(&d)",
		"label __return_ops",
		"Return()",
		"return",
	}, renderBody(fn.Body))
}
