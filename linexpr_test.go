package symflow_test

import (
	"bytes"
	"testing"

	"github.com/symflow/symflow"
)

func TestLinearExpr_Basics(t *testing.T) {
	t.Run("Zero", func(t *testing.T) {
		e := symflow.NewLinearExpr()
		if !e.IsConcrete() || e.ConstTerm() != 0 || e.Size() != 1 {
			t.Fatalf("unexpected zero form: %s", e)
		}
	})

	t.Run("Const", func(t *testing.T) {
		e := symflow.NewLinearConst(42)
		if !e.IsConcrete() || e.ConstTerm() != 42 {
			t.Fatalf("unexpected form: %s", e)
		}
	})

	t.Run("Term", func(t *testing.T) {
		e := symflow.NewLinearTerm(3, 7)
		if e.IsConcrete() || e.Coeff(7) != 3 || e.Size() != 2 {
			t.Fatalf("unexpected form: %s", e)
		}
	})

	t.Run("ZeroTermElided", func(t *testing.T) {
		e := symflow.NewLinearTerm(0, 7)
		if !e.IsConcrete() {
			t.Fatalf("zero coefficient kept: %s", e)
		}
	})
}

func TestLinearExpr_Arithmetic(t *testing.T) {
	t.Run("AddSub", func(t *testing.T) {
		e := symflow.NewLinearTerm(2, 1) // 2*x1
		e.AddConst(5)                    // 5 + 2*x1
		e.AddLinear(symflow.NewLinearTerm(3, 2))
		e.SubLinear(symflow.NewLinearTerm(1, 1)) // 5 + x1 + 3*x2
		if e.ConstTerm() != 5 || e.Coeff(1) != 1 || e.Coeff(2) != 3 {
			t.Fatalf("unexpected form: %s", e)
		}
	})

	t.Run("CancellationRemovesTerm", func(t *testing.T) {
		e := symflow.NewLinearTerm(2, 1)
		e.SubLinear(symflow.NewLinearTerm(2, 1))
		if !e.IsConcrete() || e.Size() != 1 {
			t.Fatalf("cancelled term kept: %s", e)
		}
	})

	t.Run("Negate", func(t *testing.T) {
		e := symflow.NewLinearTerm(2, 1)
		e.AddConst(7)
		e.Negate()
		if e.ConstTerm() != -7 || e.Coeff(1) != -2 {
			t.Fatalf("unexpected form: %s", e)
		}
	})

	t.Run("MulConst", func(t *testing.T) {
		e := symflow.NewLinearTerm(2, 1)
		e.AddConst(3)
		e.MulConst(4)
		if e.ConstTerm() != 12 || e.Coeff(1) != 8 {
			t.Fatalf("unexpected form: %s", e)
		}
	})

	t.Run("MulZeroClears", func(t *testing.T) {
		e := symflow.NewLinearTerm(2, 1)
		e.MulConst(0)
		if !e.IsConcrete() || e.ConstTerm() != 0 {
			t.Fatalf("unexpected form: %s", e)
		}
	})
}

func TestLinearExpr_Equal(t *testing.T) {
	a := symflow.NewLinearTerm(2, 1)
	a.AddConst(5)

	b := symflow.NewLinearConst(5)
	b.AddLinear(symflow.NewLinearTerm(2, 1))

	if !a.Equal(b) {
		t.Fatalf("expected %s == %s", a, b)
	}

	b.AddConst(1)
	if a.Equal(b) {
		t.Fatal("expected inequality after mutation")
	}
}

// Two equal affine forms serialize identically however they were built.
func TestLinearExpr_CanonicalSerialization(t *testing.T) {
	a := symflow.NewLinearExpr()
	a.AddLinear(symflow.NewLinearTerm(4, 9))
	a.AddLinear(symflow.NewLinearTerm(2, 3))
	a.AddConst(-1)

	b := symflow.NewLinearConst(-1)
	b.AddLinear(symflow.NewLinearTerm(2, 3))
	b.AddLinear(symflow.NewLinearTerm(4, 9))

	if !bytes.Equal(a.Serialize(), b.Serialize()) {
		t.Fatalf("equal forms serialize differently:\n%x\n%x", a.Serialize(), b.Serialize())
	}
}

func TestLinearExpr_SerializeRoundTrip(t *testing.T) {
	e := symflow.NewLinearConst(-17)
	e.AddLinear(symflow.NewLinearTerm(3, 2))
	e.AddLinear(symflow.NewLinearTerm(-4, 10))

	parsed, err := symflow.ParseLinearExpr(bytes.NewReader(e.Serialize()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(e) {
		t.Fatalf("round trip differs: %s != %s", parsed, e)
	}
}

func TestParseLinearExpr_ShortRead(t *testing.T) {
	e := symflow.NewLinearTerm(3, 2)
	e.AddConst(1)
	data := e.Serialize()

	for n := 0; n < len(data); n++ {
		if _, err := symflow.ParseLinearExpr(bytes.NewReader(data[:n])); err != symflow.ErrNoExpr {
			t.Fatalf("prefix of %d bytes: expected ErrNoExpr, got %v", n, err)
		}
	}
}

func TestLinearExpr_AppendVars(t *testing.T) {
	e := symflow.NewLinearTerm(1, 4)
	e.AddLinear(symflow.NewLinearTerm(2, 8))

	vars := make(map[symflow.Var]struct{})
	e.AppendVars(vars)
	if len(vars) != 2 {
		t.Fatalf("unexpected vars: %v", vars)
	}

	if !e.DependsOn(map[symflow.Var]symflow.Type{8: symflow.TypeInt}) {
		t.Fatal("expected dependency on x8")
	}
	if e.DependsOn(map[symflow.Var]symflow.Type{5: symflow.TypeInt}) {
		t.Fatal("unexpected dependency on x5")
	}
}
