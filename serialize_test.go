package symflow_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/symflow/symflow"
)

// exprComparer compares expressions structurally for go-cmp.
var exprComparer = cmp.Comparer(func(a, b symflow.Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(b)
})

func roundTrip(t *testing.T, e symflow.Expr) symflow.Expr {
	t.Helper()
	data := symflow.SerializeExpr(e)
	parsed, err := symflow.ParseExpr(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return parsed
}

func TestSerializeExpr_RoundTrip(t *testing.T) {
	obj := symflow.NewSymbolicObject(0x1000, 4, symflow.TypeInt)

	t.Run("Concrete", func(t *testing.T) {
		e := symflow.NewConcreteExpr(symflow.TypeInt, -1)
		if diff := cmp.Diff(symflow.Expr(e), roundTrip(t, e), exprComparer); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Basic", func(t *testing.T) {
		e := symflow.NewBasicExpr(2, 0xBEEF, 12)
		if diff := cmp.Diff(symflow.Expr(e), roundTrip(t, e), exprComparer); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Unary", func(t *testing.T) {
		e := symflow.NewUnaryExpr(symflow.TypeInt, -9, symflow.NEGATE,
			symflow.NewBasicExpr(4, 9, 1))
		if diff := cmp.Diff(symflow.Expr(e), roundTrip(t, e), exprComparer); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Binary", func(t *testing.T) {
		e := symflow.NewBinaryExpr(symflow.TypeInt, 15, symflow.ADD,
			symflow.NewBasicExpr(4, 6, 1),
			symflow.NewConcreteExpr(symflow.TypeInt, 9))
		if diff := cmp.Diff(symflow.Expr(e), roundTrip(t, e), exprComparer); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Compare", func(t *testing.T) {
		e := symflow.NewCompareExpr(1, symflow.ULE,
			symflow.NewBasicExpr(4, 3, 2),
			symflow.NewConcreteExpr(symflow.TypeUInt, 7))
		if diff := cmp.Diff(symflow.Expr(e), roundTrip(t, e), exprComparer); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Deref", func(t *testing.T) {
		addr := symflow.NewBinaryExpr(symflow.TypeULong, 0x1004, symflow.ADD,
			symflow.NewBasicExpr(8, 0x1000, 5),
			symflow.NewConcreteExpr(symflow.TypeULong, 4))
		e := symflow.NewDerefExpr(symflow.TypeInt, 77, obj, addr, []byte{1, 2, 3, 4})
		if diff := cmp.Diff(symflow.Expr(e), roundTrip(t, e), exprComparer); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Nested", func(t *testing.T) {
		e := symflow.NewUnaryExpr(symflow.TypeLong, 1, symflow.SIGNED_CAST,
			symflow.NewCompareExpr(1, symflow.NEQ,
				symflow.NewBinaryExpr(symflow.TypeInt, 4, symflow.XOR,
					symflow.NewBasicExpr(4, 6, 1),
					symflow.NewBasicExpr(4, 2, 2)),
				symflow.NewConcreteExpr(symflow.TypeInt, 0)))
		if diff := cmp.Diff(symflow.Expr(e), roundTrip(t, e), exprComparer); diff != "" {
			t.Fatal(diff)
		}
	})
}

// Concatenating a symbolic byte with a concrete byte survives the wire.
// On the little-endian build the low-order operand comes first and the
// node's witness is 0xABCD for msb=0xAB, lsb=0xCD.
func TestSerializeExpr_Concat(t *testing.T) {
	e := symflow.Concat(
		symflow.NewBasicExpr(1, 0xAB, 7),
		symflow.NewConcreteExprSized(1, 0xCD))

	parsed := roundTrip(t, e)
	if !parsed.Equals(e) {
		t.Fatalf("round trip differs: %s != %s", parsed, e)
	}
	if parsed.Size() != 2 || parsed.Value() != 0xABCD {
		t.Fatalf("unexpected node: %s value=%#x", parsed, parsed.Value())
	}
}

// Any short read aborts the parse with ErrNoExpr.
func TestParseExpr_ShortRead(t *testing.T) {
	obj := symflow.NewSymbolicObject(0x2000, 2, symflow.TypeChar)
	e := symflow.NewDerefExpr(symflow.TypeShort, 5, obj,
		symflow.NewBasicExpr(8, 0x2000, 3), []byte{9, 9})
	data := symflow.SerializeExpr(e)

	for n := 0; n < len(data); n++ {
		if _, err := symflow.ParseExpr(bytes.NewReader(data[:n])); err != symflow.ErrNoExpr {
			t.Fatalf("prefix of %d bytes: expected ErrNoExpr, got %v", n, err)
		}
	}
}

func TestParseExpr_UnknownTag(t *testing.T) {
	data := symflow.SerializeExpr(symflow.NewConcreteExprSized(4, 1))
	data[16] = 0x7F
	if _, err := symflow.ParseExpr(bytes.NewReader(data)); err != symflow.ErrNoExpr {
		t.Fatalf("expected ErrNoExpr, got %v", err)
	}
}

func TestSerializeObject_RoundTrip(t *testing.T) {
	obj := symflow.NewSymbolicObject(0xdeadbeef, 16, symflow.TypeUChar)
	parsed, err := symflow.ParseObject(bytes.NewReader(symflow.SerializeObject(obj)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equals(obj) {
		t.Fatalf("round trip differs: %s != %s", parsed, obj)
	}
}
