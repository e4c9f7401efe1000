package instrument

import (
	"github.com/symflow/symflow/cast"
)

// normalizeFunc rewrites every conditional so that both branches are
// non-empty and the condition is a comparison predicate. Outer logical
// negations are stripped while toggling polarity; short-circuit && and
// || become nested conditionals; a bare integer condition becomes an
// explicit comparison against zero. Casts are never stripped, since a
// narrowing cast can turn a nonzero value into zero.
func normalizeFunc(fn *cast.Function) {
	fn.Body = normalizeBlock(fn.Body)
}

func normalizeBlock(b *cast.Block) *cast.Block {
	if b == nil {
		return &cast.Block{}
	}
	out := &cast.Block{}
	for _, s := range b.List {
		if ifStmt, ok := s.(*cast.If); ok {
			then := pad(normalizeBlock(ifStmt.Then))
			els := pad(normalizeBlock(ifStmt.Else))
			out.List = append(out.List, buildCondIf(ifStmt.Cond, false, then, els))
			continue
		}
		out.List = append(out.List, s)
	}
	return out
}

// pad gives an empty block a skip statement so its first statement has
// an id for the branch pair.
func pad(b *cast.Block) *cast.Block {
	if b == nil {
		b = &cast.Block{}
	}
	if len(b.List) == 0 {
		b.List = append(b.List, &cast.Skip{})
	}
	return b
}

// buildCondIf builds the conditional for cond under the given polarity,
// branching to then and els. Short-circuit operands duplicate the branch
// they re-enter.
func buildCondIf(cond cast.Expr, neg bool, then, els *cast.Block) *cast.If {
	// Strip outer logical negations, toggling polarity.
	for {
		u, ok := cond.(*cast.Unary)
		if !ok || u.Op != cast.LogicalNot {
			break
		}
		neg = !neg
		cond = u.X
	}

	if b, ok := cond.(*cast.Binary); ok {
		switch {
		case b.Op == cast.LogicalAnd && !neg:
			inner := buildCondIf(b.Y, false, then, cast.CloneBlock(els))
			return buildCondIf(b.X, false, singleton(inner), els)

		case b.Op == cast.LogicalAnd && neg: // !(a && b) == !a || !b
			inner := buildCondIf(b.Y, true, cast.CloneBlock(then), els)
			return buildCondIf(b.X, true, then, singleton(inner))

		case b.Op == cast.LogicalOr && !neg:
			inner := buildCondIf(b.Y, false, cast.CloneBlock(then), els)
			return buildCondIf(b.X, false, then, singleton(inner))

		case b.Op == cast.LogicalOr && neg: // !(a || b) == !a && !b
			inner := buildCondIf(b.Y, true, then, cast.CloneBlock(els))
			return buildCondIf(b.X, true, singleton(inner), els)

		case b.Op.IsComparison():
			op := b.Op
			if neg {
				op = negateComparison(op)
			}
			pred := &cast.Binary{Op: op, X: b.X, Y: b.Y, T: cast.IntType()}
			return &cast.If{Cond: pred, Then: then, Else: els}
		}
	}

	// Bare value: compare against zero according to polarity.
	op := cast.Ne
	if neg {
		op = cast.Eq
	}
	zero := &cast.Const{T: cast.TypeOf(cond), Val: 0}
	pred := &cast.Binary{Op: op, X: cond, Y: zero, T: cast.IntType()}
	return &cast.If{Cond: pred, Then: then, Else: els}
}

func singleton(s cast.Stmt) *cast.Block {
	return &cast.Block{List: []cast.Stmt{s}}
}

var negatedComparison = map[cast.BinaryOp]cast.BinaryOp{
	cast.Eq: cast.Ne,
	cast.Ne: cast.Eq,
	cast.Lt: cast.Ge,
	cast.Ge: cast.Lt,
	cast.Gt: cast.Le,
	cast.Le: cast.Gt,
}

func negateComparison(op cast.BinaryOp) cast.BinaryOp {
	return negatedComparison[op]
}
