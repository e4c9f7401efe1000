package symflow

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/benbjohnson/immutable"
)

// LinearExpr is an affine form c0 + Σ ci·vi over symbolic variables.
// It is the fast path for comparisons and arithmetic on expressions that
// stay linear. Coefficients live in an immutable sorted map so that two
// equal forms always iterate, print, and serialize identically.
type LinearExpr struct {
	constTerm Value
	coeff     *immutable.SortedMap[Var, Value]
}

func newCoeffMap() *immutable.SortedMap[Var, Value] {
	return immutable.NewSortedMap[Var, Value](nil)
}

// NewLinearExpr returns the linear expression for the constant 0.
func NewLinearExpr() *LinearExpr {
	return &LinearExpr{coeff: newCoeffMap()}
}

// NewLinearConst returns the linear expression for the constant c.
func NewLinearConst(c Value) *LinearExpr {
	return &LinearExpr{constTerm: c, coeff: newCoeffMap()}
}

// NewLinearTerm returns the linear expression for the singleton c·v.
func NewLinearTerm(c Value, v Var) *LinearExpr {
	e := NewLinearExpr()
	if c != 0 {
		e.coeff = e.coeff.Set(v, c)
	}
	return e
}

// Clone returns a copy of the expression. The coefficient map is shared
// structurally; mutators replace it wholesale.
func (e *LinearExpr) Clone() *LinearExpr {
	return &LinearExpr{constTerm: e.constTerm, coeff: e.coeff}
}

// ConstTerm returns the constant term c0.
func (e *LinearExpr) ConstTerm() Value { return e.constTerm }

// Coeff returns the coefficient of v, zero if absent.
func (e *LinearExpr) Coeff(v Var) Value {
	c, _ := e.coeff.Get(v)
	return c
}

// IsConcrete returns true if the expression has no variable terms.
func (e *LinearExpr) IsConcrete() bool { return e.coeff.Len() == 0 }

// Size returns 1 plus the number of non-zero terms.
func (e *LinearExpr) Size() uint { return uint(1 + e.coeff.Len()) }

// Negate negates the expression in place.
func (e *LinearExpr) Negate() {
	e.constTerm = -e.constTerm
	m := newCoeffMap()
	for itr := e.coeff.Iterator(); !itr.Done(); {
		v, c, _ := itr.Next()
		m = m.Set(v, -c)
	}
	e.coeff = m
}

// AddLinear adds other to the expression in place.
func (e *LinearExpr) AddLinear(other *LinearExpr) {
	e.constTerm += other.constTerm
	for itr := other.coeff.Iterator(); !itr.Done(); {
		v, c, _ := itr.Next()
		e.addTerm(v, c)
	}
}

// SubLinear subtracts other from the expression in place.
func (e *LinearExpr) SubLinear(other *LinearExpr) {
	e.constTerm -= other.constTerm
	for itr := other.coeff.Iterator(); !itr.Done(); {
		v, c, _ := itr.Next()
		e.addTerm(v, -c)
	}
}

// AddConst adds the constant c in place.
func (e *LinearExpr) AddConst(c Value) { e.constTerm += c }

// SubConst subtracts the constant c in place.
func (e *LinearExpr) SubConst(c Value) { e.constTerm -= c }

// MulConst multiplies the expression by the constant c in place.
func (e *LinearExpr) MulConst(c Value) {
	e.constTerm *= c
	if c == 0 {
		e.coeff = newCoeffMap()
		return
	}
	m := newCoeffMap()
	for itr := e.coeff.Iterator(); !itr.Done(); {
		v, k, _ := itr.Next()
		m = m.Set(v, k*c)
	}
	e.coeff = m
}

// addTerm adds c·v, removing the term if the coefficient cancels.
func (e *LinearExpr) addTerm(v Var, c Value) {
	sum := c
	if cur, ok := e.coeff.Get(v); ok {
		sum += cur
	}
	if sum == 0 {
		e.coeff = e.coeff.Delete(v)
	} else {
		e.coeff = e.coeff.Set(v, sum)
	}
}

// Equal returns true if other has the same constant term and the same
// coefficient for every variable. No algebraic simplification is applied
// beyond what the mutators perform.
func (e *LinearExpr) Equal(other *LinearExpr) bool {
	if e.constTerm != other.constTerm || e.coeff.Len() != other.coeff.Len() {
		return false
	}
	for itr := e.coeff.Iterator(); !itr.Done(); {
		v, c, _ := itr.Next()
		if oc, ok := other.coeff.Get(v); !ok || oc != c {
			return false
		}
	}
	return true
}

// AppendVars adds the expression's variables to vars.
func (e *LinearExpr) AppendVars(vars map[Var]struct{}) {
	for itr := e.coeff.Iterator(); !itr.Done(); {
		v, _, _ := itr.Next()
		vars[v] = struct{}{}
	}
}

// DependsOn returns true if the expression uses a variable in vars.
func (e *LinearExpr) DependsOn(vars map[Var]Type) bool {
	for itr := e.coeff.Iterator(); !itr.Done(); {
		v, _, _ := itr.Next()
		if _, ok := vars[v]; ok {
			return true
		}
	}
	return false
}

// String returns the string representation of the expression.
func (e *LinearExpr) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(%d", e.constTerm)
	for itr := e.coeff.Iterator(); !itr.Done(); {
		v, c, _ := itr.Next()
		fmt.Fprintf(&buf, " + %d*x%d", c, v)
	}
	buf.WriteByte(')')
	return buf.String()
}

// Serialize returns the wire form of the expression: the constant term,
// a term count, then sorted (variable, coefficient) pairs, little-endian.
func (e *LinearExpr) Serialize() []byte {
	var buf bytes.Buffer

	var b [12]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(e.constTerm))
	binary.LittleEndian.PutUint32(b[8:12], uint32(e.coeff.Len()))
	buf.Write(b[:])

	for itr := e.coeff.Iterator(); !itr.Done(); {
		v, c, _ := itr.Next()
		binary.LittleEndian.PutUint32(b[0:4], v)
		binary.LittleEndian.PutUint64(b[4:12], uint64(c))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

// ParseLinearExpr reads one linear expression from r. Any short read
// returns ErrNoExpr.
func ParseLinearExpr(r io.Reader) (*LinearExpr, error) {
	var b [12]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, ErrNoExpr
	}
	e := NewLinearConst(Value(binary.LittleEndian.Uint64(b[0:8])))
	n := binary.LittleEndian.Uint32(b[8:12])

	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, ErrNoExpr
		}
		v := binary.LittleEndian.Uint32(b[0:4])
		c := Value(binary.LittleEndian.Uint64(b[4:12]))
		if c != 0 {
			e.coeff = e.coeff.Set(v, c)
		}
	}
	return e, nil
}
