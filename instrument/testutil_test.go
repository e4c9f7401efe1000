package instrument

import (
	"fmt"
	"strings"

	"github.com/symflow/symflow/cast"
)

func intObj(name string) *cast.Object {
	return &cast.Object{Name: name, Type: cast.IntType()}
}

func ident(obj *cast.Object) *cast.Ident {
	return &cast.Ident{Obj: obj}
}

func intConst(v int64) *cast.Const {
	return &cast.Const{T: cast.IntType(), Val: v}
}

func binary(op cast.BinaryOp, x, y cast.Expr) *cast.Binary {
	return &cast.Binary{Op: op, X: x, Y: y, T: cast.IntType()}
}

func block(list ...cast.Stmt) *cast.Block {
	return &cast.Block{List: list}
}

// renderBody flattens a function body into one line per statement, with
// runtime calls shown by their short name and their instrumentation id
// dropped. Conditional arms render in order, true arm first.
func renderBody(b *cast.Block) []string {
	var out []string
	var walk func(b *cast.Block, indent string)
	walk = func(b *cast.Block, indent string) {
		for _, s := range b.List {
			switch s := s.(type) {
			case *cast.CallStmt:
				if short, ok := strings.CutPrefix(s.Fn.Name, "__Crest"); ok {
					args := make([]string, 0, len(s.Args))
					for _, a := range s.Args[1:] {
						args = append(args, cast.ExprString(a))
					}
					out = append(out, indent+short+"("+strings.Join(args, ", ")+")")
					continue
				}
				var call strings.Builder
				if s.Ret != nil {
					call.WriteString(cast.ExprString(s.Ret) + " = ")
				}
				call.WriteString(s.Fn.Name + "(")
				for i, a := range s.Args {
					if i > 0 {
						call.WriteString(", ")
					}
					call.WriteString(cast.ExprString(a))
				}
				call.WriteString(")")
				out = append(out, indent+call.String())
			case *cast.Assign:
				out = append(out, indent+cast.ExprString(s.LHS)+" = "+cast.ExprString(s.RHS))
			case *cast.If:
				out = append(out, indent+"if "+cast.ExprString(s.Cond))
				walk(s.Then, indent+"  ")
				out = append(out, indent+"else")
				walk(s.Else, indent+"  ")
			case *cast.While:
				out = append(out, indent+"while "+cast.ExprString(s.Cond))
				walk(s.Body, indent+"  ")
			case *cast.Return:
				if s.X != nil {
					out = append(out, indent+"return "+cast.ExprString(s.X))
				} else {
					out = append(out, indent+"return")
				}
			case *cast.Goto:
				out = append(out, indent+"goto "+s.Target)
			case *cast.Label:
				out = append(out, indent+"label "+s.Name)
			case *cast.Skip:
				out = append(out, indent+"skip")
			default:
				out = append(out, indent+fmt.Sprintf("<%T>", s))
			}
		}
	}
	walk(b, "")
	return out
}
