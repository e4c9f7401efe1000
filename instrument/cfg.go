package instrument

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/cast"
)

// prepareCFG lowers structured loops into label/if/goto form so that
// every remaining statement has explicit successors:
//
//	while (c) { B }   =>   head: if (c) { B; goto head; } else {}
//
// Conditionals keep their structure; the normalization pass fills in
// empty branches later.
func prepareCFG(fn *cast.Function) {
	var seq int
	fn.Body = lowerLoopsBlock(fn.Body, fn, &seq)
}

func lowerLoopsBlock(b *cast.Block, fn *cast.Function, seq *int) *cast.Block {
	if b == nil {
		return nil
	}
	out := &cast.Block{}
	for _, s := range b.List {
		switch s := s.(type) {
		case *cast.While:
			*seq++
			head := fmt.Sprintf("__loop%d_%s", *seq, fn.Name)
			body := lowerLoopsBlock(s.Body, fn, seq)
			body.List = append(body.List, &cast.Goto{Target: head})
			out.List = append(out.List,
				&cast.Label{Name: head},
				&cast.If{Cond: s.Cond, Then: body, Else: &cast.Block{}},
			)
		case *cast.If:
			s.Then = lowerLoopsBlock(s.Then, fn, seq)
			s.Else = lowerLoopsBlock(s.Else, fn, seq)
			out.List = append(out.List, s)
		default:
			out.List = append(out.List, s)
		}
	}
	return out
}

// clearStmtIDs resets every statement id in the function.
func clearStmtIDs(fn *cast.Function) {
	walkStmts(fn.Body, func(s cast.Stmt) { s.SetSID(0) })
}

// assignStmtIDs gives every statement a fresh id from the persistent
// statement counter, in source order.
func assignStmtIDs(fn *cast.Function, c *Counters) {
	walkStmts(fn.Body, func(s cast.Stmt) { s.SetSID(c.NextStmtID()) })
}

// walkStmts visits every statement in the block in source order,
// descending into conditional branches.
func walkStmts(b *cast.Block, visit func(cast.Stmt)) {
	if b == nil {
		return
	}
	for _, s := range b.List {
		visit(s)
		if ifStmt, ok := s.(*cast.If); ok {
			walkStmts(ifStmt.Then, visit)
			walkStmts(ifStmt.Else, visit)
		}
	}
}

// firstSID returns the id of the block's first statement, or the
// fallthrough successors when the block is empty.
func firstSID(b *cast.Block, next []symflow.StmtID) []symflow.StmtID {
	if b != nil && len(b.List) > 0 {
		return []symflow.StmtID{b.List[0].SID()}
	}
	return next
}

// funcFirstSID returns the id of the function's first statement.
func funcFirstSID(fn *cast.Function) symflow.StmtID {
	if len(fn.Body.List) == 0 {
		return 0
	}
	return fn.Body.List[0].SID()
}

// computeCFG records one line per statement: its successor statement ids
// and, for calls, the callee's first statement id when the callee is
// defined in this translation unit, or the callee's name for the later
// stitching phase. Unknown statement forms are fatal.
func computeCFG(fn *cast.Function, firstByName map[string]symflow.StmtID, rec *Recorder) error {
	labels := make(map[string]symflow.StmtID)
	walkStmts(fn.Body, func(s cast.Stmt) {
		if l, ok := s.(*cast.Label); ok {
			labels[l.Name] = l.SID()
		}
	})
	return cfgBlock(fn.Body, nil, labels, firstByName, rec)
}

func cfgBlock(b *cast.Block, next []symflow.StmtID, labels map[string]symflow.StmtID, firstByName map[string]symflow.StmtID, rec *Recorder) error {
	if b == nil {
		return nil
	}
	for i, s := range b.List {
		following := next
		if i+1 < len(b.List) {
			following = []symflow.StmtID{b.List[i+1].SID()}
		}

		switch s := s.(type) {
		case *cast.Assign, *cast.Label, *cast.Skip:
			rec.RecordCFGLine(s.SID(), following, nil)

		case *cast.CallStmt:
			var callees []string
			if sid, ok := firstByName[s.Fn.Name]; ok {
				callees = []string{fmt.Sprintf("%d", sid)}
			} else {
				callees = []string{s.Fn.Name}
			}
			rec.RecordCFGLine(s.SID(), following, callees)

		case *cast.If:
			succs := append(firstSID(s.Then, following), firstSID(s.Else, following)...)
			rec.RecordCFGLine(s.SID(), succs, nil)
			if err := cfgBlock(s.Then, following, labels, firstByName, rec); err != nil {
				return err
			}
			if err := cfgBlock(s.Else, following, labels, firstByName, rec); err != nil {
				return err
			}

		case *cast.Goto:
			target, ok := labels[s.Target]
			if !ok {
				return fmt.Errorf("instrument: goto to unknown label %q", s.Target)
			}
			rec.RecordCFGLine(s.SID(), []symflow.StmtID{target}, nil)

		case *cast.Return:
			rec.RecordCFGLine(s.SID(), nil, nil)

		default:
			return fmt.Errorf("instrument: cannot compute CFG for %T", s)
		}
	}
	return nil
}
