package instrument

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/symflow/symflow"
)

// Output file names. All three are append-only; the build cleans them
// before the first translation unit.
const (
	branchesFile = "branches"
	funcMapFile  = "cfg_func_map"
	cfgFile      = "cfg"
)

// branchPair is the (true-successor, false-successor) statement id pair
// recorded for one conditional.
type branchPair struct {
	trueSID  symflow.StmtID
	falseSID symflow.StmtID
}

type funcBranches struct {
	fid   symflow.FuncID
	pairs []branchPair
}

// cfgLine describes one statement: its successors plus, for call
// statements, the callee's first statement id or, for callees defined
// elsewhere, the callee's name to be resolved by the stitching phase.
type cfgLine struct {
	sid     symflow.StmtID
	succs   []symflow.StmtID
	callees []string
}

// Recorder accumulates branch pairs, the function map, and CFG edges
// discovered during one pass and appends them to the output files.
// Failure to open an output file is non-fatal; the pass continues with a
// diagnostic.
type Recorder struct {
	dir string
	log zerolog.Logger

	branches []funcBranches
	funcMap  []string
	cfg      []cfgLine
}

// NewRecorder returns a recorder writing into dir.
func NewRecorder(dir string, log zerolog.Logger) *Recorder {
	return &Recorder{dir: dir, log: log}
}

// BeginFunction starts a branch-pair group for the function fid.
func (r *Recorder) BeginFunction(fid symflow.FuncID) {
	r.branches = append(r.branches, funcBranches{fid: fid})
}

// RecordBranchPair records the successor pair of one conditional in the
// current function.
func (r *Recorder) RecordBranchPair(trueSID, falseSID symflow.StmtID) {
	cur := &r.branches[len(r.branches)-1]
	cur.pairs = append(cur.pairs, branchPair{trueSID: trueSID, falseSID: falseSID})
}

// RecordFunc records a non-static function definition and the id of its
// first statement.
func (r *Recorder) RecordFunc(name string, firstSID symflow.StmtID) {
	r.funcMap = append(r.funcMap, fmt.Sprintf("%s %d", name, firstSID))
}

// RecordCFGLine records the successors and call targets of one statement.
func (r *Recorder) RecordCFGLine(sid symflow.StmtID, succs []symflow.StmtID, callees []string) {
	r.cfg = append(r.cfg, cfgLine{sid: sid, succs: succs, callees: callees})
}

// FlushCFG appends the collected statement lines and function map.
func (r *Recorder) FlushCFG() {
	r.appendLines(cfgFile, func(w *bufio.Writer) {
		for _, line := range r.cfg {
			fmt.Fprintf(w, "%d", line.sid)
			for _, s := range line.succs {
				fmt.Fprintf(w, " %d", s)
			}
			for _, c := range line.callees {
				fmt.Fprintf(w, " %s", c)
			}
			w.WriteByte('\n')
		}
	})
	r.appendLines(funcMapFile, func(w *bufio.Writer) {
		for _, line := range r.funcMap {
			w.WriteString(line)
			w.WriteByte('\n')
		}
	})
	r.cfg = nil
	r.funcMap = nil
}

// FlushBranches appends the per-function branch pairs. Pairs within a
// function are sorted so output is stable across runs.
func (r *Recorder) FlushBranches() {
	r.appendLines(branchesFile, func(w *bufio.Writer) {
		for _, fb := range r.branches {
			pairs := make([]branchPair, len(fb.pairs))
			copy(pairs, fb.pairs)
			sort.Slice(pairs, func(i, j int) bool {
				if pairs[i].trueSID != pairs[j].trueSID {
					return pairs[i].trueSID < pairs[j].trueSID
				}
				return pairs[i].falseSID < pairs[j].falseSID
			})

			fmt.Fprintf(w, "%d %d\n", fb.fid, len(pairs))
			for _, p := range pairs {
				fmt.Fprintf(w, "%d %d\n", p.trueSID, p.falseSID)
			}
		}
	})
	r.branches = nil
}

// appendLines opens the named output file for appending and writes
// through fn. Open failures are logged and swallowed.
func (r *Recorder) appendLines(name string, fn func(w *bufio.Writer)) {
	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.log.Warn().Err(err).Str("file", name).Msg("cannot open output file; skipping")
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fn(w)
	if err := w.Flush(); err != nil {
		r.log.Warn().Err(err).Str("file", name).Msg("short write to output file")
	}
}

// CleanOutputs truncates the append-only files and removes the counter
// files in dir. The build system calls this once before the first
// translation unit.
func CleanOutputs(dir string) error {
	var errs []string
	for _, name := range []string{branchesFile, funcMapFile, cfgFile} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			errs = append(errs, err.Error())
		}
	}
	for _, name := range []string{idCountFile, stmtCountFile, funCountFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("instrument: clean outputs: %s", strings.Join(errs, "; "))
	}
	return nil
}
