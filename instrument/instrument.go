package instrument

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/cast"
)

// Config carries the pass settings.
type Config struct {
	// Dir holds the counter files and the append-only outputs. The
	// enclosing build must serialize invocations sharing a directory.
	Dir string

	// SkipFuncs lists additional functions to treat as skip-annotated.
	SkipFuncs []string
}

// Instrumenter runs the instrumentation pass over translation units.
// It is single-threaded and owns its counter files for the duration of
// one invocation.
type Instrumenter struct {
	cfg Config
	log zerolog.Logger
}

// New returns an instrumenter with the given configuration.
func New(cfg Config, log zerolog.Logger) *Instrumenter {
	return &Instrumenter{cfg: cfg, log: log}
}

// InstrumentFile rewrites one translation unit in place. The sub-pass
// order is fixed; deviating from it breaks the stack discipline the
// runtime depends on.
func (in *Instrumenter) InstrumentFile(f *cast.File) error {
	log := in.log.With().Str("file", f.Name).Logger()
	log.Debug().Msg("instrumenting translation unit")

	skip := make(map[string]bool)
	for _, name := range runtimeFuncs {
		skip[name] = true
	}
	for _, name := range in.cfg.SkipFuncs {
		skip[name] = true
	}
	for _, fn := range f.Funcs {
		if fn.HasAttr(cast.AttrSkip) {
			skip[fn.Name] = true
		}
	}

	instrumented := make([]*cast.Function, 0, len(f.Funcs))
	for _, fn := range f.Funcs {
		if !skip[fn.Name] {
			instrumented = append(instrumented, fn)
		}
	}

	// 1. Split complex memory references into temporaries.
	for _, fn := range instrumented {
		simplifyMem(fn)
	}

	// 2. Prepare the CFG: lower loops to label/if/goto form.
	for _, fn := range instrumented {
		prepareCFG(fn)
	}

	// 3. Single-return transform.
	for _, fn := range instrumented {
		singleReturn(fn)
	}

	// 4. Normalize conditionals into predicate form.
	for _, fn := range instrumented {
		normalizeFunc(fn)
	}

	// 5. Clear any prior CFG state.
	for _, fn := range instrumented {
		clearStmtIDs(fn)
	}

	// 6. Load the persistent counters.
	counters := LoadCounters(in.cfg.Dir)
	rec := NewRecorder(in.cfg.Dir, log)

	// 7. Recompute the CFG with fresh statement ids.
	for _, fn := range instrumented {
		assignStmtIDs(fn, counters)
	}
	firstByName := make(map[string]symflow.StmtID, len(instrumented))
	for _, fn := range instrumented {
		firstByName[fn.Name] = funcFirstSID(fn)
	}
	for _, fn := range instrumented {
		if err := computeCFG(fn, firstByName, rec); err != nil {
			return err
		}
	}

	// 8. Write the cfg and function map. Static functions stay out of
	// the map to avoid cross-unit name collisions.
	for _, fn := range instrumented {
		if !fn.Static {
			rec.RecordFunc(fn.Name, firstByName[fn.Name])
		}
	}
	rec.FlushCFG()

	// 9. Apply the instrumentation visitor.
	v := &visitor{counters: counters, rec: rec, skip: skip}
	for _, fn := range instrumented {
		fid := counters.NextFuncID()
		log.Debug().Str("func", fn.Name).Uint32("fid", fid).Msg("instrumenting function")
		if err := v.instrumentFunction(fn, fid); err != nil {
			return fmt.Errorf("instrument %s: %w", fn.Name, err)
		}
	}

	// 10. Add the runtime initializer at the top of main.
	if err := addInitializer(f, v, skip); err != nil {
		return err
	}

	// 11. Persist counters and flush the branch pairs. A failed counter
	// write is fatal; counters are never rolled back.
	if err := counters.Save(); err != nil {
		return err
	}
	rec.FlushBranches()

	log.Debug().
		Int32("ids", counters.id).
		Int32("stmts", counters.stmt).
		Uint32("funcs", counters.fn).
		Msg("translation unit done")
	return nil
}

// addInitializer prepends the runtime initialization to main: Init,
// then one RegGlobal per externally-visible indexable global, ahead of
// main's own entry instrumentation.
func addInitializer(f *cast.File, v *visitor, skip map[string]bool) error {
	main := f.FuncByName("main")
	if main == nil || skip[main.Name] {
		return nil
	}

	calls := []cast.Stmt{v.emit(FnInit)}
	for _, g := range f.Globals {
		if g.Static || !g.Type.IsAggregate() {
			continue
		}
		calls = append(calls, v.emit(FnRegGlobal,
			addrOf(&cast.Ident{Obj: g}), sizeConst(g.Type.Size())))
	}
	main.Body.List = append(calls, main.Body.List...)
	return nil
}
