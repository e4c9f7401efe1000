package instrument

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/symflow/symflow/cast"
)

// unitA defines check(a): if (a < 10) r = 1; else r = 2; return r.
func unitA() (*cast.File, *cast.Function) {
	a, r := intObj("a"), intObj("r")
	check := &cast.Function{
		Name:    "check",
		Params:  []*cast.Object{a},
		Locals:  []*cast.Object{r},
		RetType: cast.IntType(),
		Body: block(
			&cast.If{
				Cond: binary(cast.Lt, ident(a), intConst(10)),
				Then: block(&cast.Assign{LHS: ident(r), RHS: intConst(1)}),
				Else: block(&cast.Assign{LHS: ident(r), RHS: intConst(2)}),
			},
			&cast.Return{X: ident(r)},
		),
	}
	return &cast.File{Name: "a.c", Funcs: []*cast.Function{check}}, check
}

// unitB defines main, calling check from the other unit, with one
// externally-visible array global.
func unitB() (*cast.File, *cast.Function) {
	g := &cast.Object{Name: "g", Type: cast.ArrayOf(cast.IntType(), 4), Global: true}
	y := intObj("y")
	main := &cast.Function{
		Name:    "main",
		Locals:  []*cast.Object{y},
		RetType: cast.IntType(),
		Body: block(
			&cast.CallStmt{
				Ret:  ident(y),
				Fn:   &cast.Object{Name: "check", Type: &cast.Type{Kind: cast.Func}, Global: true},
				Args: []cast.Expr{intConst(5)},
			},
			&cast.Return{X: intConst(0)},
		),
	}
	return &cast.File{Name: "b.c", Globals: []*cast.Object{g}, Funcs: []*cast.Function{main}}, main
}

func goldenFiles(t *testing.T) map[string]string {
	t.Helper()
	archive, err := txtar.ParseFile("testdata/driver.txtar")
	require.NoError(t, err)
	m := make(map[string]string, len(archive.Files))
	for _, f := range archive.Files {
		m[f.Name] = string(f.Data)
	}
	return m
}

// Two units instrumented against one state directory produce the golden
// branches, cfg, and function map, and stitch resolves the cross-unit
// call edge.
func TestInstrumenter_TwoUnits(t *testing.T) {
	dir := t.TempDir()
	in := New(Config{Dir: dir}, zerolog.Nop())

	fileA, check := unitA()
	fileB, mainFn := unitB()
	require.NoError(t, in.InstrumentFile(fileA))
	require.NoError(t, in.InstrumentFile(fileB))

	golden := goldenFiles(t)
	assert.Equal(t, golden["branches"], readOutput(t, dir, "branches"))
	assert.Equal(t, golden["cfg"], readOutput(t, dir, "cfg"))
	assert.Equal(t, golden["cfg_func_map"], readOutput(t, dir, "cfg_func_map"))

	assert.Equal(t, "20\n", readOutput(t, dir, "idcount"))
	assert.Equal(t, "6\n", readOutput(t, dir, "stmtcount"))
	assert.Equal(t, "2\n", readOutput(t, dir, "funcount"))

	// No two emitted calls share an instrumentation id across units.
	ids := append(collectIDs(check.Body), collectIDs(mainFn.Body)...)
	seen := make(map[int64]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate instrumentation id %d", id)
		seen[id] = true
	}
	assert.Len(t, ids, 20)

	// The initializer runs ahead of main's entry instrumentation.
	body := renderBody(mainFn.Body)
	assert.Equal(t, "Init()", body[0])
	assert.Equal(t, "RegGlobal(&g, 16)", body[1])
	assert.Equal(t, "Call(2)", body[2])

	require.NoError(t, StitchCFG(dir, zerolog.Nop()))
	assert.Equal(t, golden["cfg_stitched"], readOutput(t, dir, "cfg"))
}

// Every if in every unit contributes exactly one branch pair, and both
// of its statement ids appear in the cfg.
func TestInstrumenter_BranchPairCoverage(t *testing.T) {
	dir := t.TempDir()
	in := New(Config{Dir: dir}, zerolog.Nop())

	fileA, _ := unitA()
	require.NoError(t, in.InstrumentFile(fileA))

	var pairs [][2]string
	lines := strings.Split(strings.TrimSuffix(readOutput(t, dir, "branches"), "\n"), "\n")
	require.Len(t, lines, 2) // one header, one pair
	fields := strings.Fields(lines[1])
	require.Len(t, fields, 2)
	pairs = append(pairs, [2]string{fields[0], fields[1]})

	cfgSIDs := make(map[string]bool)
	for _, line := range strings.Split(readOutput(t, dir, "cfg"), "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			cfgSIDs[f[0]] = true
		}
	}
	for _, p := range pairs {
		assert.True(t, cfgSIDs[p[0]], "true successor %s missing from cfg", p[0])
		assert.True(t, cfgSIDs[p[1]], "false successor %s missing from cfg", p[1])
	}
}

// collectIDs gathers the first argument of every runtime call.
func collectIDs(b *cast.Block) []int64 {
	var ids []int64
	var walk func(*cast.Block)
	walk = func(b *cast.Block) {
		for _, s := range b.List {
			switch s := s.(type) {
			case *cast.CallStmt:
				if strings.HasPrefix(s.Fn.Name, "__Crest") {
					ids = append(ids, s.Args[0].(*cast.Const).Val)
				}
			case *cast.If:
				walk(s.Then)
				walk(s.Else)
			}
		}
	}
	walk(b)
	return ids
}
