package instrument

import (
	"fmt"
	"os"
	"path/filepath"
)

// Counter file names. Each holds a single ASCII decimal followed by a
// newline.
const (
	idCountFile   = "idcount"
	stmtCountFile = "stmtcount"
	funCountFile  = "funcount"
)

// Counters holds the disk-backed id counters that keep instrumentation
// ids, statement ids, and function ids unique across translation units.
// Counters are never rolled back: a crash mid-pass leaves them advanced,
// which is safe because identifiers stay unique.
type Counters struct {
	dir string

	id   int32
	stmt int32
	fn   uint32
}

// LoadCounters reads the counter files in dir. A missing or unreadable
// file counts from zero.
func LoadCounters(dir string) *Counters {
	return &Counters{
		dir:  dir,
		id:   int32(readCounter(filepath.Join(dir, idCountFile))),
		stmt: int32(readCounter(filepath.Join(dir, stmtCountFile))),
		fn:   uint32(readCounter(filepath.Join(dir, funCountFile))),
	}
}

// readCounter returns the integer stored in path, or zero.
func readCounter(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var n int64
	if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
		return 0
	}
	return n
}

// Save overwrites the counter files with the current values. Failure to
// write is fatal to the pass.
func (c *Counters) Save() error {
	if err := writeCounter(filepath.Join(c.dir, idCountFile), int64(c.id)); err != nil {
		return err
	}
	if err := writeCounter(filepath.Join(c.dir, stmtCountFile), int64(c.stmt)); err != nil {
		return err
	}
	return writeCounter(filepath.Join(c.dir, funCountFile), int64(c.fn))
}

func writeCounter(path string, n int64) error {
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", n)), 0o644); err != nil {
		return fmt.Errorf("instrument: write counter %s: %w", filepath.Base(path), err)
	}
	return nil
}

// NextID returns the next instrumentation id.
func (c *Counters) NextID() int32 {
	c.id++
	return c.id
}

// NextStmtID returns the next statement id.
func (c *Counters) NextStmtID() int32 {
	c.stmt++
	return c.stmt
}

// NextFuncID returns the next function id.
func (c *Counters) NextFuncID() uint32 {
	c.fn++
	return c.fn
}
