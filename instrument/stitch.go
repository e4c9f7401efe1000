package instrument

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// StitchCFG resolves the cross-unit call edges left in the cfg file.
// During instrumentation a call to a function defined in another
// translation unit is recorded by name; once every unit has been
// processed, the function map pins each name to its first statement id
// and the names can be replaced. Names with no definition anywhere, such
// as library calls, are dropped from the edge list with a diagnostic.
func StitchCFG(dir string, log zerolog.Logger) error {
	firstByName, err := readFuncMap(filepath.Join(dir, funcMapFile))
	if err != nil {
		return err
	}

	cfgPath := filepath.Join(dir, cfgFile)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("instrument: read cfg: %w", err)
	}

	var out strings.Builder
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		resolved := fields[:1]
		for _, tok := range fields[1:] {
			if _, err := strconv.Atoi(tok); err == nil {
				resolved = append(resolved, tok)
				continue
			}
			if sid, ok := firstByName[tok]; ok {
				resolved = append(resolved, strconv.Itoa(int(sid)))
				continue
			}
			log.Debug().Str("callee", tok).Msg("call target defined nowhere; dropping edge")
		}
		out.WriteString(strings.Join(resolved, " "))
		out.WriteByte('\n')
	}

	if err := os.WriteFile(cfgPath, []byte(out.String()), 0o644); err != nil {
		return fmt.Errorf("instrument: rewrite cfg: %w", err)
	}
	return nil
}

// readFuncMap parses cfg_func_map into a name-to-first-statement map.
func readFuncMap(path string) (map[string]int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("instrument: read function map: %w", err)
	}

	m := make(map[string]int32)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		var name string
		var sid int32
		if _, err := fmt.Sscanf(sc.Text(), "%s %d", &name, &sid); err != nil {
			continue
		}
		m[name] = sid
	}
	return m, nil
}
