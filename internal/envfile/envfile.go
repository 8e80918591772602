package envfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aishah914/smolpc-gimp/internal/appdirs"
)

// OverrideVar names a single .env file to read instead of the search.
const OverrideVar = "SMOLPC_ENV_PATH"

type Result struct {
	Path   string
	Loaded bool
	Keys   int
	Err    error
}

// Load reads the .env files for the engine and returns one Result per file
// found. Without SMOLPC_ENV_PATH the search is: the nearest .env above the
// working directory (a gimp-mcp checkout during development), then the .env
// next to config.toml. Variables already set are never replaced, so the
// process environment wins over the checkout file, which wins over the data
// directory file. The data directory is resolved after the first file so that
// file may set SMOLPC_DATA_DIR.
func Load() []Result {
	if override := strings.TrimSpace(os.Getenv(OverrideVar)); override != "" {
		return []Result{LoadPath(override)}
	}
	var results []Result
	seen := map[string]bool{}
	if cwd, err := os.Getwd(); err == nil {
		if path := findUpwards(cwd, ".env"); path != "" {
			seen[path] = true
			results = append(results, LoadPath(path))
		}
	}
	if dataDir, err := appdirs.DataDir(); err == nil {
		path := appdirs.EnvPath(dataDir)
		if !seen[path] {
			if res := LoadPath(path); !errors.Is(res.Err, os.ErrNotExist) {
				results = append(results, res)
			}
		}
	}
	return results
}

// LoadPath applies one file to the process environment.
func LoadPath(path string) Result {
	res := Result{Path: path}
	file, err := os.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer file.Close()
	res.Loaded = true
	vars, err := Parse(file)
	for _, v := range vars {
		if _, exists := os.LookupEnv(v.Key); exists {
			continue
		}
		if setErr := os.Setenv(v.Key, v.Value); setErr != nil {
			res.Err = setErr
			return res
		}
		res.Keys++
	}
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", path, err)
	}
	return res
}

type Var struct {
	Key   string
	Value string
}

// Parse reads KEY=VALUE lines in file order. Blank lines, # comments and an
// optional "export " prefix are accepted. Unquoted values end at " #".
// Double-quoted values understand \n, \t, \" and \\; single-quoted values are
// taken literally. Lines without a key are skipped.
func Parse(r io.Reader) ([]Var, error) {
	var vars []Var
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		vars = append(vars, Var{Key: key, Value: parseValue(strings.TrimSpace(raw))})
	}
	return vars, scanner.Err()
}

func parseValue(raw string) string {
	if raw == "" {
		return ""
	}
	switch raw[0] {
	case '\'':
		if end := strings.IndexByte(raw[1:], '\''); end >= 0 {
			return raw[1 : end+1]
		}
		return raw
	case '"':
		var b strings.Builder
		for i := 1; i < len(raw); i++ {
			c := raw[i]
			if c == '"' {
				return b.String()
			}
			if c == '\\' && i+1 < len(raw) {
				i++
				switch raw[i] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				default:
					b.WriteByte(raw[i])
				}
				continue
			}
			b.WriteByte(c)
		}
		return raw
	}
	if idx := strings.Index(raw, " #"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}

func findUpwards(start, filename string) string {
	for dir := start; ; {
		candidate := filepath.Join(dir, filename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
