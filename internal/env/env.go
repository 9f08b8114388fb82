// Package env parses dotenv-style variable blocks and composes child
// process environments on top of the daemon's own environment.
package env

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/subosito/gotenv"
)

type Var map[string]string

var entryPrefix = regexp.MustCompile(`^\s*(?:export\s+)?[\w.]+(?:\s*=\s*|:\s+)`)

// Parse reads KEY=value lines. Blank lines, '#' comments and lines that are
// not assignments are skipped. Surrounding quotes are stripped, a quoted value
// may span lines and double-quoted values honour \n escapes. Values are taken
// literally: $VAR references are never expanded. Blank input yields an empty
// map.
func Parse(text string) Var {
	out := make(Var)
	if strings.TrimSpace(text) == "" {
		return out
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		loc := entryPrefix.FindStringIndex(line)
		if loc == nil {
			continue
		}
		head, val := line[:loc[1]], line[loc[1]:]
		q := quoteOf(val)
		if q != 0 && !closes(val[1:], q) {
			end := closingLine(lines, i, q)
			if end < 0 {
				continue
			}
			val = strings.Join(append([]string{val}, lines[i+1:end+1]...), "\n")
			i = end
		}
		if q != '\'' {
			// gotenv expands $VAR unless escaped
			val = strings.ReplaceAll(val, "$", `\$`)
		}
		parseEntry(head+val, out)
	}
	return out
}

// parseEntry hands one assignment to gotenv; entries it rejects are dropped.
func parseEntry(entry string, out Var) {
	parsed, err := gotenv.StrictParse(strings.NewReader(entry))
	if err != nil {
		return
	}
	for k, v := range parsed {
		out[k] = v
	}
}

func quoteOf(val string) byte {
	if val != "" && (val[0] == '"' || val[0] == '\'') {
		return val[0]
	}
	return 0
}

// closingLine finds the line after i that closes quote q, or -1.
func closingLine(lines []string, i int, q byte) int {
	for j := i + 1; j < len(lines); j++ {
		if closes(lines[j], q) {
			return j
		}
	}
	return -1
}

func closes(s string, q byte) bool {
	for k := 0; k < len(s); k++ {
		if q == '"' && s[k] == '\\' {
			k++
			continue
		}
		if s[k] == q {
			return true
		}
	}
	return false
}

type Env struct {
	env Var // cached base from OS environment
}

func New() *Env { return &Env{} }

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.env = base
}

// Merge overlays overrides on the base environment and returns "K=V" pairs
// sorted by key. The OS environment is read on every call unless FromOS
// cached it first.
func (e *Env) Merge(overrides Var) []string {
	base := e.env
	if base == nil {
		fresh := New()
		fresh.FromOS()
		base = fresh.env
	}
	m := make(Var, len(base)+len(overrides))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range overrides {
		if k == "" {
			continue
		}
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
