package trainer

import (
	"os"
	"path/filepath"
	"strings"
)

// WithPythonPath returns a copy of environ whose PYTHONPATH has dirs
// prepended. Existing entries are kept after the new ones.
func WithPythonPath(environ []string, dirs []string) []string {
	const key = "PYTHONPATH="

	existing := ""
	out := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if strings.HasPrefix(kv, key) {
			existing = strings.TrimPrefix(kv, key)
			continue
		}
		out = append(out, kv)
	}

	parts := make([]string, 0, len(dirs)+1)
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		parts = append(parts, d)
	}
	parts = append(parts, existing)
	return append(out, key+strings.Join(parts, string(os.PathListSeparator)))
}
