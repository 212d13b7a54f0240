package verify

import (
	"os"
	"path/filepath"
)

// manifests maps a lockfile or manifest to the checks run when it is found.
// The first match wins.
var manifests = []struct {
	file     string
	commands []string
}{
	{"pnpm-lock.yaml", []string{"pnpm run lint 2>/dev/null || pnpm exec eslint . 2>/dev/null || true", "pnpm test"}},
	{"yarn.lock", []string{"yarn lint 2>/dev/null || true", "yarn test"}},
	{"package-lock.json", []string{"npm run lint 2>/dev/null || true", "npm test"}},
	{"pyproject.toml", []string{"uv run pytest -q 2>/dev/null || python -m pytest -q 2>/dev/null || true"}},
}

// DefaultCommands picks verification commands from the files present in
// root. It returns `true` when nothing is recognized.
func DefaultCommands(root string) []string {
	for _, m := range manifests {
		if _, err := os.Stat(filepath.Join(root, m.file)); err == nil {
			return append([]string(nil), m.commands...)
		}
	}
	return []string{"true"}
}
