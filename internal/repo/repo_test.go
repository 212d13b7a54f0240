package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/patchloop/internal/testutil"
)

func TestFindRoot(t *testing.T) {
	root := testutil.SetupRepo(t, map[string]string{"pkg/sub/file.go": "package sub"})
	root, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	t.Run("from root", func(t *testing.T) {
		assert.Equal(t, root, FindRoot(root))
	})

	t.Run("from nested directory", func(t *testing.T) {
		assert.Equal(t, root, FindRoot(filepath.Join(root, "pkg", "sub")))
	})

	t.Run("git file for worktrees", func(t *testing.T) {
		dir := t.TempDir()
		dir, err := filepath.EvalSymlinks(dir)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: /elsewhere"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
		assert.Equal(t, dir, FindRoot(filepath.Join(dir, "a")))
	})
}

func TestFindRoot_Fallback(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, strings.Repeat("d/", 25))
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))

	// .git sits more than 20 parents above the start.
	assert.Equal(t, deep, FindRoot(deep))
}

func TestListCodeFiles(t *testing.T) {
	root := testutil.SetupRepo(t, map[string]string{
		"README.md":                 "# x",
		"cmd/main.go":               "package main",
		"web/app.tsx":               "",
		"web/node_modules/dep/x.js": "",
		"assets/logo.png":           "",
		"notes.txt":                 "",
		"lib/Thing.JAVA":            "",
	})

	got := ListCodeFiles(root, 50)
	assert.Equal(t, []string{"README.md", "cmd/main.go", "lib/Thing.JAVA", "web/app.tsx"}, got)
}

func TestListCodeFiles_MaxFiles(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		files[name] = ""
	}
	root := testutil.SetupRepo(t, files)

	assert.Equal(t, []string{"a.go", "b.go"}, ListCodeFiles(root, 2))
	assert.Empty(t, ListCodeFiles(root, 0))
}

func TestGatherContext(t *testing.T) {
	empty := testutil.SetupRepo(t, map[string]string{"data.bin": ""})
	assert.Equal(t, NoFilesFound, GatherContext(empty, 50))

	root := testutil.SetupRepo(t, map[string]string{"a.py": "", "b.rs": ""})
	assert.Equal(t, "a.py\nb.rs", GatherContext(root, 50))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "éé", Truncate("ééé", 2))
	assert.Equal(t, "", Truncate("abc", -1))
}
