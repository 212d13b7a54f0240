// Package repo locates the repository a run operates on and lists the files
// offered to the model as context.
package repo

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxParents bounds how far FindRoot climbs.
const maxParents = 20

// NoFilesFound is the context text for a tree without code files.
const NoFilesFound = "(no code files found)"

// codeExtensions lists the file types offered as context.
var codeExtensions = map[string]bool{
	".ts":   true,
	".tsx":  true,
	".js":   true,
	".jsx":  true,
	".py":   true,
	".go":   true,
	".rs":   true,
	".java": true,
	".md":   true,
}

// skippedDirectories are never descended into.
var skippedDirectories = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// FindRoot returns the nearest directory at or above start that contains a
// .git entry, checking at most 20 parents. It falls back to start.
func FindRoot(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for i := 0; i <= maxParents; i++ {
		// .git can be a directory (normal repo) or a file (worktree)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return start
}

// ListCodeFiles returns up to maxFiles code file paths under root, relative
// to root with forward slashes, in lexical walk order.
func ListCodeFiles(root string, maxFiles int) []string {
	var paths []string
	if maxFiles <= 0 {
		return paths
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Continue on errors (permission denied, etc.)
		}
		if d.IsDir() {
			if path != root && skippedDirectories[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !codeExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		if len(paths) >= maxFiles {
			return fs.SkipAll
		}
		return nil
	})
	return paths
}

// GatherContext renders the code file listing used in prompts, one path per
// line, or NoFilesFound.
func GatherContext(root string, maxFiles int) string {
	paths := ListCodeFiles(root, maxFiles)
	if len(paths) == 0 {
		return NoFilesFound
	}
	return strings.Join(paths, "\n")
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
