package apply

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Stats summarizes a unified diff.
type Stats struct {
	Files        int
	LinesAdded   int
	LinesDeleted int
	// Targets are the post-image paths named in the diff headers.
	Targets []string
}

// DiffStats parses body as a multi-file unified diff. Diffs the parser
// rejects yield ok=false; the patch tool is still the judge of whether a
// change applies.
func DiffStats(body string) (stats Stats, ok bool) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(body)).ReadAllFiles()
	if err != nil || len(fileDiffs) == 0 {
		return Stats{}, false
	}

	stats.Files = len(fileDiffs)
	for _, fd := range fileDiffs {
		name := fd.NewName
		if name == "/dev/null" {
			name = fd.OrigName
		}
		stats.Targets = append(stats.Targets, name)

		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					stats.LinesAdded++
				case strings.HasPrefix(line, "-"):
					stats.LinesDeleted++
				}
			}
		}
	}
	return stats, true
}

// stripComponents removes the first n slash-separated components of p, the
// way `patch -p<n>` reads header paths.
func stripComponents(p string, n int) string {
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(p, '/')
		if idx < 0 {
			return p
		}
		p = p[idx+1:]
	}
	return p
}
