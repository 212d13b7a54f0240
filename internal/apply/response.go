package apply

import (
	"encoding/json"
)

// Change is one file-scoped proposed modification.
type Change struct {
	Path        string `json:"path" yaml:"path"`
	UnifiedDiff string `json:"unified_diff" yaml:"unified_diff"`
}

// Evidence points at the context a change was based on.
type Evidence struct {
	SnippetID string `json:"snippet_id"`
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Reason    string `json:"reason"`
}

// Response is the decoded patch object returned by a patch request.
type Response struct {
	Summary          string
	Rationale        string
	EvidencePointers []Evidence
	Diffs            []Change
}

// ParseResponse decodes a patch object leniently. A diffs value that is not
// an array yields no changes; entries that are not objects become empty
// changes, which the Applier skips.
func ParseResponse(raw json.RawMessage) *Response {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &Response{}
	}

	resp := &Response{}
	_ = json.Unmarshal(fields["summary"], &resp.Summary)
	_ = json.Unmarshal(fields["rationale"], &resp.Rationale)

	var evidence []json.RawMessage
	if json.Unmarshal(fields["evidence_pointers"], &evidence) == nil {
		for _, item := range evidence {
			var e Evidence
			if json.Unmarshal(item, &e) == nil {
				resp.EvidencePointers = append(resp.EvidencePointers, e)
			}
		}
	}

	var diffs []json.RawMessage
	if json.Unmarshal(fields["diffs"], &diffs) != nil {
		return resp
	}
	for _, item := range diffs {
		var entry map[string]json.RawMessage
		var c Change
		if json.Unmarshal(item, &entry) == nil {
			_ = json.Unmarshal(entry["path"], &c.Path)
			_ = json.Unmarshal(entry["unified_diff"], &c.UnifiedDiff)
		}
		resp.Diffs = append(resp.Diffs, c)
	}
	return resp
}
