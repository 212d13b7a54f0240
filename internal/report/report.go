// Package report renders the outcome of a run for people (text) and for
// scripts (json, yaml).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/Iron-Ham/patchloop/internal/loop"
)

// Format selects the renderer.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Header opens the text summary.
const Header = "--- PR-style summary ---"

// ReasonInternal is the error reason of a failure whose message is not meant
// for display on its own.
const ReasonInternal = "Run failed"

var (
	primaryColor = lipgloss.Color("#A78BFA")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")
)

// styles are bound to the renderer of the output writer so colors are
// dropped when it is not a terminal.
type styles struct {
	header  lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(primaryColor),
		label:   r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(mutedColor),
		success: r.NewStyle().Foreground(successColor),
		failure: r.NewStyle().Foreground(errorColor),
	}
}

// Render writes res to w in the given format.
func Render(w io.Writer, res *loop.Result, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case FormatYAML:
		return encodeYAML(w, res)
	case FormatText, "":
		return renderText(w, res)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderText(w io.Writer, res *loop.Result) error {
	s := newStyles(w)
	var b strings.Builder

	b.WriteString(s.header.Render(Header) + "\n")
	b.WriteString(res.Summary + "\n")
	if res.PlanID != "" {
		b.WriteString(s.muted.Render("Plan: "+res.PlanID) + "\n")
	}
	b.WriteString("\n")

	writeList(&b, s, "Files changed", res.FilesChanged)
	writeList(&b, s, "Tests run", res.TestsRun)
	writeList(&b, s, "Acceptance criteria", res.AcceptanceCriteria)
	writeList(&b, s, "Known limitations", res.KnownLimitations)
	writeList(&b, s, "Follow-ups", res.FollowUps)

	if len(res.Milestones) > 0 {
		b.WriteString("\n" + s.label.Render("Milestones:") + "\n")
		for _, m := range res.Milestones {
			status := s.failure.Render(string(m.StopReason))
			if m.Passed {
				status = s.success.Render(string(m.StopReason))
			}
			fmt.Fprintf(&b, "  %s  %s  %d attempt(s)", m.MilestoneID, status, m.Attempts)
			if !m.Passed && m.LastFailure != "" {
				b.WriteString(s.muted.Render("  last failure: " + m.LastFailure))
			}
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(b *strings.Builder, s styles, label string, items []string) {
	if len(items) == 0 {
		b.WriteString(s.label.Render(label+":") + " " + s.muted.Render("none") + "\n")
		return
	}
	b.WriteString(s.label.Render(label+":") + "\n")
	for _, item := range items {
		b.WriteString("  - " + item + "\n")
	}
}

// ErrorResult is the machine-readable form of an aborted run.
type ErrorResult struct {
	Error       string `json:"error" yaml:"error"`
	Detail      string `json:"detail,omitempty" yaml:"detail,omitempty"`
	RawResponse string `json:"raw_response,omitempty" yaml:"raw_response,omitempty"`
	Milestone   string `json:"milestone,omitempty" yaml:"milestone,omitempty"`
	Phase       string `json:"phase,omitempty" yaml:"phase,omitempty"`
}

// NewErrorResult converts err into an ErrorResult. Other user-facing errors
// use their message as the reason; anything else is reported as
// ReasonInternal with the message as detail.
func NewErrorResult(err error) ErrorResult {
	var loopErr *errors.LoopError
	if errors.As(err, &loopErr) {
		return ErrorResult{
			Error:       loopErr.Reason,
			Detail:      loopErr.Detail,
			RawResponse: loopErr.RawResponse,
			Milestone:   loopErr.MilestoneID,
			Phase:       loopErr.Phase,
		}
	}
	if errors.IsUserFacing(err) {
		return ErrorResult{Error: err.Error()}
	}
	return ErrorResult{Error: ReasonInternal, Detail: err.Error()}
}

// RenderError writes a failed run to w. The text form is the reason on one
// line followed by the detail, if any.
func RenderError(w io.Writer, err error, format Format) error {
	res := NewErrorResult(err)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case FormatYAML:
		return encodeYAML(w, res)
	default:
		s := newStyles(w)
		var b strings.Builder
		b.WriteString(s.failure.Render("patchloop error:") + " " + res.Error + "\n")
		if res.Milestone != "" {
			b.WriteString(s.muted.Render("milestone: "+res.Milestone) + "\n")
		}
		if res.Detail != "" {
			b.WriteString(res.Detail + "\n")
		}
		_, werr := io.WriteString(w, b.String())
		return werr
	}
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
