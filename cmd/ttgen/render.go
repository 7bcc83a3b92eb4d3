package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/orchestrator"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/progress"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/readiness"
)

var (
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func renderPhases(p progress.Projection) string {
	lines := make([]string, 0, len(p.Phases)+1)
	for i, ph := range p.Phases {
		label := fmt.Sprintf("%d. %s", i+1, ph.Label)
		switch ph.State {
		case progress.StateDone:
			lines = append(lines, doneStyle.Render("✓ "+label))
		case progress.StateInProgress:
			lines = append(lines, activeStyle.Render("▶ "+label))
		default:
			lines = append(lines, pendingStyle.Render("· "+label))
		}
	}
	lines = append(lines, fmt.Sprintf("%d%%", p.Percent))
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderView(v orchestrator.View) string {
	switch v.State {
	case orchestrator.StateCompleted:
		return lipgloss.JoinVertical(lipgloss.Left, renderPhases(v.Progress), doneStyle.Render(v.Message))
	case orchestrator.StateFailed:
		lines := []string{errorStyle.Render(v.Message)}
		if v.Err != nil {
			lines = append(lines, pendingStyle.Render(v.Err.Error()))
		}
		return strings.Join(lines, "\n")
	case orchestrator.StateIdle:
		if v.Message != "" {
			return errorStyle.Render(v.Message)
		}
		return ""
	default:
		return renderPhases(v.Progress)
	}
}

func renderReadiness(snap domain.ValidationSnapshot) string {
	if snap.Overall.Ready {
		return doneStyle.Render("Ready to generate.")
	}
	return renderBlocked(&orchestrator.NotReadyError{Blocking: readiness.Blocking(snap)})
}

func renderBlocked(err *orchestrator.NotReadyError) string {
	return errorStyle.Render(err.Error())
}

// progressPrinter writes one line per phase change while a job runs.
type progressPrinter struct {
	w       io.Writer
	lastKey string
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) Update(v orchestrator.View) {
	if v.State != orchestrator.StatePolling {
		return
	}
	ph, ok := v.Progress.Current()
	if !ok {
		return
	}
	key := fmt.Sprintf("%s/%s/%d", v.JobID, v.JobStatus, v.Progress.Index)
	if key == p.lastKey {
		return
	}
	p.lastKey = key
	fmt.Fprintf(p.w, "%s phase %d/%d %s (%d%%)\n",
		activeStyle.Render(string(v.JobStatus)), v.Progress.Index+1, len(v.Progress.Phases), ph.Label, v.Progress.Percent)
}
