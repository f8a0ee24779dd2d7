package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Width(12)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const observationWidth = 200

func renderStatus(s execution.Status) string {
	switch s {
	case execution.StatusCompleted:
		return statusComplete.Render(string(s))
	case execution.StatusFailed:
		return statusFailed.Render(string(s))
	default:
		return statusRunning.Render(string(s))
	}
}

func renderRecord(rec execution.Record) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Execution "+rec.ID) + "\n")

	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	field("Status", renderStatus(rec.Status))
	field("Model", rec.Model)
	field("Task", rec.Task)
	field("Created", rec.CreatedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		field("Completed", rec.CompletedAt.Format(time.RFC3339))
		field("Duration", rec.CompletedAt.Sub(rec.CreatedAt).String())
	}
	field("Result", rec.Result)
	if rec.Error != "" {
		field("Error", statusFailed.Render(rec.Error))
	}

	if len(rec.Steps) > 0 {
		var steps strings.Builder
		for i, s := range rec.Steps {
			if i > 0 {
				steps.WriteString("\n")
			}
			fmt.Fprintf(&steps, "%d. %s\n", s.Index, s.Action)
			steps.WriteString(dimStyle.Render("   " + truncate(oneLine(s.Observation), observationWidth)))
		}
		b.WriteString(boxStyle.Render(steps.String()))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderList(recs []execution.Record) string {
	if len(recs) == 0 {
		return dimStyle.Render("no executions")
	}

	var b strings.Builder
	for _, rec := range recs {
		fmt.Fprintf(&b, "%s  %s  %s  %s\n",
			rec.ID,
			renderStatus(rec.Status),
			dimStyle.Render(rec.CreatedAt.Format(time.RFC3339)),
			truncate(oneLine(rec.Task), 60),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSchemaVersion(d store.Dialect, version uint, dirty bool) string {
	s := fmt.Sprintf("%s schema version %d", d, version)
	if dirty {
		s += " " + statusFailed.Render("(dirty)")
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
