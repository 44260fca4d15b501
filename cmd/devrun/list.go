package main

import (
	"fmt"
	"strings"

	"github.com/AltoxaM/devrun/internal/color"
	"github.com/AltoxaM/devrun/tasks"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/dedent"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	italicStyle = lipgloss.NewStyle().Italic(true)
)

// tasklistText renders every task in reg, in registration order, which puts
// each task's dependencies above it.
func tasklistText(reg *tasks.Registry) string {
	b := &strings.Builder{}
	fmt.Fprintln(b, headerStyle.Render("TASKS"))
	for i, id := range reg.IDs() {
		if i != 0 {
			b.WriteString("\n")
		}
		meta := reg.Task(id).Metadata()

		fmt.Fprintf(b, "  %s\n", color.RenderHash(id))
		fmt.Fprintf(b, "    Type: %s\n", italicStyle.Render(meta.Type))
		if meta.Type == "group" {
			fmt.Fprintf(b, "    Mode: %s\n", italicStyle.Render(meta.Mode.String()))
		}
		if meta.Description != "" {
			fmt.Fprintf(b, "    Description:\n")
			desc := strings.TrimRight(dedent.String(meta.Description), "\n")
			desc = wordwrap.String(desc, 66)
			b.WriteString(indent.String(italicStyle.Render(desc), 6) + "\n")
		}
		if len(meta.Dependencies) != 0 {
			fmt.Fprintf(b, "    Dependencies:\n")
			for _, dep := range meta.Dependencies {
				fmt.Fprintf(b, "      - %s\n", dep)
			}
		}
	}
	return b.String()
}
