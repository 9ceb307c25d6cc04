package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lexcodex/researchbot/experts"
	"github.com/lexcodex/researchbot/framework"
	"github.com/lexcodex/researchbot/research"
)

var (
	colorPrimary   = lipgloss.Color("39")
	colorSecondary = lipgloss.Color("86")
	colorDim       = lipgloss.Color("241")

	answerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	sectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorSecondary)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)
)

func renderResponse(w io.Writer, resp *experts.Response) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s · conversation %s", resp.Expert, resp.ConversationID)))
	fmt.Fprintln(w, answerBoxStyle.Render(strings.TrimSpace(resp.Response)))
	renderSources(w, resp)
}

func renderSources(w io.Writer, resp *experts.Response) {
	sources, _ := resp.Metadata["sources"].([]research.SourceRef)
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, sectionHeaderStyle.Render("Sources"))
	for i, src := range sources {
		fmt.Fprintf(w, "  %d. %s\n     %s\n", i+1, src.Title, dimStyle.Render(src.URL))
	}
	if loops, ok := resp.Metadata["research_loops"].(int); ok {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("research loops: %d", loops)))
	}
}

func renderHistory(w io.Writer, id string, messages []framework.Message) {
	fmt.Fprintln(w, headerStyle.Render("conversation "+id))
	if len(messages) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no messages"))
		return
	}
	for _, msg := range messages {
		role := color.CyanString(msg.Role)
		if msg.Role == framework.RoleAssistant {
			role = color.GreenString(msg.Role)
		}
		stamp := ""
		if !msg.Timestamp.IsZero() {
			stamp = dimStyle.Render(msg.Timestamp.Local().Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(w, "%s %s\n%s\n\n", role, stamp, strings.TrimSpace(msg.Content))
	}
}

func renderExperts(w io.Writer, current experts.Type, infos []experts.Info) {
	for _, info := range infos {
		marker := "  "
		name := string(info.Type)
		if info.Type == current {
			marker = color.GreenString("* ")
			name = headerStyle.Render(name)
		}
		fmt.Fprintf(w, "%s%s  %s\n", marker, name, dimStyle.Render(info.Description))
	}
}

func traceWriter(opts *globalOptions, cmd *cobra.Command) io.Writer {
	if !opts.trace {
		return nil
	}
	return cmd.ErrOrStderr()
}
