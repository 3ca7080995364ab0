package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/docrag/internal/client"
	"github.com/raphaelgruber/docrag/internal/models"
	"golang.org/x/term"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobUpdateMsg carries a status report pushed by the server.
type jobUpdateMsg struct {
	report models.JobStatusReport
}

// watchDoneMsg is sent when the watch stream ends.
type watchDoneMsg struct {
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	jobID    string
	report   *models.JobStatusReport
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(jobID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		jobID:    jobID,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case jobUpdateMsg:
		m.report = &msg.report
		if m.report.Status.Terminal() {
			m.done = true
			m.err = reportError(m.report)
			return m, tea.Quit
		}
		return m, nil

	case watchDoneMsg:
		m.done = true
		if msg.err != nil {
			m.err = fmt.Errorf("watch job: %w", msg.err)
		} else if m.report != nil {
			m.err = reportError(m.report)
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.report == nil {
		return "Waiting for job status...\n"
	}

	p := m.report.Progress
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.report.Status))
	bar := m.progress.ViewAs(p.Percentage / 100)
	counts := fmt.Sprintf("%d/%d files", p.ProcessedFiles, p.TotalFiles)
	if p.FailedFiles > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", p.FailedFiles))
	}
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'docrag jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}
	if m.report == nil {
		return m.theme.completedStyle().Render("✓ Completed\n")
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n\n" + summarize(m.report)
}

// summarize renders the counters and per-file errors of a finished job.
func summarize(r *models.JobStatusReport) string {
	var b strings.Builder
	p := r.Progress
	fmt.Fprintf(&b, "  Files processed: %d/%d\n", p.ProcessedFiles, p.TotalFiles)
	fmt.Fprintf(&b, "  Files failed:    %d\n", p.FailedFiles)
	fmt.Fprintf(&b, "  Success rate:    %.1f%%\n", p.SuccessRate)
	if len(r.Metadata.FileErrors) > 0 {
		fmt.Fprintf(&b, "\n  Errors (%d):\n", len(r.Metadata.FileErrors))
		for _, fe := range r.Metadata.FileErrors {
			fmt.Fprintf(&b, "    - %s: %s\n", fe.Filename, fe.Error)
		}
	}
	return b.String()
}

// reportError turns a failed job into an error.
func reportError(r *models.JobStatusReport) error {
	if r.Status != models.JobFailed {
		return nil
	}
	if r.ErrorMessage != nil && *r.ErrorMessage != "" {
		return errors.New(*r.ErrorMessage)
	}
	return errors.New("job failed with unknown error")
}

// followJob watches a job until it finishes. It draws a progress bar when
// stdout is a terminal and prints one line per update otherwise.
func followJob(ctx context.Context, c *client.Client, jobID string) error {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return runJobProgress(ctx, c, jobID)
	}
	return printJobProgress(ctx, c, jobID)
}

// runJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C (background), error on job failure.
func runJobProgress(ctx context.Context, c *client.Client, jobID string) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(jobID))
	go func() {
		_, err := c.WatchJob(watchCtx, jobID, func(r models.JobStatusReport) error {
			p.Send(jobUpdateMsg{report: r})
			return nil
		})
		if watchCtx.Err() == nil {
			p.Send(watchDoneMsg{err: err})
		}
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		return m.err
	}
	return nil
}

// printJobProgress writes one line per status change.
func printJobProgress(ctx context.Context, c *client.Client, jobID string) error {
	final, err := c.WatchJob(ctx, jobID, func(r models.JobStatusReport) error {
		p := r.Progress
		fmt.Fprintf(out, "[%s] %d/%d files (%.1f%%)\n", r.Status, p.ProcessedFiles, p.TotalFiles, p.Percentage)
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch job: %w", err)
	}
	if final == nil {
		return nil
	}
	if err := reportError(final); err != nil {
		return err
	}
	fmt.Fprint(out, summarize(final))
	return nil
}
