package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"

	"github.com/launchsweep/launchsweep/internal/config"
	"github.com/launchsweep/launchsweep/internal/ledger"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
)

// RunStatus prints a per-subject status table for the ledger.
func RunStatus(w io.Writer, ledgerPath string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	led, err := ledger.Load(ledgerPath, cfg.EffectivePassedStatus())
	if err != nil {
		return err
	}

	width := terminalWidth()

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-*s %-8s %s", idWidth(led, width), "SUBJECT", "STATUS", "NOTE")))
	for _, s := range led.Subjects() {
		fmt.Fprintf(w, "%-*s %s %s\n",
			idWidth(led, width), s.ID,
			renderStatus(s.Status),
			mutedStyle.Render(truncate(s.Note, width-idWidth(led, width)-10)),
		)
	}

	passed, failed, pending := led.Counts()
	fmt.Fprintf(w, "\n%s  %s  %s\n",
		passedStyle.Render(fmt.Sprintf("%d passed", passed)),
		failedStyle.Render(fmt.Sprintf("%d failed", failed)),
		pendingStyle.Render(fmt.Sprintf("%d pending", pending)),
	)
	return nil
}

// renderStatus colors a status in a fixed-width cell.
func renderStatus(st ledger.Status) string {
	cell := fmt.Sprintf("%-8s", st)
	switch st {
	case ledger.StatusPassed:
		return passedStyle.Render(cell)
	case ledger.StatusFailed:
		return failedStyle.Render(cell)
	default:
		return pendingStyle.Render(cell)
	}
}

// idWidth sizes the subject column to its longest entry, bounded by the
// terminal width.
func idWidth(led *ledger.Ledger, termWidth int) int {
	w := len("SUBJECT")
	for _, s := range led.Subjects() {
		if len(s.ID) > w {
			w = len(s.ID)
		}
	}
	if max := termWidth / 2; w > max {
		w = max
	}
	return w
}

// terminalWidth reports the stdout width, defaulting to 100 when stdout is
// not a terminal.
func terminalWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 100
}

// truncate shortens s to at most n characters, never splitting a rune.
func truncate(s string, n int) string {
	if n < 4 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
