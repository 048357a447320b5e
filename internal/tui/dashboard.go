// Package tui renders a live dashboard for a running sweep: current
// subject, synthesized command, attempt outcomes, and a scrolling event
// feed. It consumes the sweep's event stream and never touches sweep
// state directly.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/launchsweep/launchsweep/internal/sweep"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginBottom(1)

	subjectStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	commandStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

// eventMsg wraps one sweep event for the Bubbletea update loop.
type eventMsg sweep.Event

// eventsClosedMsg signals that the sweep's event stream ended.
type eventsClosedMsg struct{}

// Dashboard is the root Bubbletea model.
type Dashboard struct {
	events <-chan sweep.Event
	unsub  func()

	spinner  spinner.Model
	feed     viewport.Model
	feedInit bool

	width  int
	height int

	subject string
	attempt int
	command string
	history []string

	total  int
	passed int
	failed int
	done   bool
	start  time.Time
}

// New creates a Dashboard consuming events for a sweep over total
// subjects. unsub is invoked when the dashboard shuts down.
func New(events <-chan sweep.Event, unsub func(), total int) *Dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))

	return &Dashboard{
		events:  events,
		unsub:   unsub,
		spinner: sp,
		total:   total,
		start:   time.Now(),
	}
}

// Run drives the dashboard until the sweep finishes or the user quits.
func Run(events *sweep.Broadcaster, total int) error {
	ch, unsub := events.Subscribe()
	d := New(ch, unsub, total)
	p := tea.NewProgram(d, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init starts the spinner and the event pump.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spinner.Tick, d.waitForEvent())
}

// waitForEvent blocks on the next sweep event.
func (d *Dashboard) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-d.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update processes messages.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.resizeFeed()
		return d, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			d.unsub()
			return d, tea.Quit
		case "up", "k":
			d.feed.LineUp(1)
		case "down", "j":
			d.feed.LineDown(1)
		case "pgup":
			d.feed.HalfViewUp()
		case "pgdown":
			d.feed.HalfViewDown()
		}
		return d, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd

	case eventMsg:
		d.apply(sweep.Event(msg))
		if d.done {
			d.unsub()
			return d, tea.Quit
		}
		return d, d.waitForEvent()

	case eventsClosedMsg:
		d.unsub()
		return d, tea.Quit
	}

	return d, nil
}

// apply folds one sweep event into the dashboard state.
func (d *Dashboard) apply(ev sweep.Event) {
	switch ev.Kind {
	case sweep.EventSubjectStarted:
		d.subject = ev.Subject
		d.attempt = 1
		d.command = ""
		d.appendFeed(subjectStyle.Render(ev.Subject))

	case sweep.EventCommandReady:
		d.attempt = ev.Attempt
		d.command = ev.Command
		d.appendFeed(dimStyle.Render(fmt.Sprintf("  attempt %d command ready", ev.Attempt)))

	case sweep.EventAttemptDone:
		d.attempt = ev.Attempt
		d.appendFeed(fmt.Sprintf("  attempt %d: %s", ev.Attempt, renderOutcome(ev.Outcome)))

	case sweep.EventSubjectResolved:
		if ev.Note == "" {
			d.passed++
			d.appendFeed(passStyle.Render("  ✓ passed"))
		} else {
			d.failed++
			d.appendFeed(failStyle.Render("  ✗ " + ev.Note))
		}

	case sweep.EventSweepDone:
		d.done = true
	}
}

// renderOutcome colors an attempt outcome.
func renderOutcome(o sweep.Outcome) string {
	switch o {
	case sweep.OutcomeSuccess:
		return passStyle.Render(o.String())
	case sweep.OutcomeFailure, sweep.OutcomeUnknown:
		return failStyle.Render(o.String())
	default:
		return dimStyle.Render(o.String())
	}
}

// appendFeed adds a line to the scrolling event feed.
func (d *Dashboard) appendFeed(line string) {
	d.history = append(d.history, line)
	if d.feedInit {
		d.feed.SetContent(strings.Join(d.history, "\n"))
		d.feed.GotoBottom()
	}
}

// resizeFeed lays the viewport out under the header block.
func (d *Dashboard) resizeFeed() {
	headerHeight := 9
	h := d.height - headerHeight
	if h < 3 {
		h = 3
	}
	if !d.feedInit {
		d.feed = viewport.New(d.width, h)
		d.feedInit = true
	} else {
		d.feed.Width = d.width
		d.feed.Height = h
	}
	d.feed.SetContent(strings.Join(d.history, "\n"))
	d.feed.GotoBottom()
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("launchsweep"))
	b.WriteString("\n")

	resolved := d.passed + d.failed
	b.WriteString(fmt.Sprintf("%s %s  %s  %s\n",
		d.spinner.View(),
		dimStyle.Render(fmt.Sprintf("%d/%d", resolved, d.total)),
		passStyle.Render(fmt.Sprintf("%d passed", d.passed)),
		failStyle.Render(fmt.Sprintf("%d failed", d.failed)),
	))

	if d.subject != "" {
		b.WriteString(fmt.Sprintf("%s %s\n",
			subjectStyle.Render(d.subject),
			dimStyle.Render(fmt.Sprintf("(attempt %d)", d.attempt)),
		))
	}

	if d.command != "" {
		b.WriteString(commandStyle.Render(highlightCommand(d.command, d.width-4)))
		b.WriteString("\n")
	}

	if d.feedInit {
		b.WriteString(d.feed.View())
	}

	b.WriteString(helpStyle.Render("↑/↓ scroll · q quit"))
	return b.String()
}

// highlightCommand syntax-highlights a shell command for display, falling
// back to the raw text when highlighting fails.
func highlightCommand(command string, width int) string {
	display := command
	if width > 0 && len(display) > width*3 {
		display = display[:width*3] + "…"
	}

	var hl strings.Builder
	if err := quick.Highlight(&hl, display, "bash", "terminal256", "monokai"); err != nil {
		return display
	}
	return strings.TrimRight(hl.String(), "\n")
}
