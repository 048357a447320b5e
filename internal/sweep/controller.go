// Package sweep drives the launch-validation loop: select the next
// unresolved subject, synthesize a command, execute it, classify the
// evidence, retry with feedback, and persist the verdict. Subjects are
// processed strictly one at a time; every launch competes for the same
// exclusive resources, so there is no parallelism to exploit.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/launchsweep/launchsweep/internal/ledger"
	"github.com/launchsweep/launchsweep/internal/runner"
)

// Phase is where the controller is inside one subject's lifecycle.
type Phase int

const (
	PhaseSelect Phase = iota
	PhaseSynthesize
	PhaseExecute
	PhaseClassify
	PhaseDone
)

// String returns a short name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSelect:
		return "select"
	case PhaseSynthesize:
		return "synthesize"
	case PhaseExecute:
		return "execute"
	case PhaseClassify:
		return "classify"
	default:
		return "done"
	}
}

// Synthesizer produces a launch command for a subject. Satisfied by
// *synth.Synthesizer.
type Synthesizer interface {
	Generate(ctx context.Context, subjectID string, attempt int, feedback string) (string, error)
}

// Runner executes one launch command. Satisfied by *runner.Runner.
type Runner interface {
	Run(ctx context.Context, subjectID, command string) (runner.Result, error)
}

// AttemptLog stores and recalls per-subject attempt output. Satisfied by
// *logstore.Store.
type AttemptLog interface {
	Write(subjectID, text string) error
	Tail(subjectID string, n int) (string, error)
}

// ChangeNotifier reports external edits to the ledger file. Satisfied by
// *ledger.Watcher.
type ChangeNotifier interface {
	Changed() <-chan struct{}
	MarkSelfWrite()
}

// Options configures a Controller.
type Options struct {
	// MaxRetries is the total attempt budget per subject, including the
	// first attempt.
	MaxRetries int
	// FeedbackLines bounds the log excerpt fed back into retry synthesis.
	FeedbackLines int
	// PassedMark is the status value written for resolved-success subjects
	// and recognized when reloading the ledger.
	PassedMark string
	// DryRun synthesizes one command per pending subject without executing
	// or resolving anything.
	DryRun bool
}

// Summary is the end-of-sweep tally.
type Summary struct {
	Passed  int
	Failed  int
	Pending int
}

// Controller owns one sweep over one ledger.
type Controller struct {
	led    *ledger.Ledger
	cursor *ledger.Cursor
	synth  Synthesizer
	runner Runner
	logs   AttemptLog
	// notifier is optional; without it the ledger is never reloaded
	// mid-sweep.
	notifier ChangeNotifier
	events   *Broadcaster
	opts     Options

	session string
	phase   Phase
}

// NewController wires a sweep together. events may be shared with any
// number of consumers; notifier may be nil.
func NewController(led *ledger.Ledger, synth Synthesizer, run Runner, logs AttemptLog, notifier ChangeNotifier, events *Broadcaster, opts Options) *Controller {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if events == nil {
		events = NewBroadcaster()
	}
	return &Controller{
		led:      led,
		cursor:   ledger.NewCursor(),
		synth:    synth,
		runner:   run,
		logs:     logs,
		notifier: notifier,
		events:   events,
		opts:     opts,
		session:  uuid.NewString(),
	}
}

// SessionID identifies this sweep run in logs.
func (c *Controller) SessionID() string { return c.session }

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase { return c.phase }

// Run sweeps the ledger until every subject is resolved or ctx is
// cancelled. A ledger persistence failure aborts the sweep: continuing
// would burn launch attempts whose verdicts cannot be recorded.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	log.Printf("[sweep] session %s starting (%d subjects)", c.session, c.led.Len())
	c.events.Publish(Event{Kind: EventSweepStarted})

	for {
		if err := ctx.Err(); err != nil {
			return c.summary(), err
		}

		c.phase = PhaseSelect
		if err := c.syncLedger(); err != nil {
			return c.summary(), err
		}

		s := c.cursor.Next(c.led)
		if s == nil {
			break
		}

		if err := c.sweepSubject(ctx, s); err != nil {
			return c.summary(), err
		}
		c.cursor.Advance(s)
	}

	c.phase = PhaseDone
	sum := c.summary()
	log.Printf("[sweep] session %s done: %d passed, %d failed, %d pending",
		c.session, sum.Passed, sum.Failed, sum.Pending)
	c.events.Publish(Event{Kind: EventSweepDone})
	return sum, nil
}

// syncLedger reloads the ledger if an external edit was reported since the
// last selection. The cursor is invalidated because row positions in the
// reloaded file can no longer be trusted.
func (c *Controller) syncLedger() error {
	if c.notifier == nil {
		return nil
	}
	select {
	case <-c.notifier.Changed():
	default:
		return nil
	}

	log.Printf("[sweep] ledger changed externally, reloading %s", c.led.Path())
	reloaded, err := ledger.Load(c.led.Path(), c.opts.PassedMark)
	if err != nil {
		return fmt.Errorf("reloading ledger after external change: %w", err)
	}
	c.led = reloaded
	c.cursor.Invalidate()
	return nil
}

// sweepSubject spends up to the retry budget on one subject and persists
// its verdict. Only context and persistence errors propagate; everything
// that goes wrong inside an attempt consumes the attempt instead.
func (c *Controller) sweepSubject(ctx context.Context, s *ledger.Subject) error {
	c.events.Publish(Event{Kind: EventSubjectStarted, Subject: s.ID})

	lastOutcome := OutcomeUnknown
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		feedback := ""
		if attempt > 0 {
			tail, err := c.logs.Tail(s.ID, c.opts.FeedbackLines)
			if err != nil {
				log.Printf("[sweep] reading feedback log for %s: %v", s.ID, err)
			}
			feedback = tail
		}

		c.phase = PhaseSynthesize
		log.Printf("[sweep] %s attempt %d/%d: synthesizing command", s.ID, attempt+1, c.opts.MaxRetries)
		cmd, err := c.synth.Generate(ctx, s.ID, attempt, feedback)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.opts.DryRun {
				// A dry run never touches the log store or the ledger. The
				// failure is reported and the subject stays pending.
				log.Printf("[sweep] %s (dry run): synthesis failed: %v", s.ID, err)
				c.events.Publish(Event{Kind: EventAttemptDone, Subject: s.ID, Attempt: attempt + 1, Outcome: OutcomeFailure, Note: err.Error()})
				return nil
			}
			// Synthesis failures consume the attempt. The error text becomes
			// the attempt's log so the next retry can react to it.
			log.Printf("[sweep] %s attempt %d: synthesis failed: %v", s.ID, attempt+1, err)
			if werr := c.logs.Write(s.ID, "command synthesis failed: "+err.Error()+"\n"); werr != nil {
				log.Printf("[sweep] writing synthesis failure log for %s: %v", s.ID, werr)
			}
			lastOutcome = OutcomeFailure
			c.events.Publish(Event{Kind: EventAttemptDone, Subject: s.ID, Attempt: attempt + 1, Outcome: OutcomeFailure, Note: err.Error()})
			continue
		}
		c.events.Publish(Event{Kind: EventCommandReady, Subject: s.ID, Attempt: attempt + 1, Command: cmd})

		if c.opts.DryRun {
			log.Printf("[sweep] %s (dry run): %s", s.ID, cmd)
			return nil
		}

		c.phase = PhaseExecute
		log.Printf("[sweep] %s attempt %d: executing", s.ID, attempt+1)
		res, runErr := c.runner.Run(ctx, s.ID, cmd)

		c.phase = PhaseClassify
		outcome := Classify(res.Signal)
		if runErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The attempt produced no interpretable evidence; it still
			// consumed its slot in the budget.
			log.Printf("[sweep] %s attempt %d: execution error: %v", s.ID, attempt+1, runErr)
			outcome = OutcomeUnknown
		}
		lastOutcome = outcome
		log.Printf("[sweep] %s attempt %d: %s (%s)", s.ID, attempt+1, outcome, res.Duration.Round(time.Millisecond))
		c.events.Publish(Event{Kind: EventAttemptDone, Subject: s.ID, Attempt: attempt + 1, Outcome: outcome})

		if outcome == OutcomeSuccess {
			return c.resolve(s, ledger.StatusPassed, "")
		}
	}

	note := fmt.Sprintf("failed after %d attempts", c.opts.MaxRetries)
	if lastOutcome == OutcomeTimeout {
		note = fmt.Sprintf("timed out after %d attempts", c.opts.MaxRetries)
	}
	return c.resolve(s, ledger.StatusFailed, note)
}

// resolve persists the subject's verdict write-through. The save is marked
// so the watcher does not mistake it for an external edit.
func (c *Controller) resolve(s *ledger.Subject, status ledger.Status, note string) error {
	if c.notifier != nil {
		c.notifier.MarkSelfWrite()
	}
	if err := c.led.Resolve(s.Index(), status, note); err != nil {
		return fmt.Errorf("persisting verdict for %s: %w", s.ID, err)
	}
	log.Printf("[sweep] %s resolved: %s", s.ID, status)
	c.events.Publish(Event{Kind: EventSubjectResolved, Subject: s.ID, Note: note})
	return nil
}

func (c *Controller) summary() Summary {
	passed, failed, pending := c.led.Counts()
	return Summary{Passed: passed, Failed: failed, Pending: pending}
}
