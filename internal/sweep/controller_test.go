package sweep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/launchsweep/launchsweep/internal/ledger"
	"github.com/launchsweep/launchsweep/internal/logstore"
	"github.com/launchsweep/launchsweep/internal/runner"
)

// memLog is an in-memory AttemptLog.
type memLog struct {
	mu   sync.Mutex
	logs map[string]string
}

func newMemLog() *memLog {
	return &memLog{logs: make(map[string]string)}
}

func (m *memLog) Write(subjectID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[subjectID] = text
	return nil
}

func (m *memLog) Tail(subjectID string, n int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return logstore.TailLines(m.logs[subjectID], n), nil
}

type synthCall struct {
	subject  string
	attempt  int
	feedback string
}

// scriptedSynth replays canned commands or errors per call.
type scriptedSynth struct {
	calls    []synthCall
	commands []string
	errs     []error
}

func (s *scriptedSynth) Generate(ctx context.Context, subjectID string, attempt int, feedback string) (string, error) {
	i := len(s.calls)
	s.calls = append(s.calls, synthCall{subject: subjectID, attempt: attempt, feedback: feedback})
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.commands) {
		return s.commands[i], nil
	}
	return "docker run fixture/image", nil
}

type runCall struct {
	subject string
	command string
}

// scriptedRunner replays canned signals and writes each attempt's log text
// into the attempt log, the way the real runner tees output into the store.
type scriptedRunner struct {
	calls   []runCall
	signals []runner.Signal
	logs    []string
	errs    []error
	sink    *memLog
}

func (r *scriptedRunner) Run(ctx context.Context, subjectID, command string) (runner.Result, error) {
	i := len(r.calls)
	r.calls = append(r.calls, runCall{subject: subjectID, command: command})

	sig := runner.SignalNoMarker
	if i < len(r.signals) {
		sig = r.signals[i]
	}
	text := ""
	if i < len(r.logs) {
		text = r.logs[i]
	}
	if r.sink != nil && text != "" {
		r.sink.Write(subjectID, text)
	}
	var err error
	if i < len(r.errs) {
		err = r.errs[i]
	}
	return runner.Result{Signal: sig, Log: text}, err
}

// writeLedgerFile writes a CSV ledger and loads it.
func writeLedgerFile(t *testing.T, rows ...string) *ledger.Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.csv")
	content := strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing ledger fixture: %v", err)
	}
	led, err := ledger.Load(path, "passed")
	if err != nil {
		t.Fatalf("loading ledger fixture: %v", err)
	}
	return led
}

func statusCells(t *testing.T, path string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	header := strings.Split(lines[0], ",")
	idCol, statusCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(h) {
		case "model":
			idCol = i
		case "status":
			statusCol = i
		}
	}
	out := make(map[string]string)
	for _, line := range lines[1:] {
		cells := strings.Split(line, ",")
		if idCol < len(cells) && statusCol < len(cells) {
			out[cells[idCol]] = cells[statusCol]
		}
	}
	return out
}

func newTestController(led *ledger.Ledger, s *scriptedSynth, r *scriptedRunner, logs AttemptLog, opts Options) *Controller {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.FeedbackLines == 0 {
		opts.FeedbackLines = 100
	}
	if opts.PassedMark == "" {
		opts.PassedMark = "passed"
	}
	return NewController(led, s, r, logs, nil, nil, opts)
}

// A launch that prints the readiness marker on the first try resolves the
// subject immediately with no retries.
func TestSweepFirstAttemptSuccess(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	logs := newMemLog()
	sy := &scriptedSynth{commands: []string{"docker run image-a"}}
	ru := &scriptedRunner{signals: []runner.Signal{runner.SignalReady}, logs: []string{"Uvicorn running on 0.0.0.0:8000\n"}, sink: logs}

	sum, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Passed != 1 || sum.Failed != 0 || sum.Pending != 0 {
		t.Errorf("summary = %+v, want 1 passed", sum)
	}
	if len(ru.calls) != 1 {
		t.Errorf("runner called %d times, want 1", len(ru.calls))
	}
	if len(sy.calls) != 1 {
		t.Fatalf("synth called %d times, want 1", len(sy.calls))
	}
	if sy.calls[0].attempt != 0 || sy.calls[0].feedback != "" {
		t.Errorf("first synthesis carried retry context: %+v", sy.calls[0])
	}
	if got := statusCells(t, led.Path()); got["org/model-a"] != "passed" {
		t.Errorf("persisted status = %q, want passed", got["org/model-a"])
	}
}

// A subject that fails twice and then reaches readiness passes, with each
// retry seeing the previous attempt's log excerpt.
func TestSweepRetryFeedsBackPriorLog(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	logs := newMemLog()
	sy := &scriptedSynth{commands: []string{"docker run v1", "docker run v2", "docker run v3"}}
	ru := &scriptedRunner{
		signals: []runner.Signal{runner.SignalExited, runner.SignalExited, runner.SignalReady},
		logs:    []string{"CUDA out of memory\n", "unknown flag --gpus-all\n", "ready\n"},
		sink:    logs,
	}

	sum, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Passed != 1 {
		t.Errorf("summary = %+v, want 1 passed", sum)
	}
	if len(sy.calls) != 3 {
		t.Fatalf("synth called %d times, want 3", len(sy.calls))
	}
	if !strings.Contains(sy.calls[1].feedback, "CUDA out of memory") {
		t.Errorf("retry 1 feedback = %q, want first attempt's log", sy.calls[1].feedback)
	}
	if !strings.Contains(sy.calls[2].feedback, "unknown flag --gpus-all") {
		t.Errorf("retry 2 feedback = %q, want second attempt's log", sy.calls[2].feedback)
	}
}

// Attempts stop at the retry budget and the subject is recorded failed.
func TestSweepRetryBudgetExhausted(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{
		signals: []runner.Signal{runner.SignalExited, runner.SignalExited, runner.SignalExited},
		logs:    []string{"boom\n", "boom\n", "boom\n"},
		sink:    logs,
	}

	sum, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(ru.calls) != 3 {
		t.Errorf("runner called %d times, want exactly 3", len(ru.calls))
	}
	if sum.Failed != 1 {
		t.Errorf("summary = %+v, want 1 failed", sum)
	}
	got := statusCells(t, led.Path())
	if got["org/model-a"] != "failed" {
		t.Errorf("persisted status = %q, want failed", got["org/model-a"])
	}
	if sub := led.Subjects()[0]; sub.Note != "failed after 3 attempts" {
		t.Errorf("note = %q", sub.Note)
	}
}

// A command that hangs past the deadline on every attempt records a
// timeout verdict.
func TestSweepTimeoutVerdict(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{
		signals: []runner.Signal{runner.SignalTimeout, runner.SignalTimeout, runner.SignalTimeout},
		sink:    logs,
	}

	if _, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sub := led.Subjects()[0]; sub.Note != "timed out after 3 attempts" {
		t.Errorf("note = %q, want timeout note", sub.Note)
	}
}

// A synthesis failure burns an attempt and its error text becomes the
// feedback for the next one.
func TestSweepSynthesisFailureConsumesAttempt(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	logs := newMemLog()
	sy := &scriptedSynth{
		errs:     []error{errors.New("completion service unreachable")},
		commands: []string{"", "docker run fixed"},
	}
	ru := &scriptedRunner{signals: []runner.Signal{runner.SignalReady}, sink: logs}

	sum, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Passed != 1 {
		t.Errorf("summary = %+v, want 1 passed", sum)
	}
	if len(sy.calls) != 2 {
		t.Fatalf("synth called %d times, want 2", len(sy.calls))
	}
	if len(ru.calls) != 1 {
		t.Errorf("runner called %d times, want 1 (first attempt never executed)", len(ru.calls))
	}
	if !strings.Contains(sy.calls[1].feedback, "completion service unreachable") {
		t.Errorf("retry feedback = %q, want synthesis error text", sy.calls[1].feedback)
	}
}

// A clean exit with neither marker is an unknown outcome; it consumes an
// attempt like a failure and its captured log feeds the next synthesis.
func TestSweepNoMarkerConsumesAttemptWithFeedback(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{
		signals: []runner.Signal{runner.SignalNoMarker, runner.SignalReady},
		logs:    []string{"docker: invalid reference format\n", "ready\n"},
		sink:    logs,
	}

	sum, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Passed != 1 {
		t.Errorf("summary = %+v, want 1 passed", sum)
	}
	if len(sy.calls) != 2 {
		t.Fatalf("synth called %d times, want 2", len(sy.calls))
	}
	if sy.calls[1].attempt != 1 {
		t.Errorf("retry attempt index = %d, want 1", sy.calls[1].attempt)
	}
	if !strings.Contains(sy.calls[1].feedback, "invalid reference format") {
		t.Errorf("retry feedback = %q, want the no-marker attempt's log", sy.calls[1].feedback)
	}
}

// Execution errors with no evidence consume attempts like failures do.
func TestSweepExecutionErrorConsumesAttempt(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	logs := newMemLog()
	sy := &scriptedSynth{}
	spawnErr := errors.New("fork/exec: resource temporarily unavailable")
	ru := &scriptedRunner{
		signals: []runner.Signal{runner.SignalNoMarker, runner.SignalNoMarker, runner.SignalNoMarker},
		errs:    []error{spawnErr, spawnErr, spawnErr},
		sink:    logs,
	}

	sum, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(ru.calls) != 3 {
		t.Errorf("runner called %d times, want 3", len(ru.calls))
	}
	if sum.Failed != 1 {
		t.Errorf("summary = %+v, want 1 failed", sum)
	}
}

// Already-passed subjects are never re-attempted; the sweep resumes where
// a previous run left off.
func TestSweepSkipsResolvedSubjects(t *testing.T) {
	led := writeLedgerFile(t,
		"model,status",
		"org/model-a,passed",
		"org/model-b,",
		"org/model-c,passed",
		"org/model-d,",
	)
	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{signals: []runner.Signal{runner.SignalReady, runner.SignalReady}, sink: logs}

	sum, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(ru.calls) != 2 {
		t.Fatalf("runner called %d times, want 2", len(ru.calls))
	}
	if ru.calls[0].subject != "org/model-b" || ru.calls[1].subject != "org/model-d" {
		t.Errorf("attempted subjects = %v, want b then d", ru.calls)
	}
	if sum.Passed != 4 {
		t.Errorf("summary = %+v, want all 4 passed", sum)
	}
}

// A ledger with "Yes" from earlier tooling is honored as passed.
func TestSweepHonorsLegacyYesStatus(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,Yes", "org/model-b,")
	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{signals: []runner.Signal{runner.SignalReady}, sink: logs}

	if _, err := newTestController(led, sy, ru, logs, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(ru.calls) != 1 || ru.calls[0].subject != "org/model-b" {
		t.Errorf("attempted subjects = %v, want only org/model-b", ru.calls)
	}
}

// Dry run synthesizes one command per pending subject, executes nothing,
// and leaves the ledger untouched.
func TestSweepDryRun(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,", "org/model-b,")
	before, err := os.ReadFile(led.Path())
	if err != nil {
		t.Fatal(err)
	}
	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{sink: logs}

	sum, err := newTestController(led, sy, ru, logs, Options{DryRun: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(ru.calls) != 0 {
		t.Errorf("runner called %d times in dry run", len(ru.calls))
	}
	if len(sy.calls) != 2 {
		t.Errorf("synth called %d times, want one per pending subject", len(sy.calls))
	}
	if sum.Pending != 2 {
		t.Errorf("summary = %+v, want both still pending", sum)
	}
	after, err := os.ReadFile(led.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("dry run modified the ledger file")
	}
}

// A synthesis failure during a dry run resolves nothing: the ledger file
// stays byte-identical, the log store stays empty, and the subject is left
// pending instead of burning the retry budget into a failed verdict.
func TestSweepDryRunSynthesisFailurePersistsNothing(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	before, err := os.ReadFile(led.Path())
	if err != nil {
		t.Fatal(err)
	}
	logs := newMemLog()
	synthErr := errors.New("completion service unreachable")
	sy := &scriptedSynth{errs: []error{synthErr, synthErr, synthErr}}
	ru := &scriptedRunner{sink: logs}

	sum, err := newTestController(led, sy, ru, logs, Options{DryRun: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sy.calls) != 1 {
		t.Errorf("synth called %d times, want 1 (no retries in dry run)", len(sy.calls))
	}
	if len(ru.calls) != 0 {
		t.Errorf("runner called %d times in dry run", len(ru.calls))
	}
	if sum.Pending != 1 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want subject still pending", sum)
	}
	if text, _ := logs.Tail("org/model-a", 100); text != "" {
		t.Errorf("dry run wrote to the log store: %q", text)
	}
	after, err := os.ReadFile(led.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Errorf("dry run modified the ledger file:\nbefore: %q\nafter:  %q", before, after)
	}
}

// fakeNotifier hand-delivers change notifications.
type fakeNotifier struct {
	changed    chan struct{}
	selfWrites int
}

func (f *fakeNotifier) Changed() <-chan struct{} { return f.changed }
func (f *fakeNotifier) MarkSelfWrite()           { f.selfWrites++ }

// An external edit reported before selection causes a reload, so a subject
// marked passed out-of-band is not attempted.
func TestSweepReloadsOnExternalChange(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,", "org/model-b,")

	// Someone else marks model-a passed after our load.
	edited := "model,status\norg/model-a,passed\norg/model-b,\n"
	if err := os.WriteFile(led.Path(), []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	notifier := &fakeNotifier{changed: make(chan struct{}, 1)}
	notifier.changed <- struct{}{}

	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{signals: []runner.Signal{runner.SignalReady}, sink: logs}
	c := NewController(led, sy, ru, logs, notifier, nil, Options{MaxRetries: 3, FeedbackLines: 100, PassedMark: "passed"})

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(ru.calls) != 1 || ru.calls[0].subject != "org/model-b" {
		t.Errorf("attempted subjects = %v, want only org/model-b after reload", ru.calls)
	}
	if sum.Passed != 2 {
		t.Errorf("summary = %+v, want 2 passed", sum)
	}
	if notifier.selfWrites == 0 {
		t.Error("resolve did not mark its own write")
	}
}

// Cancellation aborts the sweep before the next attempt starts.
func TestSweepContextCancelled(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{sink: logs}

	_, err := newTestController(led, sy, ru, logs, Options{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(ru.calls) != 0 {
		t.Errorf("runner called %d times after cancellation", len(ru.calls))
	}
}

// The event stream narrates a single passing subject in order.
func TestSweepEventSequence(t *testing.T) {
	led := writeLedgerFile(t, "model,status", "org/model-a,")
	logs := newMemLog()
	sy := &scriptedSynth{}
	ru := &scriptedRunner{signals: []runner.Signal{runner.SignalReady}, sink: logs}

	events := NewBroadcaster()
	ch, unsub := events.Subscribe()
	defer unsub()

	c := NewController(led, sy, ru, logs, nil, events, Options{MaxRetries: 3, FeedbackLines: 100, PassedMark: "passed"})
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	events.Close()

	var kinds []EventKind
	var attemptOutcome Outcome
	for ev := range ch {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventAttemptDone {
			attemptOutcome = ev.Outcome
		}
	}

	want := []EventKind{EventSweepStarted, EventSubjectStarted, EventCommandReady, EventAttemptDone, EventSubjectResolved, EventSweepDone}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("event kinds = %v, want %v", kinds, want)
	}
	if attemptOutcome != OutcomeSuccess {
		t.Errorf("attempt outcome = %v, want success", attemptOutcome)
	}
}
