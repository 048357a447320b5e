// Package runner executes one synthesized launch command and reports what
// its output revealed. A healthy launch prints a readiness marker and then
// blocks forever, so the runner never trusts process exit alone: it appends
// a sentinel echo after the command, scans the combined output stream for
// the two markers, and enforces its own deadline.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Signal is what the runner observed about an attempt.
type Signal int

const (
	// SignalReady means the readiness marker appeared: the launch worked
	// and the process was blocking as a live server.
	SignalReady Signal = iota
	// SignalExited means the sentinel appeared: the command ran to
	// completion instead of serving.
	SignalExited
	// SignalTimeout means the deadline elapsed with neither marker.
	SignalTimeout
	// SignalNoMarker means the stream ended cleanly with neither marker
	// (malformed command or unexpected output).
	SignalNoMarker
)

// String returns a short name for the signal.
func (s Signal) String() string {
	switch s {
	case SignalReady:
		return "ready"
	case SignalExited:
		return "exited"
	case SignalTimeout:
		return "timeout"
	default:
		return "no-marker"
	}
}

// Result is the outcome of one execution.
type Result struct {
	Signal   Signal
	Log      string
	Duration time.Duration
}

// LogSink receives the full captured output of every attempt. Satisfied by
// *logstore.Store.
type LogSink interface {
	Write(subjectID, text string) error
}

// termGrace is how long a terminated process gets to exit on SIGTERM
// before SIGKILL.
const termGrace = 5 * time.Second

// releaseTimeout bounds the side-effect release command.
const releaseTimeout = 30 * time.Second

// Options configures a Runner. Markers come from configuration; their
// exact text belongs to the system under test.
type Options struct {
	ReadinessMarker string
	Sentinel        string
	Timeout         time.Duration
	// ReleaseCommand, when set, is run after every attempt to free the
	// exclusively held side-effect resource (e.g. `docker rm -f NAME`).
	ReleaseCommand string
	Shell          string // defaults to "bash"
}

// Runner executes launch commands one at a time.
type Runner struct {
	opts Options
	sink LogSink
}

// New creates a Runner that tees every attempt's output into sink.
func New(opts Options, sink LogSink) *Runner {
	if opts.Shell == "" {
		opts.Shell = "bash"
	}
	return &Runner{opts: opts, sink: sink}
}

// Run executes command for subjectID and classifies the raw outcome from
// its output. The captured transcript is written to the log sink on every
// exit path, overwriting the prior attempt's log for the subject.
func (r *Runner) Run(ctx context.Context, subjectID, command string) (result Result, err error) {
	start := time.Now()

	// The sentinel echo runs when the command terminates, naturally or by
	// its own failure. On a shell-level syntax abort neither marker
	// appears and the attempt classifies as no-marker.
	script := command + "\necho " + r.opts.Sentinel

	cmd := exec.Command(r.opts.Shell, "-c", script)
	// Own process group, so termination reaches the command's children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, pipeErr := os.Pipe()
	if pipeErr != nil {
		return Result{Signal: SignalNoMarker}, fmt.Errorf("creating output pipe: %w", pipeErr)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if startErr := cmd.Start(); startErr != nil {
		pr.Close()
		pw.Close()
		execErr := newExecutionError(r.opts.Shell, startErr)
		r.capture(subjectID, execErr.Error()+"\n")
		return Result{Signal: SignalNoMarker, Log: execErr.Error() + "\n"}, execErr
	}
	// The child holds its own copies of the pipe write end.
	pw.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
		readErr <- sc.Err()
		close(lines)
	}()

	var transcript strings.Builder
	result = Result{Signal: SignalNoMarker}

	// Cleanup is unconditional: terminate whatever is still running,
	// release the side-effect resource, persist the transcript. Draining
	// lines unblocks the reader goroutine; the drained output is
	// discarded; once a marker is seen, no further line is consumed.
	defer func() {
		r.terminate(cmd, done)
		pr.Close()
		for range lines {
		}
		r.release()
		result.Log = transcript.String()
		result.Duration = time.Since(start)
		r.capture(subjectID, result.Log)
	}()

	// The read loop blocks on lines, so the deadline is enforced by this
	// select, never by the read itself.
	deadline := time.NewTimer(r.opts.Timeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// Stream ended with neither marker: the process exited
				// cleanly but never looked like a server.
				if err := <-readErr; err != nil {
					transcript.WriteString("output read error: " + err.Error() + "\n")
				}
				result.Signal = SignalNoMarker
				return result, nil
			}

			if strings.Contains(line, r.opts.Sentinel) {
				// The command terminated on its own. The sentinel is our
				// token, not the command's output; keep it out of the log.
				result.Signal = SignalExited
				return result, nil
			}

			transcript.WriteString(line)
			transcript.WriteByte('\n')

			if strings.Contains(line, r.opts.ReadinessMarker) {
				// Launch succeeded. Stop reading immediately; the server
				// would block forever, so it is torn down by the deferred
				// cleanup even though it is healthy.
				result.Signal = SignalReady
				return result, nil
			}

		case <-deadline.C:
			transcript.WriteString(fmt.Sprintf("launchsweep: no marker within %s, terminating\n", r.opts.Timeout))
			result.Signal = SignalTimeout
			return result, nil

		case <-ctx.Done():
			transcript.WriteString("launchsweep: run cancelled\n")
			result.Signal = SignalTimeout
			return result, ctx.Err()
		}
	}
}

// terminate stops the spawned process group: SIGTERM, a bounded grace
// period, then SIGKILL. A process that already exited is a no-op.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}

	select {
	case <-done:
		return
	default:
	}

	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(termGrace):
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-done
}

// release runs the configured side-effect release command. Failures are
// logged, not fatal: the next attempt's launch surfaces a still-held
// resource on its own.
func (r *Runner) release() {
	if r.opts.ReleaseCommand == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.opts.Shell, "-c", r.opts.ReleaseCommand).CombinedOutput()
	if err != nil {
		log.Printf("Release command failed: %v (output: %s)", err, strings.TrimSpace(string(out)))
	}
}

// capture persists the transcript, overwriting the subject's prior log.
func (r *Runner) capture(subjectID, text string) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Write(subjectID, text); err != nil {
		log.Printf("Writing log for %s failed: %v", subjectID, err)
	}
}
