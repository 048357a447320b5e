// Package cmd implements the launchsweep CLI commands on top of the
// internal packages.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/launchsweep/launchsweep/internal/config"
	"github.com/launchsweep/launchsweep/internal/ledger"
	"github.com/launchsweep/launchsweep/internal/llm"
	"github.com/launchsweep/launchsweep/internal/logstore"
	"github.com/launchsweep/launchsweep/internal/runner"
	"github.com/launchsweep/launchsweep/internal/sweep"
	"github.com/launchsweep/launchsweep/internal/synth"
	"github.com/launchsweep/launchsweep/internal/tui"
)

var (
	passedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// SweepOptions holds the parsed flags for the sweep command.
type SweepOptions struct {
	LedgerPath string
	Watch      bool
	MaxRetries int
	TimeoutSec int
	DryRun     bool
}

// RunSweep validates every pending subject in the ledger.
func RunSweep(opts SweepOptions) error {
	if _, err := os.Stat(opts.LedgerPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("ledger %s does not exist; pass the path to your subjects CSV", opts.LedgerPath)
		}
		return fmt.Errorf("checking ledger %s: %w", opts.LedgerPath, err)
	}

	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	maxRetries := cfg.EffectiveMaxRetries()
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	}
	timeout := cfg.EffectiveTimeout()
	if opts.TimeoutSec > 0 {
		timeout = time.Duration(opts.TimeoutSec) * time.Second
	}

	led, err := ledger.Load(opts.LedgerPath, cfg.EffectivePassedStatus())
	if err != nil {
		return err
	}
	if led.Len() == 0 {
		return fmt.Errorf("ledger %s has no subjects", opts.LedgerPath)
	}

	logs, err := logstore.New(cfg.EffectiveLogsDir())
	if err != nil {
		return err
	}

	apiKey := os.Getenv(cfg.EffectiveAPIKeyEnv())
	if apiKey == "" {
		return fmt.Errorf("no API key: set %s to authenticate with the completion service", cfg.EffectiveAPIKeyEnv())
	}
	client, err := llm.New(cfg.EffectiveLLMBaseURL(), apiKey,
		llm.WithModel(cfg.EffectiveLLMModel()),
		llm.WithTemperature(cfg.LLM.Temperature),
	)
	if err != nil {
		return fmt.Errorf("configuring completion client: %w", err)
	}

	run := runner.New(runner.Options{
		ReadinessMarker: cfg.EffectiveReadinessMarker(),
		Sentinel:        cfg.EffectiveSentinel(),
		Timeout:         timeout,
		ReleaseCommand:  cfg.ReleaseCommand,
	}, logs)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watcher, err := ledger.NewWatcher(opts.LedgerPath)
	if err != nil {
		return fmt.Errorf("watching ledger: %w", err)
	}
	go func() {
		if werr := watcher.Run(ctx); werr != nil {
			log.Printf("Ledger watcher stopped: %v", werr)
		}
	}()

	events := sweep.NewBroadcaster()
	ctrl := sweep.NewController(led, synth.New(client), run, logs, watcher, events, sweep.Options{
		MaxRetries:    maxRetries,
		FeedbackLines: cfg.EffectiveFeedbackLines(),
		PassedMark:    cfg.EffectivePassedStatus(),
		DryRun:        opts.DryRun,
	})

	type result struct {
		sum sweep.Summary
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		sum, rerr := ctrl.Run(ctx)
		events.Close()
		resCh <- result{sum, rerr}
	}()

	if opts.Watch && !opts.DryRun {
		// The dashboard owns the terminal until the sweep ends or the
		// user quits. Quitting only detaches the view; the sweep keeps
		// running headlessly until it finishes or the process is signaled.
		log.SetOutput(os.Stderr)
		if terr := tui.Run(events, led.Len()); terr != nil {
			log.Printf("Dashboard error: %v", terr)
		}
	}

	res := <-resCh
	printSummary(res.sum)
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		return res.err
	}
	return nil
}

// printSummary writes the end-of-sweep tally to stdout.
func printSummary(sum sweep.Summary) {
	fmt.Printf("\n%s  %s  %s\n",
		passedStyle.Render(fmt.Sprintf("%d passed", sum.Passed)),
		failedStyle.Render(fmt.Sprintf("%d failed", sum.Failed)),
		mutedStyle.Render(fmt.Sprintf("%d pending", sum.Pending)),
	)
}
