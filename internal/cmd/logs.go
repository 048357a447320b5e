package cmd

import (
	"fmt"
	"io"

	"github.com/launchsweep/launchsweep/internal/config"
	"github.com/launchsweep/launchsweep/internal/logstore"
)

// RunLogs prints the captured log of the subject's most recent attempt.
// tail limits output to the last n lines; 0 prints everything.
func RunLogs(w io.Writer, subjectID string, tail int) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := logstore.New(cfg.EffectiveLogsDir())
	if err != nil {
		return err
	}

	var text string
	if tail > 0 {
		text, err = store.Tail(subjectID, tail)
	} else {
		text, err = store.Read(subjectID)
	}
	if err != nil {
		return err
	}

	if text == "" {
		return fmt.Errorf("no log recorded for %s (expected %s)", subjectID, store.Path(subjectID))
	}

	fmt.Fprint(w, text)
	if text[len(text)-1] != '\n' {
		fmt.Fprintln(w)
	}
	return nil
}
