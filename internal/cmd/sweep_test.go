package cmd

import (
	"strings"
	"testing"
)

func TestRunSweepMissingLedger(t *testing.T) {
	t.Chdir(t.TempDir())

	err := RunSweep(SweepOptions{LedgerPath: "missing.csv"})
	if err == nil {
		t.Fatal("expected error for missing ledger")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("err = %v, want a missing-ledger message", err)
	}
}

func TestRunSweepMissingAPIKey(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OPENAI_API_KEY", "")
	writeLedger(t, dir, "model,status\norg/model-a,\n")

	err := RunSweep(SweepOptions{LedgerPath: "models.csv"})
	if err == nil {
		t.Fatal("expected error when the API key env var is unset")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("err = %v, want the key variable named", err)
	}
}

func TestRunSweepMalformedLedger(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OPENAI_API_KEY", "test-key")
	writeLedger(t, dir, "column_a,column_b\nvalue,\n")

	err := RunSweep(SweepOptions{LedgerPath: "models.csv"})
	if err == nil {
		t.Fatal("expected error for ledger without a subject column")
	}
	if !strings.Contains(err.Error(), "subject-identifier") {
		t.Errorf("err = %v, want the column requirement named", err)
	}
}
