package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"indextree/pkg/config"
)

func newTestREPL(t *testing.T) (*REPL, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	output := &bytes.Buffer{}
	errOutput := &bytes.Buffer{}
	repl, err := Open(config.Options{Path: dbPath}, output, errOutput)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { repl.Close() })
	return repl, output, errOutput
}

func TestREPLInsertAndGet(t *testing.T) {
	repl, output, errOutput := newTestREPL(t)

	repl.dispatch(".insert 1 100")
	if !strings.Contains(output.String(), "Ok") {
		t.Errorf("expected Ok after insert, got %q", output.String())
	}

	output.Reset()
	repl.dispatch(".get 1")
	if strings.TrimSpace(output.String()) != "100" {
		t.Errorf("expected 100, got %q", output.String())
	}
	if errOutput.Len() != 0 {
		t.Errorf("expected no errors, got %q", errOutput.String())
	}
}

func TestREPLGetMissingKeyReportsError(t *testing.T) {
	repl, _, errOutput := newTestREPL(t)

	repl.dispatch(".get 42")
	if !strings.Contains(errOutput.String(), "error") {
		t.Errorf("expected an error report, got %q", errOutput.String())
	}
}

func TestREPLRemove(t *testing.T) {
	repl, output, _ := newTestREPL(t)

	repl.dispatch(".insert 1 100")
	output.Reset()
	repl.dispatch(".remove 1")
	if !strings.Contains(output.String(), "Ok") {
		t.Errorf("expected Ok after remove, got %q", output.String())
	}

	output.Reset()
	errOut := &bytes.Buffer{}
	repl.errOutput = errOut
	repl.dispatch(".get 1")
	if !strings.Contains(errOut.String(), "error") {
		t.Errorf("expected an error looking up a removed key, got %q", errOut.String())
	}
}

func TestREPLStatsReportsResidentCount(t *testing.T) {
	repl, output, _ := newTestREPL(t)

	repl.dispatch(".insert 1 1")
	output.Reset()
	repl.dispatch(".stats")
	if !strings.Contains(output.String(), "resident=") {
		t.Errorf("expected a resident= line, got %q", output.String())
	}
}

func TestREPLUnknownCommandReportsError(t *testing.T) {
	repl, _, errOutput := newTestREPL(t)

	repl.dispatch(".bogus")
	if !strings.Contains(errOutput.String(), "unknown command") {
		t.Errorf("expected an unknown-command error, got %q", errOutput.String())
	}
}

func TestREPLExitStopsTheLoop(t *testing.T) {
	repl, _, _ := newTestREPL(t)
	repl.running = true
	repl.dispatch(".exit")
	if repl.running {
		t.Error("expected .exit to clear the running flag")
	}
}

func TestOpenInMemoryWithNoPath(t *testing.T) {
	output := &bytes.Buffer{}
	repl, err := Open(config.Options{}, output, output)
	if err != nil {
		t.Fatalf("Open with no path failed: %v", err)
	}
	defer repl.Close()

	repl.dispatch(".insert 5 50")
	repl.dispatch(".get 5")
	if !strings.Contains(output.String(), "50") {
		t.Errorf("expected 50 in output, got %q", output.String())
	}
}
