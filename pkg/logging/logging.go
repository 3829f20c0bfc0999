// Package logging wires the engine's lifecycle events — evictions and
// flushes from pkg/cache, invariant violations from pkg/tree — to a
// structured logr.Logger, backed by go-logr/stdr.
package logging

import (
	stdlog "log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Verbosity levels: lower numbers matter more. Routine lifecycle events
// (an eviction, a flush) log at Debug; anything
// surfaced to a caller as an error logs at Info via Logger.Error
// regardless of level.
const (
	Info  = 0
	Debug = 1
)

func init() {
	stdr.SetVerbosity(Debug)
}

// New returns a component-named logger writing to w with standard
// timestamp/file-line flags.
func New(component string, w *os.File) logr.Logger {
	std := stdlog.New(w, "", stdlog.LstdFlags|stdlog.Lshortfile)
	return stdr.New(std).WithName(component)
}

// Discard returns a logger that drops everything, for callers (tests,
// embedders that already have their own logging) that never configured one.
func Discard() logr.Logger {
	return discardLogger{}
}

type discardLogger struct{}

func (discardLogger) Enabled() bool                                    { return false }
func (discardLogger) Info(msg string, keysAndValues ...interface{})    {}
func (discardLogger) Error(err error, msg string, kv ...interface{})   {}
func (d discardLogger) V(level int) logr.Logger                        { return d }
func (d discardLogger) WithValues(kv ...interface{}) logr.Logger       { return d }
func (d discardLogger) WithName(name string) logr.Logger               { return d }
