// Package telemetry sets up component-tagged structured logging.
//
// The teacher (steel-orchestrator) logs via stdlib log.Printf with hand-rolled
// "[component] message" prefixes, e.g. log.Printf("[pool] :%-5d ...", ...). This
// repo keeps that bracketed-tag feel but renders it through github.com/rs/zerolog
// as a structured "component" field, grounded on this author ecosystem's own
// zerolog adoption (joeycumines/izerolog, joeycumines/go-utilpkg/logiface-zerolog).
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Component tags match spec §7's diagnostic prefixes.
const (
	ComponentScheduler   = "SCHED"
	ComponentExecutor    = "EXEC"
	ComponentMonitor     = "MONITOR"
	ComponentProducer    = "PRODUCER"
	ComponentModelClient = "MODEL"
	ComponentPool        = "POOL"
	ComponentRing        = "RING"
	ComponentRuntime     = "RUNTIME"
)

// New builds the root logger. jsonOutput selects machine-parseable JSON
// (production/deployment) versus the console-pretty writer (local/dev), mirroring
// the teacher's human-readable log lines when jsonOutput is false.
func New(jsonOutput bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if !jsonOutput {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// For returns a sub-logger tagged with the given component, the structured
// equivalent of the teacher's "[component]" prefix.
func For(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
