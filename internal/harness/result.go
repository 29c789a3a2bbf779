package harness

import (
	"fmt"
	"io"

	"cosim/internal/bp"
	"cosim/internal/htif"
	"cosim/internal/tracer"
)

// FailTimeout is the failure reported when MaxCycles is reached.
const FailTimeout = "timeout"

// Stats are the per-session counters.
type Stats struct {
	Cycles    uint64
	InstRet   uint64
	Predictor bp.Stats
	Bridge    htif.Stats
	Tracer    tracer.Counters
}

// Result is how a session ended.
type Result struct {
	Failure  string // empty unless the session was cut short
	Cycles   uint64 // stepped after reset
	ToHost   uint64
	ExitCode uint64
	Stats    Stats
}

// Passed reports whether the program finished with exit code 0 or 1.
func (r Result) Passed() bool {
	return r.Failure == "" && r.ExitCode <= 1
}

// Report writes the pass/fail line.
func (r Result) Report(w io.Writer) {
	switch {
	case r.Failure != "":
		fmt.Fprintf(w, "*** FAILED *** (%s) after %d cycles\n", r.Failure, r.Cycles)
	case r.ExitCode <= 1:
		fmt.Fprintf(w, "*** PASSED ***\n")
	default:
		fmt.Fprintf(w, "*** FAILED *** (tohost = %d)\n", r.ExitCode)
	}
}
