package pipeline

import (
	"fmt"
	"log/slog"
	"time"
)

// Failure stages.
const (
	StagePanic    = "panic"
	StageTimeout  = "timeout"
	StageDispatch = "dispatch"
)

// Failure is one out-of-band pipeline error. Failures never affect the
// webhook response; they are reported to the platform owner instead.
type Failure struct {
	JobID    string
	UpdateID int64
	Stage    string
	Feature  string // set for dispatch failures
	Err      string
	At       time.Time
}

func (f Failure) String() string {
	s := fmt.Sprintf("update %d: %s", f.UpdateID, f.Stage)
	if f.Feature != "" {
		s += " (" + f.Feature + ")"
	}
	return s + ": " + f.Err
}

// ErrorSink carries failures to the owner notifier. A nil sink discards.
type ErrorSink chan Failure

// NewErrorSink creates a buffered sink.
func NewErrorSink(size int) ErrorSink {
	if size <= 0 {
		size = 64
	}
	return make(ErrorSink, size)
}

// Report enqueues f without blocking; when the sink is full the failure is
// only logged.
func (s ErrorSink) Report(f Failure) {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	select {
	case s <- f:
	default:
		if s != nil {
			slog.Warn("pipeline.failure_dropped", "update_id", f.UpdateID, "stage", f.Stage, "error", f.Err)
		}
	}
}
