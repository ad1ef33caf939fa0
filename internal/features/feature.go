// Package features holds the registry of feature descriptors and the
// dispatcher that routes one normalized event through them.
package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/master-pd/bot-master/internal/permissions"
	"github.com/master-pd/bot-master/internal/update"
)

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 10 * time.Second

// ErrPermissionDenied marks a feature skipped by the permission gate.
// It is only logged, never returned to callers.
var ErrPermissionDenied = errors.New("permission denied")

// Request is what a handler receives.
type Request struct {
	Event *update.Event
	Grant permissions.Grant
	// Args holds the command arguments for command features, empty otherwise.
	Args string
}

// Outcome is what a handler reports back. A nil outcome means the feature
// had nothing to do with the event.
type Outcome struct {
	Action string
	Fields map[string]string
}

// Handler processes one event.
type Handler func(ctx context.Context, req *Request) (*Outcome, error)

// Descriptor declares one feature. Descriptors are immutable once the
// registry is built.
type Descriptor struct {
	Name        string
	Description string
	Version     string

	// Events lists the kinds the feature handles; update.KindAny matches all.
	Events []update.Kind
	// Command restricts message events to "/command" (without the slash).
	Command string
	// Permissions must intersect the actor's grant; empty means public.
	Permissions []string
	IgnoreBots  bool
	// Timeout overrides DefaultHandlerTimeout when positive.
	Timeout time.Duration

	Handler Handler
}

// Result pairs a feature with the outcome it produced.
type Result struct {
	Feature string   `json:"feature"`
	Outcome *Outcome `json:"outcome"`
}

// Failure records a handler that errored, panicked or timed out.
type Failure struct {
	Feature string `json:"feature"`
	Error   string `json:"error"`
}

// Skip records a feature that matched the event but was not invoked.
type Skip struct {
	Feature string `json:"feature"`
	Reason  string `json:"reason"`
}

// Report is the aggregated dispatch result for one event.
type Report struct {
	Processed bool      `json:"processed"`
	Results   []Result  `json:"results"`
	Failures  []Failure `json:"failures,omitempty"`
	Skipped   []Skip    `json:"skipped,omitempty"`
}

// HandlerError wraps a failure inside one feature's handler.
type HandlerError struct {
	Feature string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("feature %s: %v", e.Feature, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
