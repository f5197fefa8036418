// Package events delivers transition events to external subscribers.
// Delivery is fire-and-forget: a sink failure is logged and never rolls
// back the transition that produced the event.
package events

import (
	"context"
	"log/slog"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

// Sink receives transition events after the proposal state has been
// persisted.
type Sink interface {
	Emit(ctx context.Context, event *contracts.TransitionEvent) error
}

// SlogSink logs events through structured logging. The default sink.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a logging sink. A nil logger uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "events")}
}

// Emit implements Sink.
func (s *SlogSink) Emit(ctx context.Context, event *contracts.TransitionEvent) error {
	s.logger.InfoContext(ctx, "phase transition",
		"event_id", event.EventID,
		"proposal_id", event.ProposalID,
		"from_phase", event.FromPhase,
		"to_phase", event.ToPhase,
		"to_status", event.ToStatus,
		"triggered_by", event.TriggeredBy,
		"automatic", event.Automatic,
	)
	return nil
}

// Fanout forwards each event to every sink, collecting nothing: the first
// error is returned for logging but later sinks still run.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Emit implements Sink.
func (f *Fanout) Emit(ctx context.Context, event *contracts.TransitionEvent) error {
	var first error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
