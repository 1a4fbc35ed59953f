// Package fanout publishes each event to several EventSinks, for example SNS
// for the settlement worker and the websocket hub for live subscribers.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// EventSink forwards every event to all of its sinks. A failing sink does not
// stop delivery to the others; their errors are joined.
type EventSink struct {
	sinks []outbound.EventSink

	closeOnce sync.Once
	closeErr  error
}

// NewEventSink creates a fan-out sink. Nil sinks are skipped.
func NewEventSink(sinks ...outbound.EventSink) (*EventSink, error) {
	s := &EventSink{}
	for _, sink := range sinks {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
	if len(s.sinks) == 0 {
		return nil, fmt.Errorf("at least one event sink is required")
	}
	return s, nil
}

func (s *EventSink) Publish(ctx context.Context, event outbound.Event) error {
	var errs []error
	for i, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink once.
func (s *EventSink) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, sink := range s.sinks {
			if err := sink.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
