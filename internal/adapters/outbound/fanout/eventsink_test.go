package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/archon-research/carbon-dex/internal/adapters/outbound/memory"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

type failingSink struct {
	err    error
	closed int
}

func (f *failingSink) Publish(context.Context, outbound.Event) error { return f.err }
func (f *failingSink) Close() error {
	f.closed++
	return nil
}

func TestNewEventSink_RequiresSink(t *testing.T) {
	if _, err := NewEventSink(nil, nil); err == nil {
		t.Error("expected error with no sinks")
	}
}

func TestEventSink_DeliversDespiteFailure(t *testing.T) {
	errBoom := errors.New("boom")
	bad := &failingSink{err: errBoom}
	good := memory.NewEventSink()

	sink, err := NewEventSink(bad, nil, good)
	if err != nil {
		t.Fatal(err)
	}

	ev := outbound.OrderAcceptedEvent{OrderID: 7, Symbol: "GLOBAL-VER"}
	if err := sink.Publish(context.Background(), ev); !errors.Is(err, errBoom) {
		t.Errorf("Publish() error = %v, want errBoom", err)
	}
	if got := good.GetEvents(); len(got) != 1 {
		t.Errorf("good sink got %d events, want 1", len(got))
	}

	_ = sink.Close()
	_ = sink.Close()
	if bad.closed != 1 {
		t.Errorf("closed %d times, want 1", bad.closed)
	}
}
