package events

import (
	"testing"

	"github.com/tolelom/rbchain/block"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	e := NewEmitter()
	got := make(chan Event, 1)
	e.Subscribe(EventBlockCommitted, func(ev Event) { got <- ev })

	hash, err := block.HashFromBytes(make([]byte, 32))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	e.Emit(Event{Type: EventBlockCommitted, BlockHash: hash, BlockHeight: 1})

	select {
	case ev := <-got:
		if ev.BlockHeight != 1 {
			t.Fatalf("expected height 1, got %d", ev.BlockHeight)
		}
	default:
		t.Fatalf("expected subscriber to be called synchronously")
	}
}

func TestEmitSurvivesPanickingHandler(t *testing.T) {
	e := NewEmitter()
	calledSecond := false
	e.Subscribe(EventMessageAdmitted, func(Event) { panic("boom") })
	e.Subscribe(EventMessageAdmitted, func(Event) { calledSecond = true })

	e.Emit(Event{Type: EventMessageAdmitted})

	if !calledSecond {
		t.Fatalf("expected second handler to run despite first panicking")
	}
}

func TestEmitIgnoresUnsubscribedType(t *testing.T) {
	e := NewEmitter()
	e.Subscribe(EventBlockProduced, func(Event) { t.Fatalf("should not be called") })
	e.Emit(Event{Type: EventBlockCommitted})
}
