package bus

import (
	"testing"
	"time"

	funcflow "github.com/BDbread72/qonvo-sub000"
	"github.com/BDbread72/qonvo-sub000/interp"
)

func TestMemBus_PublishSubscribe(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.Subscribe("run-1")
	defer sub.Close()

	event := interp.NewEvent(interp.EventStepStarted, "run-1")
	b.Publish(event)

	select {
	case received := <-sub.Events():
		if received.Kind != interp.EventStepStarted {
			t.Errorf("got kind %v, want %v", received.Kind, interp.EventStepStarted)
		}
		if received.RunID != "run-1" {
			t.Errorf("got RunID %q, want %q", received.RunID, "run-1")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemBus_FanOut(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub1 := b.Subscribe("run-1")
	defer sub1.Close()
	sub2 := b.Subscribe("run-1")
	defer sub2.Close()
	sub3 := b.Subscribe("run-1")
	defer sub3.Close()

	event := interp.NewEvent(interp.EventRunFinished, "run-1")
	b.Publish(event)

	for i, sub := range []Subscription{sub1, sub2, sub3} {
		select {
		case e := <-sub.Events():
			if e.Kind != interp.EventRunFinished {
				t.Errorf("sub%d: got kind %v, want %v", i, e.Kind, interp.EventRunFinished)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub%d: timed out", i)
		}
	}
}

func TestMemBus_RunIsolation(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub1 := b.Subscribe("run-1")
	defer sub1.Close()
	sub2 := b.Subscribe("run-2")
	defer sub2.Close()

	b.Publish(interp.NewEvent(interp.EventStepStarted, "run-1"))

	select {
	case e := <-sub1.Events():
		if e.RunID != "run-1" {
			t.Errorf("got RunID %q, want %q", e.RunID, "run-1")
		}
	case <-time.After(time.Second):
		t.Fatal("sub1: timed out")
	}

	select {
	case e := <-sub2.Events():
		t.Errorf("sub2 received cross-run event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemBus_SubscribeAll(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.SubscribeAll()
	defer sub.Close()

	b.Publish(interp.NewEvent(interp.EventStepStarted, "run-1"))
	b.Publish(interp.NewEvent(interp.EventStepStarted, "run-2"))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub.Events():
			seen[e.RunID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	if !seen["run-1"] || !seen["run-2"] {
		t.Errorf("global subscriber missed runs: %v", seen)
	}
}

func TestMemBus_DropWhenFull(t *testing.T) {
	b := NewMemBus(MemBusConfig{SubscriberBufferSize: 1})
	defer b.Close()

	sub := b.Subscribe("run-1")
	defer sub.Close()

	// Nothing drains the channel; the second publish must not block.
	b.Publish(interp.NewEvent(interp.EventStepStarted, "run-1"))
	b.Publish(interp.NewEvent(interp.EventStepStarted, "run-1"))

	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("first event missing")
	}
	select {
	case e := <-sub.Events():
		t.Errorf("dropped event was delivered: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemBus_PublishAfterCloseIsSilent(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	sub := b.Subscribe("run-1")

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b.Publish(interp.NewEvent(interp.EventStepStarted, "run-1"))

	if _, ok := <-sub.Events(); ok {
		t.Error("subscription channel not closed")
	}
}

func TestMemBus_EventCarriesNodeInfo(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.Subscribe("run-1")
	defer sub.Close()

	e := interp.NewEvent(interp.EventStepStarted, "run-1").
		WithNode("n1", funcflow.NodeTypeLLMCall).
		WithPayload("step", 3)
	b.Publish(e)

	select {
	case got := <-sub.Events():
		if got.NodeID != "n1" || got.NodeType != funcflow.NodeTypeLLMCall {
			t.Errorf("node info lost: %+v", got)
		}
		if got.Payload["step"] != 3 {
			t.Errorf("payload lost: %+v", got.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
