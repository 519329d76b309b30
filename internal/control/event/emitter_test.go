package event

import (
	"testing"

	"github.com/danmuck/controld/internal/control/handle"
	"github.com/danmuck/controld/internal/control/model"
	"github.com/danmuck/controld/internal/control/subscribe"
	"github.com/danmuck/controld/internal/testutil/testlog"
	"github.com/danmuck/controld/internal/wire"
)

type fakeSink struct {
	handles *handle.Table
	flags   subscribe.Flags
	sent    [][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{handles: handle.New()}
}

func (f *fakeSink) Handles() *handle.Table            { return f.handles }
func (f *fakeSink) SubscriptionFlags() subscribe.Flags { return f.flags }
func (f *fakeSink) Enqueue(packet []byte)              { f.sent = append(f.sent, packet) }

func TestOnTransitionDualEmitsToHandleHolder(t *testing.T) {
	testlog.Start(t)
	eng := model.NewMemoryEngine()
	svc, _ := eng.LoadService("svc-a")

	sink := newFakeSink()
	sink.handles.Acquire(svc) // connection already holds a handle

	e := NewEmitter(true)
	e.Register(sink)
	eng.RegisterObserver(e)

	if err := eng.StartService(svc, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	if len(sink.sent) != 2 {
		t.Fatalf("expected 2 packets (v5 then v4), got %d", len(sink.sent))
	}
	if wire.Kind(sink.sent[0][0]) != wire.SERVICEEVENT5 {
		t.Fatalf("expected first packet to be SERVICEEVENT5, got %v", wire.Kind(sink.sent[0][0]))
	}
	if wire.Kind(sink.sent[1][0]) != wire.SERVICEEVENT {
		t.Fatalf("expected second packet to be SERVICEEVENT, got %v", wire.Kind(sink.sent[1][0]))
	}
}

func TestOnTransitionV5OnlyWhenDualEmitDisabled(t *testing.T) {
	testlog.Start(t)
	eng := model.NewMemoryEngine()
	svc, _ := eng.LoadService("svc-a")

	sink := newFakeSink()
	sink.handles.Acquire(svc)

	e := NewEmitter(false)
	e.Register(sink)
	eng.RegisterObserver(e)

	if err := eng.StartService(svc, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(sink.sent))
	}
}

func TestOnTransitionSkipsSinkWithNoHandleAndNoSubscription(t *testing.T) {
	testlog.Start(t)
	eng := model.NewMemoryEngine()
	svc, _ := eng.LoadService("svc-a")

	sink := newFakeSink() // no handle, no subscription

	e := NewEmitter(true)
	e.Register(sink)
	eng.RegisterObserver(e)

	if err := eng.StartService(svc, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("expected no packets delivered, got %d", len(sink.sent))
	}
}

func TestOnTransitionBroadcastSubscriberGetsEventsForUnheldService(t *testing.T) {
	testlog.Start(t)
	eng := model.NewMemoryEngine()
	svc, _ := eng.LoadService("svc-a")

	sink := newFakeSink()
	sink.flags.ServiceEvents = true

	e := NewEmitter(true)
	e.Register(sink)
	eng.RegisterObserver(e)

	if err := eng.StartService(svc, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(sink.sent) != 2 {
		t.Fatalf("expected broadcast delivery, got %d packets", len(sink.sent))
	}
	if _, ok := sink.handles.Lookup(svc); !ok {
		t.Fatalf("expected broadcast delivery to acquire a handle for future replies")
	}
}

func TestOnServiceRemovedTombstonesEverySinkHoldingIt(t *testing.T) {
	testlog.Start(t)
	eng := model.NewMemoryEngine()
	svc, _ := eng.LoadService("svc-a")

	sink := newFakeSink()
	h := sink.handles.Acquire(svc)

	e := NewEmitter(true)
	e.Register(sink)
	eng.RegisterObserver(e)

	if err := eng.RemoveService(svc); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := sink.handles.Resolve(h); err != handle.ErrStale {
		t.Fatalf("expected ErrStale after removal, got %v", err)
	}
}

func TestOnEnvChangeOnlyReachesEnvironmentSubscribers(t *testing.T) {
	testlog.Start(t)
	eng := model.NewMemoryEngine()

	subscribed := newFakeSink()
	subscribed.flags.EnvironmentEvents = true
	unsubscribed := newFakeSink()

	e := NewEmitter(true)
	e.Register(subscribed)
	e.Register(unsubscribed)
	eng.RegisterObserver(e)

	eng.SetEnv("FOO=bar")

	if len(subscribed.sent) != 1 {
		t.Fatalf("expected 1 env packet for subscriber, got %d", len(subscribed.sent))
	}
	if len(unsubscribed.sent) != 0 {
		t.Fatalf("expected no env packet for non-subscriber, got %d", len(unsubscribed.sent))
	}
}
