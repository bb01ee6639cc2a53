package credlock

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func collectEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()
	select {
	case event := <-sink.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event arrived")
		return AuditEvent{}
	}
}

func TestAuditEventsFlowToSink(t *testing.T) {
	sink := NewChannelSink(32)
	e, _, _, _ := newTestEngine(t)
	e.audit = newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 32, DropIfFull: true}, sink)
	t.Cleanup(e.audit.Close)

	auth := mustRegister(t, e, "a@example.com")

	event := collectEvent(t, sink)
	if event.EventType != "register" {
		t.Fatalf("expected register event, got %s", event.EventType)
	}
	if event.UserID != auth.User.ID || !event.Success {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ID == "" || event.Timestamp.IsZero() {
		t.Fatalf("event must carry id and timestamp: %+v", event)
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	// A sink that never returns until released.
	release := make(chan struct{})
	var once sync.Once
	blocking := auditSinkFunc(func(context.Context, AuditEvent) {
		<-release
	})
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, blocking)

	// One event occupies the worker, one fills the buffer; the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), newAuditEvent("login", true))
	}
	// The worker may or may not have picked up the first event yet, so
	// either 8 or 9 of the 10 drop.
	if dropped := d.Dropped(); dropped < 8 {
		t.Fatalf("expected most events dropped, got %d", dropped)
	}

	once.Do(func() { close(release) })
	d.Close()
}

func TestAuditDispatcherDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var got []AuditEvent
	recording := auditSinkFunc(func(_ context.Context, event AuditEvent) {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	})

	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, recording)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), newAuditEvent("login", true))
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("expected all 5 events delivered before Close returns, got %d", len(got))
	}

	// Emit after Close is a no-op.
	d.Emit(context.Background(), newAuditEvent("login", true))
}

func TestAuditDisabledDispatcherIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled audit must not start a dispatcher")
	}

	// The nil receiver is safe everywhere.
	d.Emit(context.Background(), newAuditEvent("login", true))
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports zero drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	event := newAuditEvent("login", true)
	event.UserID = "u1"
	sink.Emit(context.Background(), event)

	var decoded AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.EventType != "login" || decoded.UserID != "u1" {
		t.Fatalf("unexpected line: %s", buf.String())
	}
}

// auditSinkFunc adapts a function to the AuditSink interface.
type auditSinkFunc func(ctx context.Context, event AuditEvent)

func (f auditSinkFunc) Emit(ctx context.Context, event AuditEvent) {
	f(ctx, event)
}
