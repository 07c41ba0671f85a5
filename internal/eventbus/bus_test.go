package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/clawncil/clawncil/internal/eventbus"
	"github.com/clawncil/clawncil/internal/testutil"
)

func TestPushAndList(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := eventbus.NewBus(db)
	ctx := context.Background()

	if _, err := bus.Push(ctx, eventbus.EventInput{Body: "no stream"}); err == nil {
		t.Fatalf("expected error for missing stream")
	}

	_, err := bus.Push(ctx, eventbus.EventInput{
		Stream:  eventbus.StreamGatewayErrors,
		Subject: "spawn failed",
		Body:    "gateway returned 502",
		Metadata: map[string]any{
			"agent_id": "ceo-agent",
		},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	events, err := bus.List(ctx, eventbus.StreamGatewayErrors, eventbus.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Metadata["agent_id"] != "ceo-agent" {
		t.Fatalf("metadata not round-tripped: %v", events[0].Metadata)
	}
}

func TestListBreaksTimestampTiesByID(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := eventbus.NewBus(db)
	ctx := context.Background()

	// Two rows sharing one timestamp; the sortable ids carry push order.
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	for _, row := range []struct{ id, body string }{
		{"01ARZ3NDEKTSV4RRFFQ69G5FAA", "first"},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAB", "second"},
	} {
		if _, err := db.Exec(`
			INSERT INTO events (id, stream, scope_type, scope_id, body, created_at)
			VALUES (?, ?, 'global', '*', ?, ?)
		`, row.id, eventbus.StreamTaskUpdates, row.body, stamp); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}

	events, err := bus.List(ctx, eventbus.StreamTaskUpdates, eventbus.ListOptions{Order: "fifo"})
	if err != nil {
		t.Fatalf("list fifo: %v", err)
	}
	if len(events) != 2 || events[0].Body != "first" || events[1].Body != "second" {
		t.Fatalf("fifo order wrong: %+v", events)
	}

	events, err = bus.List(ctx, eventbus.StreamTaskUpdates, eventbus.ListOptions{Order: "lifo"})
	if err != nil {
		t.Fatalf("list lifo: %v", err)
	}
	if len(events) != 2 || events[0].Body != "second" || events[1].Body != "first" {
		t.Fatalf("lifo order wrong: %+v", events)
	}
}

func TestSubscribeFanOut(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := eventbus.NewBus(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bus.Subscribe(ctx, []string{eventbus.StreamMessages})
	other := bus.Subscribe(ctx, []string{eventbus.StreamTaskUpdates})

	if bus.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", bus.SubscriberCount())
	}

	if _, err := bus.Push(ctx, eventbus.EventInput{
		Stream:  eventbus.StreamMessages,
		Subject: "room-1",
		Body:    "hello",
	}); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case evt := <-sub:
		if evt.Stream != eventbus.StreamMessages || evt.Body != "hello" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not receive event")
	}

	select {
	case evt := <-other:
		t.Fatalf("filtered subscriber received %+v", evt)
	default:
	}
}
