package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

func newTestBus(t *testing.T) *SQLiteBus {
	t.Helper()

	bus, err := NewSQLiteBus(":memory:", watermill.NopLogger{})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(func() {
		_ = bus.Close()
	})
	return bus
}

func TestSQLiteBusPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := bus.Subscribe(ctx, "cmd.send_message.chan-1")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	sent := message.NewMessage("msg-1", []byte(`{"text":"hi"}`))
	sent.Metadata.Set("correlation_id", "corr-1")
	if err := bus.Publish("cmd.send_message.chan-1", sent); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case received := <-messages:
		if received.UUID != "msg-1" {
			t.Errorf("expected UUID msg-1, got %s", received.UUID)
		}
		if received.Metadata.Get("correlation_id") != "corr-1" {
			t.Errorf("metadata did not survive the queue")
		}
		received.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSQLiteBusAckRemovesMessage(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := bus.Subscribe(ctx, "events")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	if err := bus.Publish("events", message.NewMessage("msg-1", []byte("a"))); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case msg := <-messages:
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	// Ack is asynchronous with respect to the delete; give the poller a beat.
	deadline := time.Now().Add(2 * time.Second)
	for {
		count, err := bus.PendingCount("events")
		if err != nil {
			t.Fatalf("failed to count pending: %v", err)
		}
		if count == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 0 pending messages after ack, got %d", count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSQLiteBusNackRedelivers(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := bus.Subscribe(ctx, "retry")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	if err := bus.Publish("retry", message.NewMessage("msg-1", []byte("a"))); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case msg := <-messages:
		msg.Nack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	select {
	case msg := <-messages:
		if msg.UUID != "msg-1" {
			t.Errorf("expected redelivery of msg-1, got %s", msg.UUID)
		}
		msg.Ack()
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for redelivery after nack")
	}
}

func TestSQLiteBusSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/bus.db"

	bus, err := NewSQLiteBus(path, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}

	if err := bus.Publish("durable", message.NewMessage("msg-1", []byte("persisted"))); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("failed to close bus: %v", err)
	}

	reopened, err := NewSQLiteBus(path, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("failed to reopen bus: %v", err)
	}
	defer reopened.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := reopened.Subscribe(ctx, "durable")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	select {
	case msg := <-messages:
		if string(msg.Payload) != "persisted" {
			t.Errorf("unexpected payload %q", msg.Payload)
		}
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("message did not survive reopen")
	}
}

func TestSQLiteBusClosedRejectsPublish(t *testing.T) {
	bus, err := NewSQLiteBus(":memory:", watermill.NopLogger{})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("failed to close bus: %v", err)
	}

	if err := bus.Publish("topic", message.NewMessage("msg-1", nil)); err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe(context.Background(), "topic"); err == nil {
		t.Fatal("expected subscribe on closed bus to fail")
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("double close should be a no-op, got %v", err)
	}
}
