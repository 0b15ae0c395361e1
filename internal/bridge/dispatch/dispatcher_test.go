package dispatch

import (
	"context"
	sterrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/chatbridge/internal/bridge/config"
	bridgeerrors "github.com/drblury/chatbridge/internal/bridge/errors"
	"github.com/drblury/chatbridge/internal/bridge/jsoncodec"
	"github.com/drblury/chatbridge/internal/bridge/logging"
	"github.com/drblury/chatbridge/internal/bridge/topics"
)

func newTestDispatcher(t *testing.T, cfg *config.Config) (*Dispatcher, *gochannel.GoChannel, context.Context) {
	t.Helper()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() {
		_ = pubSub.Close()
	})

	if cfg == nil {
		cfg = &config.Config{PubSubSystem: "channel"}
	}

	d, err := NewDispatcher(pubSub, pubSub, logging.NopLogger(), cfg)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start dispatcher: %v", err)
	}
	return d, pubSub, ctx
}

// startExecutor answers every request for one command/channel pair using fn.
// Responding more than once per request simulates a buggy executor.
func startExecutor(t *testing.T, ctx context.Context, pubSub *gochannel.GoChannel, command, channelID string, times int, fn func(request *message.Message) Response) {
	t.Helper()

	requests, err := pubSub.Subscribe(ctx, topics.CommandRequest(command, channelID))
	if err != nil {
		t.Fatalf("executor failed to subscribe: %v", err)
	}

	go func() {
		for msg := range requests {
			payload, err := jsoncodec.Marshal(fn(msg))
			if err != nil {
				panic(err)
			}
			for i := 0; i < times; i++ {
				response := message.NewMessage(watermill.NewUUID(), payload)
				middleware.SetCorrelationID(middleware.MessageCorrelationID(msg), response)
				response.Metadata.Set(MetadataCommand, msg.Metadata.Get(MetadataCommand))
				response.Metadata.Set(MetadataChannelID, msg.Metadata.Get(MetadataChannelID))
				if err := pubSub.Publish(msg.Metadata.Get(MetadataReplyTo), response); err != nil {
					panic(err)
				}
			}
			msg.Ack()
		}
	}()
}

func TestDispatchResolvesWithResult(t *testing.T) {
	d, pubSub, ctx := newTestDispatcher(t, nil)

	startExecutor(t, ctx, pubSub, "send_message", "c1", 1, func(request *message.Message) Response {
		var cmd SendMessage
		if err := jsoncodec.Unmarshal(request.Payload, &cmd); err != nil {
			return Response{Error: err.Error()}
		}
		if cmd.To != "123" || cmd.Text != "hi" {
			return Response{Error: fmt.Sprintf("unexpected command payload: %+v", cmd)}
		}
		return Response{Success: true, Result: []byte(`{"message_id":"m1"}`)}
	})

	result, err := d.SendMessage(ctx, "c1", SendMessage{To: "123", Text: "hi"})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result.MessageID != "m1" {
		t.Errorf("expected message id m1, got %q", result.MessageID)
	}
	if got := d.PendingCount(); got != 0 {
		t.Errorf("expected no pending entries after settlement, got %d", got)
	}
}

func TestDispatchExecutionError(t *testing.T) {
	d, pubSub, ctx := newTestDispatcher(t, nil)

	startExecutor(t, ctx, pubSub, "connect", "c1", 1, func(*message.Message) Response {
		return Response{Success: false, Error: "pairing rejected"}
	})

	err := d.Connect(ctx, "c1")
	if err == nil {
		t.Fatal("expected execution error")
	}
	var execErr *ExecutionError
	if !sterrors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %T: %v", err, err)
	}
	if execErr.Message != "pairing rejected" {
		t.Errorf("unexpected message %q", execErr.Message)
	}
	if execErr.Command != "connect" || execErr.ChannelID != "c1" {
		t.Errorf("error lost its context: %+v", execErr)
	}
}

func TestDispatchTimeout(t *testing.T) {
	d, _, ctx := newTestDispatcher(t, nil)

	start := time.Now()
	_, err := d.Dispatch(ctx, "c1", Connect{}, WithTimeout(100*time.Millisecond))
	elapsed := time.Since(start)

	if !sterrors.Is(err, ErrCommandTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	var timeoutErr *TimeoutError
	if !sterrors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %T", err)
	}
	if elapsed < 90*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("timeout fired after %s, expected ~100ms", elapsed)
	}
	if got := d.PendingCount(); got != 0 {
		t.Errorf("timed out call leaked a pending entry: %d", got)
	}
}

func TestRepeatedTimeoutsDoNotLeak(t *testing.T) {
	d, _, ctx := newTestDispatcher(t, nil)

	for i := 0; i < 10; i++ {
		if _, err := d.Dispatch(ctx, "c1", Connect{}, WithTimeout(20*time.Millisecond)); !sterrors.Is(err, ErrCommandTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	}
	if got := d.PendingCount(); got != 0 {
		t.Errorf("expected empty pending table after repeated timeouts, got %d", got)
	}
}

func TestLateDuplicateResponseIsDropped(t *testing.T) {
	d, pubSub, ctx := newTestDispatcher(t, nil)

	// The executor answers every request twice; the duplicate must be a no-op.
	startExecutor(t, ctx, pubSub, "send_message", "c1", 2, func(*message.Message) Response {
		return Response{Success: true, Result: []byte(`{"message_id":"m1"}`)}
	})

	result, err := d.SendMessage(ctx, "c1", SendMessage{To: "1", Text: "a"})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result.MessageID != "m1" {
		t.Errorf("unexpected result %+v", result)
	}

	// A second call still works after the duplicate was absorbed.
	if _, err := d.SendMessage(ctx, "c1", SendMessage{To: "1", Text: "b"}); err != nil {
		t.Fatalf("dispatch after duplicate failed: %v", err)
	}
	if got := d.PendingCount(); got != 0 {
		t.Errorf("duplicate response leaked a pending entry: %d", got)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error {
	return sterrors.New("broker unavailable")
}

func (failingPublisher) Close() error { return nil }

func TestDispatchTransportError(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	d, err := NewDispatcher(failingPublisher{}, pubSub, logging.NopLogger(), &config.Config{})
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	_, err = d.Dispatch(ctx, "c1", Connect{})
	var transportErr *TransportError
	if !sterrors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if got := d.PendingCount(); got != 0 {
		t.Errorf("failed publish left a pending entry: %d", got)
	}
}

func TestDispatchBeforeStart(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	d, err := NewDispatcher(pubSub, pubSub, logging.NopLogger(), &config.Config{})
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	if _, err := d.Dispatch(context.Background(), "c1", Connect{}); !sterrors.Is(err, bridgeerrors.ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatchContextCancellation(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)

	callCtx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := d.Dispatch(callCtx, "c1", Connect{}, WithTimeout(5*time.Second))
	if !sterrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := d.PendingCount(); got != 0 {
		t.Errorf("cancelled call leaked a pending entry: %d", got)
	}
}

func TestRawCommandPayloadPassthrough(t *testing.T) {
	d, pubSub, ctx := newTestDispatcher(t, nil)

	startExecutor(t, ctx, pubSub, "future_command", "c1", 1, func(request *message.Message) Response {
		if string(request.Payload) != `{"anything":42}` {
			return Response{Error: "payload was not passed through verbatim"}
		}
		return Response{Success: true}
	})

	if _, err := d.Dispatch(ctx, "c1", RawCommand{Name: "future_command", Payload: []byte(`{"anything":42}`)}); err != nil {
		t.Fatalf("raw dispatch failed: %v", err)
	}
}

func TestDispatchValidation(t *testing.T) {
	d, _, ctx := newTestDispatcher(t, nil)

	if _, err := d.Dispatch(ctx, "", Connect{}); !sterrors.Is(err, bridgeerrors.ErrChannelIDRequired) {
		t.Errorf("expected ErrChannelIDRequired, got %v", err)
	}
	if _, err := d.Dispatch(ctx, "c1", nil); !sterrors.Is(err, bridgeerrors.ErrCommandRequired) {
		t.Errorf("expected ErrCommandRequired, got %v", err)
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	cfg := &config.Config{}

	if _, err := NewDispatcher(nil, pubSub, logging.NopLogger(), cfg); !sterrors.Is(err, bridgeerrors.ErrPublisherRequired) {
		t.Errorf("expected ErrPublisherRequired, got %v", err)
	}
	if _, err := NewDispatcher(pubSub, nil, logging.NopLogger(), cfg); !sterrors.Is(err, bridgeerrors.ErrSubscriberRequired) {
		t.Errorf("expected ErrSubscriberRequired, got %v", err)
	}
	if _, err := NewDispatcher(pubSub, pubSub, nil, cfg); !sterrors.Is(err, bridgeerrors.ErrLoggerRequired) {
		t.Errorf("expected ErrLoggerRequired, got %v", err)
	}
	if _, err := NewDispatcher(pubSub, pubSub, logging.NopLogger(), nil); !sterrors.Is(err, bridgeerrors.ErrConfigRequired) {
		t.Errorf("expected ErrConfigRequired, got %v", err)
	}
}

func TestDispatcherShutdownFailsPending(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	d, err := NewDispatcher(pubSub, pubSub, logging.NopLogger(), &config.Config{})
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), "c1", Connect{}, WithTimeout(10*time.Second))
		errCh <- err
	}()

	// Let the call register, then kill the response loop.
	time.Sleep(50 * time.Millisecond)
	cancel()
	_ = pubSub.Close()

	select {
	case err := <-errCh:
		if !sterrors.Is(err, bridgeerrors.ErrDispatcherClosed) {
			t.Fatalf("expected ErrDispatcherClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending call was not failed on shutdown")
	}
}
