// Package dispatch presents a synchronous call/response API on top of a
// transport that only offers uncorrelated, unordered publish/subscribe.
//
// Each request carries a ULID correlation id and the name of the dispatcher's
// reply topic. One shared response subscription per dispatcher demultiplexes
// responses by correlation id; per-call subscriptions would churn the broker
// under load. Every call settles exactly once: whichever of response, timeout,
// or context cancellation arrives first wins, and the losers find the pending
// entry already gone.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/chatbridge/internal/bridge/config"
	"github.com/drblury/chatbridge/internal/bridge/errors"
	"github.com/drblury/chatbridge/internal/bridge/ids"
	"github.com/drblury/chatbridge/internal/bridge/jsoncodec"
	"github.com/drblury/chatbridge/internal/bridge/logging"
	"github.com/drblury/chatbridge/internal/bridge/topics"
)

// Metadata keys shared with the executor contract.
const (
	MetadataReplyTo   = "reply_to"
	MetadataCommand   = "command"
	MetadataChannelID = "channel_id"
)

// Response is the wire shape the executor publishes on the reply topic.
// Exactly one of Result and Error is meaningful, selected by Success.
type Response struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Dispatcher turns Dispatch calls into published requests and resolves them
// from the shared response subscription. One Dispatcher owns its pending table
// exclusively; create one per process, not per call.
type Dispatcher struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     logging.ServiceLogger
	tracer     trace.Tracer

	instanceID string
	replyTopic string
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCall
	running bool

	done chan struct{}
}

type pendingCall struct {
	result chan settlement
	timer  *time.Timer
}

type settlement struct {
	payload json.RawMessage
	err     error
}

// CallOption adjusts a single Dispatch call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the dispatcher's default deadline for one call.
// Pairing-code requests, for example, may need a longer window.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// NewDispatcher creates a dispatcher bound to a publisher/subscriber pair.
// Call Start before dispatching.
func NewDispatcher(publisher message.Publisher, subscriber message.Subscriber, logger logging.ServiceLogger, cfg *config.Config) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.ErrPublisherRequired
	}
	if subscriber == nil {
		return nil, errors.ErrSubscriberRequired
	}
	if logger == nil {
		return nil, errors.ErrLoggerRequired
	}
	if cfg == nil {
		return nil, errors.ErrConfigRequired
	}

	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = config.DefaultCommandTimeout
	}

	instanceID := ids.CreateULID()
	return &Dispatcher{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger.With(logging.LogFields{"component": "dispatcher", "instanceID": instanceID}),
		tracer:     otel.Tracer("github.com/drblury/chatbridge/dispatch"),
		instanceID: instanceID,
		replyTopic: topics.CommandResponses(instanceID),
		timeout:    timeout,
		pending:    make(map[string]*pendingCall),
		done:       make(chan struct{}),
	}, nil
}

// InstanceID returns the dispatcher's unique id; the reply topic is derived
// from it.
func (d *Dispatcher) InstanceID() string {
	return d.instanceID
}

// Start opens the shared response subscription. It returns once the
// subscription is established; the response loop runs until ctx is cancelled,
// at which point every still-pending call fails with ErrDispatcherClosed.
func (d *Dispatcher) Start(ctx context.Context) error {
	responses, err := d.subscriber.Subscribe(ctx, d.replyTopic)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	go d.responseLoop(responses)

	d.logger.Debug("Dispatcher started", logging.LogFields{"replyTopic": d.replyTopic})
	return nil
}

func (d *Dispatcher) responseLoop(responses <-chan *message.Message) {
	defer d.shutdown()

	for msg := range responses {
		d.handleResponse(msg)
		msg.Ack()
	}
}

func (d *Dispatcher) handleResponse(msg *message.Message) {
	correlationID := middleware.MessageCorrelationID(msg)
	if correlationID == "" {
		d.logger.Debug("Dropping response without correlation id", logging.LogFields{"uuid": msg.UUID})
		return
	}

	var resp Response
	if err := jsoncodec.Unmarshal(msg.Payload, &resp); err != nil {
		d.logger.Error("Failed to decode response payload", err, logging.LogFields{"correlationID": correlationID})
		return
	}

	s := settlement{payload: resp.Result}
	if !resp.Success {
		s = settlement{err: &ExecutionError{
			Command:   msg.Metadata.Get(MetadataCommand),
			ChannelID: msg.Metadata.Get(MetadataChannelID),
			Message:   resp.Error,
		}}
	}

	if !d.settle(correlationID, s) {
		// Late or duplicate response after timeout/settlement. The caller is
		// gone; acking and dropping is the contract.
		lateResponses.Inc()
		d.logger.Debug("Dropping late response", logging.LogFields{"correlationID": correlationID})
	}
}

// settle removes the pending entry and delivers the outcome. It reports false
// when the entry was already settled by the other path.
func (d *Dispatcher) settle(correlationID string, s settlement) bool {
	d.mu.Lock()
	call, ok := d.pending[correlationID]
	if ok {
		delete(d.pending, correlationID)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}

	call.timer.Stop()
	call.result <- s
	return true
}

// shutdown fails every pending call once the response subscription is gone;
// nothing could ever settle them.
func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.running = false
	orphaned := d.pending
	d.pending = make(map[string]*pendingCall)
	d.mu.Unlock()

	for _, call := range orphaned {
		call.timer.Stop()
		call.result <- settlement{err: errors.ErrDispatcherClosed}
	}
	close(d.done)

	d.logger.Debug("Dispatcher stopped", nil)
}

// Done is closed once the response loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Dispatch publishes cmd for channelID and blocks until the correlated
// response, the per-call deadline, or ctx wins. The raw result payload is
// returned; the typed wrappers in calls.go decode it.
func (d *Dispatcher) Dispatch(ctx context.Context, channelID string, cmd Command, opts ...CallOption) (json.RawMessage, error) {
	if channelID == "" {
		return nil, errors.ErrChannelIDRequired
	}
	if cmd == nil {
		return nil, errors.ErrCommandRequired
	}

	options := callOptions{timeout: d.timeout}
	for _, opt := range opts {
		opt(&options)
	}

	commandName := cmd.CommandName()

	ctx, span := d.tracer.Start(ctx, "dispatch."+commandName, trace.WithAttributes(
		attribute.String("chatbridge.command", commandName),
		attribute.String("chatbridge.channel_id", channelID),
	))
	defer span.End()

	start := time.Now()
	result, err := d.dispatch(ctx, channelID, cmd, commandName, options.timeout)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	commandDuration.WithLabelValues(commandName, outcome).Observe(time.Since(start).Seconds())

	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, channelID string, cmd Command, commandName string, timeout time.Duration) (json.RawMessage, error) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil, errors.ErrDispatcherClosed
	}
	d.mu.Unlock()

	payload, err := jsoncodec.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	correlationID := ids.CreateULID()
	msg := message.NewMessage(ids.CreateULID(), payload)
	middleware.SetCorrelationID(correlationID, msg)
	msg.Metadata.Set(MetadataReplyTo, d.replyTopic)
	msg.Metadata.Set(MetadataCommand, commandName)
	msg.Metadata.Set(MetadataChannelID, channelID)

	call := &pendingCall{
		// Buffered so the settling side never blocks on a caller that already
		// left via ctx cancellation.
		result: make(chan settlement, 1),
	}
	call.timer = time.AfterFunc(timeout, func() {
		timedOut := d.settle(correlationID, settlement{err: &TimeoutError{
			Command:       commandName,
			ChannelID:     channelID,
			CorrelationID: correlationID,
			Timeout:       timeout,
		}})
		if timedOut {
			commandTimeouts.WithLabelValues(commandName).Inc()
		}
	})

	d.mu.Lock()
	d.pending[correlationID] = call
	d.mu.Unlock()

	commandsInflight.Inc()
	defer commandsInflight.Dec()

	if err := d.publisher.Publish(topics.CommandRequest(commandName, channelID), msg); err != nil {
		// Unregister so a failed publish cannot leak an entry that later times
		// out and pollutes the metrics.
		call.timer.Stop()
		d.mu.Lock()
		delete(d.pending, correlationID)
		d.mu.Unlock()
		return nil, &TransportError{Command: commandName, ChannelID: channelID, Err: err}
	}

	select {
	case s := <-call.result:
		return s.payload, s.err
	case <-ctx.Done():
		// Abandon the call; a later response or the timer will find the entry
		// gone and no-op.
		d.settle(correlationID, settlement{})
		return nil, ctx.Err()
	}
}

// PendingCount reports the number of in-flight calls. Useful for leak checks.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
