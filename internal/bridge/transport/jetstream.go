package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
)

func init() {
	Register("nats-jetstream", buildJetStream)
}

const (
	// jetStreamName backs every chatbridge topic. Lifecycle events survive a
	// relay restart because the stream is durable; command requests and
	// responses ride the same stream for simplicity.
	jetStreamName = "CHATBRIDGE"

	jetStreamMaxAge     = 7 * 24 * time.Hour
	jetStreamAckWait    = 30 * time.Second
	jetStreamMaxDeliver = 3
)

func buildJetStream(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	t, err := newJetStreamTransport(cfg.GetNATSURL(), logger)
	if err != nil {
		return Transport{}, err
	}
	return Transport{Publisher: t, Subscriber: t}, nil
}

// jetStreamTransport implements Publisher and Subscriber on a durable NATS
// JetStream stream. Unlike the plain NATS transport, messages published while
// a subscriber is down are delivered once it reconnects.
type jetStreamTransport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger watermill.LoggerAdapter

	subscriptions map[string]*nats.Subscription
	subMu         sync.Mutex

	closed   bool
	closedMu sync.RWMutex
	closing  chan struct{}
}

func newJetStreamTransport(url string, logger watermill.LoggerAdapter) (*jetStreamTransport, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	t := &jetStreamTransport{
		nc:            nc,
		js:            js,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
		closing:       make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *jetStreamTransport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      jetStreamName,
		Subjects:  []string{jetStreamName + ".>"},
		MaxAge:    jetStreamMaxAge,
		Retention: nats.InterestPolicy,
	}
	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", jetStreamName, err)
		}
	}
	return nil
}

func (t *jetStreamTransport) Publish(topic string, messages ...*message.Message) error {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	subject := topicToSubject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set("cb_uuid", msg.UUID)

		if _, err := t.js.PublishMsg(&nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}); err != nil {
			return fmt.Errorf("publish to JetStream: %w", err)
		}
	}
	return nil
}

func (t *jetStreamTransport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	subject := topicToSubject(topic)
	consumer := topicToConsumer(topic)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumer,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    jetStreamMaxDeliver,
		AckWait:       jetStreamAckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if _, err := t.js.AddConsumer(jetStreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(jetStreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("create consumer %s: %w", consumer, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, consumer)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	t.subMu.Lock()
	t.subscriptions[topic] = sub
	t.subMu.Unlock()

	output := make(chan *message.Message)
	go t.fetchLoop(ctx, sub, output, topic)
	return output, nil
}

func (t *jetStreamTransport) fetchLoop(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closing:
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if t.logger != nil {
				t.logger.Error("Failed to fetch messages", err, watermill.LogFields{"topic": topic})
			}
			continue
		}

		for _, natsMsg := range msgs {
			wmMsg := natsToWatermill(natsMsg)

			select {
			case output <- wmMsg:
				select {
				case <-wmMsg.Acked():
					if err := natsMsg.Ack(); err != nil && t.logger != nil {
						t.logger.Error("Failed to ack", err, nil)
					}
				case <-wmMsg.Nacked():
					if err := natsMsg.Nak(); err != nil && t.logger != nil {
						t.logger.Error("Failed to nak", err, nil)
					}
				case <-ctx.Done():
					return
				case <-t.closing:
					return
				}
			case <-ctx.Done():
				return
			case <-t.closing:
				return
			}
		}
	}
}

func natsToWatermill(natsMsg *nats.Msg) *message.Message {
	uuid := natsMsg.Header.Get("cb_uuid")
	if uuid == "" {
		uuid = fmt.Sprintf("%d", time.Now().UnixNano())
	}

	wmMsg := message.NewMessage(uuid, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == "cb_uuid" || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}
	return wmMsg
}

func (t *jetStreamTransport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closing)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		_ = sub.Unsubscribe()
	}
	t.subscriptions = make(map[string]*nats.Subscription)
	t.subMu.Unlock()

	t.nc.Close()
	return nil
}

func topicToSubject(topic string) string {
	return jetStreamName + "." + topic
}

// Durable consumer names must not contain dots.
func topicToConsumer(topic string) string {
	return "consumer_" + strings.ReplaceAll(topic, ".", "_")
}
