package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type testConfig struct {
	pubSubSystem string
	busFile      string
}

func (c testConfig) GetPubSubSystem() string       { return c.pubSubSystem }
func (c testConfig) GetKafkaBrokers() []string     { return nil }
func (c testConfig) GetKafkaConsumerGroup() string { return "" }
func (c testConfig) GetRabbitMQURL() string        { return "" }
func (c testConfig) GetNATSURL() string            { return "" }
func (c testConfig) GetHTTPServerAddress() string  { return "" }
func (c testConfig) GetHTTPPublisherURL() string   { return "" }
func (c testConfig) GetBusSQLiteFile() string      { return c.busFile }
func (c testConfig) GetAWSRegion() string          { return "" }
func (c testConfig) GetAWSAccountID() string       { return "" }
func (c testConfig) GetAWSAccessKeyID() string     { return "" }
func (c testConfig) GetAWSSecretAccessKey() string { return "" }
func (c testConfig) GetAWSEndpoint() string        { return "" }

func TestRegistryHasBuiltinTransports(t *testing.T) {
	for _, name := range []string{"channel", "nats", "nats-jetstream", "kafka", "rabbitmq", "http", "aws", "sqlite"} {
		if !DefaultRegistry.Has(name) {
			t.Errorf("expected transport %q to be registered", name)
		}
	}
}

func TestRegistryUnknownTransport(t *testing.T) {
	_, err := Build(context.Background(), testConfig{pubSubSystem: "carrier-pigeon"}, watermill.NopLogger{})
	if err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestRegistryNilConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, watermill.NopLogger{})
	if err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestChannelTransportRoundTrip(t *testing.T) {
	tr, err := Build(context.Background(), testConfig{pubSubSystem: "channel"}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("failed to build channel transport: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := tr.Subscriber.Subscribe(ctx, "test.topic")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	sent := message.NewMessage("msg-1", []byte(`{"hello":"world"}`))
	sent.Metadata.Set("correlation_id", "abc")
	if err := tr.Publisher.Publish("test.topic", sent); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case received := <-messages:
		if received.UUID != "msg-1" {
			t.Errorf("expected UUID msg-1, got %s", received.UUID)
		}
		if received.Metadata.Get("correlation_id") != "abc" {
			t.Errorf("expected correlation_id metadata to survive the round trip")
		}
		received.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestCustomRegistryIsIsolated(t *testing.T) {
	reg := NewRegistry()
	if reg.Has("channel") {
		t.Fatal("new registry should start empty")
	}

	reg.Register("custom", func(_ context.Context, _ Config, _ watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, nil
	})
	if !reg.Has("custom") {
		t.Fatal("expected custom transport to be registered")
	}
	if len(reg.Names()) != 1 {
		t.Fatalf("expected exactly one registered transport, got %v", reg.Names())
	}
}
