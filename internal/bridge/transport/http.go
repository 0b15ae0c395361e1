package transport

import (
	"context"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
)

func init() {
	Register("http", buildHTTP)
}

// buildHTTP posts published messages to HTTPPublisherURL+topic and serves
// subscriptions on HTTPServerAddress. Useful when the executor integrates via
// plain webhooks instead of a broker.
func buildHTTP(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	publisher, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return wmhttp.DefaultMarshalMessageFunc(cfg.GetHTTPPublisherURL()+topic, msg)
		},
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := wmhttp.NewSubscriber(cfg.GetHTTPServerAddress(), wmhttp.SubscriberConfig{
		UnmarshalMessageFunc: wmhttp.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	go func() {
		if err := subscriber.StartHTTPServer(); err != nil {
			logger.Error("Failed to start HTTP subscriber server", err, nil)
		}
	}()

	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
