package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
)

func init() {
	Register("nats", buildNATS)
}

func buildNATS(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	marshaler := &wmnats.NATSMarshaler{}

	publisher, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:       cfg.GetNATSURL(),
		Marshaler: marshaler,
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:         cfg.GetNATSURL(),
		Unmarshaler: marshaler,
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
