package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

func init() {
	Register("kafka", buildKafka)
}

func buildKafka(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   cfg.GetKafkaBrokers(),
		Marshaler: kafka.DefaultMarshaler{},
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:       cfg.GetKafkaBrokers(),
		Unmarshaler:   kafka.DefaultMarshaler{},
		ConsumerGroup: cfg.GetKafkaConsumerGroup(),
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
