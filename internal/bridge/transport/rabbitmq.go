package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
)

func init() {
	Register("rabbitmq", buildRabbitMQ)
}

func buildRabbitMQ(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	amqpConfig := amqp.NewDurablePubSubConfig(
		cfg.GetRabbitMQURL(),
		amqp.GenerateQueueNameTopicNameWithSuffix("-chatbridge"),
	)

	conn, err := amqp.NewConnection(amqp.ConnectionConfig{
		AmqpURI:   cfg.GetRabbitMQURL(),
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	publisher, err := amqp.NewPublisherWithConnection(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := amqp.NewSubscriberWithConnection(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
