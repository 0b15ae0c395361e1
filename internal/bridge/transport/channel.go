package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

func init() {
	Register("channel", buildChannel)
}

// buildChannel wires the in-memory Go channel pub/sub. It only makes sense in
// tests and single-process setups; the executor must live in the same process.
func buildChannel(_ context.Context, _ Config, logger watermill.LoggerAdapter) (Transport, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	return Transport{
		Publisher:  pubSub,
		Subscriber: pubSub,
	}, nil
}
