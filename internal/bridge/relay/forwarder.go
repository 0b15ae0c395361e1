package relay

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/chatbridge/internal/bridge/errors"
	"github.com/drblury/chatbridge/internal/bridge/ids"
	"github.com/drblury/chatbridge/internal/bridge/jsoncodec"
	"github.com/drblury/chatbridge/internal/bridge/topics"
)

// Forwarder pushes events to scoped real-time rooms. The UI collaborator
// subscribes to room topics; what happens past the publish is out of scope.
type Forwarder interface {
	Forward(ctx context.Context, room string, event ChannelEvent) error
}

type publisherForwarder struct {
	publisher message.Publisher
}

// NewPublisherForwarder forwards room events through a Watermill publisher.
// Room names become topics, so any registered transport can carry them.
func NewPublisherForwarder(publisher message.Publisher) (Forwarder, error) {
	if publisher == nil {
		return nil, errors.ErrPublisherRequired
	}
	return &publisherForwarder{publisher: publisher}, nil
}

func (f *publisherForwarder) Forward(_ context.Context, room string, event ChannelEvent) error {
	payload, err := jsoncodec.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set("event_kind", string(event.Kind))
	return f.publisher.Publish(room, msg)
}

// ForwardProtoDomainEvent wraps a protobuf-typed domain payload in a channel
// event envelope (as protojson) and forwards it to the organization's room.
func ForwardProtoDomainEvent(ctx context.Context, f Forwarder, orgID, channelID string, event proto.Message) error {
	if f == nil {
		return errors.ErrForwarderRequired
	}

	payload, err := protojson.Marshal(event)
	if err != nil {
		return err
	}

	return f.Forward(ctx, topics.OrgRoom(orgID), ChannelEvent{
		Kind:      EventDomain,
		ChannelID: channelID,
		OrgID:     orgID,
		Payload:   payload,
	})
}
