package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher publishes messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// Subscriber subscribes to messages from a topic. The signature matches
// watermill's message.Subscriber so a PubSub can be handed straight to the
// router.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

// PubSub combines publishing and subscribing over one transport.
type PubSub interface {
	Publisher
	Subscriber
}
