// Package dispatcher binds routes to broker subscriptions and turns inbound
// messages into handler chain runs with exactly one reply each.
package dispatcher

import "github.com/morezero/subject-router/pkg/handler"

// InboundMessage is one message delivered on a routed subscription.
// An empty ReplyTo means the sender expects no reply.
type InboundMessage struct {
	Subject string
	ReplyTo string
	Payload []byte
}

// Publisher sends fire-and-forget messages.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscription is an active queue subscription.
type Subscription interface {
	Unsubscribe() error
}

// Broker is the transport the dispatcher subscribes and replies through.
type Broker interface {
	Publisher
	QueueSubscribe(subject, group string, fn func(InboundMessage)) (Subscription, error)
}

// PayloadCodec decodes request bodies by type identifier and encodes results.
type PayloadCodec interface {
	Decode(data []byte, typeID string) (any, error)
	Encode(result handler.ResultEnvelope) ([]byte, error)
}
