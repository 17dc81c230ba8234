package dispatcher

import (
	"fmt"

	comms "github.com/nats-io/nats.go"
)

const brokerLogPrefix = "dispatcher:broker"

// NatsBroker adapts a COMMS connection to Broker.
type NatsBroker struct {
	nc *comms.Conn
}

// NewNatsBroker wraps nc.
func NewNatsBroker(nc *comms.Conn) *NatsBroker {
	return &NatsBroker{nc: nc}
}

// QueueSubscribe registers fn for subject within the queue group.
func (b *NatsBroker) QueueSubscribe(subject, group string, fn func(InboundMessage)) (Subscription, error) {
	sub, err := b.nc.QueueSubscribe(subject, group, func(msg *comms.Msg) {
		fn(InboundMessage{
			Subject: msg.Subject,
			ReplyTo: msg.Reply,
			Payload: msg.Data,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe %s@%s: %w", brokerLogPrefix, subject, group, err)
	}
	return sub, nil
}

// Publish sends data to subject without waiting for acknowledgment.
func (b *NatsBroker) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// Connected reports whether the underlying connection is up.
func (b *NatsBroker) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}
