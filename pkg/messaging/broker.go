package messaging

import "context"

// Broker abstracts the message transport used for fire-and-forget
// downstream delivery (notification fan-out, audit event stream).
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
