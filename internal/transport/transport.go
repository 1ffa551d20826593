// Package transport is the publish/subscribe boundary the game runs on.
// Implementations deliver at least once, possibly duplicated, in no
// particular order; they own retry and reconnection.
package transport

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("transport not connected")
var ErrConnectTimeout = errors.New("transport connect timed out")

type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
)

type Message struct {
	Topic   string
	Payload []byte
}

type Transport interface {
	// Connect blocks until the broker accepts the session or ctx ends.
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, qos QoS, payload []byte) error
	// Messages is closed once the transport is closed.
	Messages() <-chan Message
	Connected() bool
	Close() error
}
