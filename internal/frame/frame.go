// Package frame defines the JSON frames exchanged between relay clients and
// the relay server over a websocket.
//
// Client → server: sub, unsub, pub.
// Server → client: msg (a delivery on a subscribed topic), err.
package frame

import (
	"errors"
	"fmt"
)

var ErrBadFrame = errors.New("bad frame")

type Op string

const (
	OpSub   Op = "sub"
	OpUnsub Op = "unsub"
	OpPub   Op = "pub"
	OpMsg   Op = "msg"
	OpErr   Op = "err"
)

type Frame struct {
	Op      Op     `json:"op"`
	Topic   string `json:"topic,omitempty"`
	QoS     int    `json:"qos,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Sub(topic string) Frame   { return Frame{Op: OpSub, Topic: topic} }
func Unsub(topic string) Frame { return Frame{Op: OpUnsub, Topic: topic} }

func Pub(topic string, qos int, payload []byte) Frame {
	return Frame{Op: OpPub, Topic: topic, QoS: qos, Payload: payload}
}

func Msg(topic string, payload []byte) Frame {
	return Frame{Op: OpMsg, Topic: topic, Payload: payload}
}

func Err(topic, msg string) Frame { return Frame{Op: OpErr, Topic: topic, Error: msg} }

// Validate checks a frame sent by a client.
func (f Frame) Validate() error {
	switch f.Op {
	case OpSub, OpUnsub:
	case OpPub:
		if len(f.Payload) == 0 {
			return fmt.Errorf("%w: empty payload", ErrBadFrame)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrBadFrame, f.Op)
	}
	if f.Topic == "" {
		return fmt.Errorf("%w: missing topic", ErrBadFrame)
	}
	return nil
}
