// Package hub routes relay traffic: one hub actor owns the topic table and
// each topic actor fans published payloads out to its subscribers.
package hub

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
)

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type EnsureTopic struct {
	Name  string
	Reply chan *Topic
}

type GetTopic struct {
	Name  string
	Reply chan *Topic
}

// PruneTopic stops the named topic if it has no subscribers left.
type PruneTopic struct {
	Name string
}

type ListTopics struct {
	Reply chan []TopicInfo
}

type ShutdownHub struct{}

func (EnsureTopic) isHubMsg() {}
func (GetTopic) isHubMsg()    {}
func (PruneTopic) isHubMsg()  {}
func (ListTopics) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	topics map[string]*Topic
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		topics: make(map[string]*Topic),
		log:    log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			if h.ctx.Err() != nil {
				h.shutdown()
				return
			}
			switch msg := m.(type) {
			case EnsureTopic:
				if t := h.topics[msg.Name]; t != nil && t.ctx.Err() == nil {
					msg.Reply <- t
					break
				}
				t := newTopic(h.ctx, msg.Name, h.log)
				h.topics[msg.Name] = t
				h.log.Debug("topic opened", zap.String("topic", msg.Name))
				msg.Reply <- t

			case GetTopic:
				msg.Reply <- h.topics[msg.Name] // May be nil

			case PruneTopic:
				t := h.topics[msg.Name]
				if t == nil || t.subscribers.Load() > 0 {
					break
				}
				// A Join still queued in the topic inbox fails with
				// ErrTopicClosed and its sender retries EnsureTopic.
				t.cancel()
				delete(h.topics, msg.Name)
				h.log.Debug("topic pruned", zap.String("topic", msg.Name))

			case ListTopics:
				out := make([]TopicInfo, 0, len(h.topics))
				for _, t := range h.topics {
					out = append(out, t.Info())
				}
				sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
				msg.Reply <- out

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for name, t := range h.topics {
		t.cancel()
		delete(h.topics, name)
	}
	h.cancel()
}

func (h *Hub) ask(ctx context.Context, msg HubMsg) error {
	select {
	case h.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) Ensure(ctx context.Context, name string) (*Topic, error) {
	reply := make(chan *Topic, 1)
	if err := h.ask(ctx, EnsureTopic{Name: name, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case t := <-reply:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
}

func (h *Hub) Get(ctx context.Context, name string) (*Topic, error) {
	reply := make(chan *Topic, 1)
	if err := h.ask(ctx, GetTopic{Name: name, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case t := <-reply:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
}

// Subscribe joins the named topic, creating it when needed. It retries once
// if the topic is pruned between lookup and join.
func (h *Hub) Subscribe(ctx context.Context, name, clientID string, outbox chan Delivery) (*Topic, error) {
	var err error
	for range 2 {
		var t *Topic
		if t, err = h.Ensure(ctx, name); err != nil {
			return nil, err
		}
		if err = t.Subscribe(ctx, clientID, outbox); err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrTopicClosed) {
			return nil, err
		}
	}
	return nil, err
}

func (h *Hub) Prune(ctx context.Context, name string) error {
	return h.ask(ctx, PruneTopic{Name: name})
}

func (h *Hub) List(ctx context.Context) ([]TopicInfo, error) {
	reply := make(chan []TopicInfo, 1)
	if err := h.ask(ctx, ListTopics{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
}

// Publish hands payload to every subscriber of the named topic and reports how
// many took it. Publishing to an unknown topic opens it.
func (h *Hub) Publish(ctx context.Context, name, from string, payload []byte) (int, error) {
	var err error
	for range 2 {
		var t *Topic
		if t, err = h.Ensure(ctx, name); err != nil {
			return 0, err
		}
		var n int
		if n, err = t.Publish(ctx, from, payload); err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrTopicClosed) {
			return 0, err
		}
	}
	return 0, err
}
