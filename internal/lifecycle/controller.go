// Package lifecycle turns user intents into session machine operations and
// broadcasts, and feeds inbound broadcasts back into the machine.
//
// The host check lives here: after every accepted change the controller asks
// whether the local player holds host, and only then republishes the
// canonical snapshot.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
	"github.com/DoyleJ11/impostor-lol/internal/session"
	"github.com/DoyleJ11/impostor-lol/internal/transport"
	"github.com/DoyleJ11/impostor-lol/internal/wire"
)

var ErrNotHost = errors.New("only the host can do that")
var ErrNotJoined = errors.New("not in a session")
var ErrAlreadyJoined = errors.New("already in a session")

const DefaultTopic = "impostor-lol/global-lobby"

type Options struct {
	Topic          string
	ConnectTimeout time.Duration
	SettleDelay    time.Duration // wait for an existing host to answer before creating a session
	Logger         *zap.Logger
}

type Controller struct {
	t    transport.Transport
	m    *session.Machine
	opts Options
	log  *zap.Logger

	mu sync.Mutex
	me string // local player id, empty when not joined
}

func New(t transport.Transport, m *session.Machine, opts Options) *Controller {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{t: t, m: m, opts: opts, log: opts.Logger.Named("lifecycle")}
}

// Open connects the transport and subscribes to the game topic.
func (c *Controller) Open(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	if err := c.t.Connect(cctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.t.Subscribe(ctx, c.opts.Topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.opts.Topic, err)
	}
	c.log.Info("listening", zap.String("topic", c.opts.Topic))
	return nil
}

// Run feeds inbound messages to the machine and publishes countdown
// progress until ctx ends or the transport closes.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.inboundLoop(gctx) })
	g.Go(func() error { return c.timerLoop(gctx) })
	return g.Wait()
}

func (c *Controller) inboundLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.t.Messages():
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Controller) handle(ctx context.Context, msg transport.Message) {
	if msg.Topic != c.opts.Topic {
		return
	}
	env, err := wire.Decode(msg.Payload)
	if err != nil {
		c.log.Debug("dropping malformed message", zap.Error(err))
		return
	}
	// Without an identity there is nothing to reconcile into.
	if me := c.localID(); me == "" || env.From == me {
		return
	}

	res := c.m.Receive(ctx, env)
	if res.Err != nil {
		c.log.Debug("dropping message", zap.String("type", string(env.Type)), zap.Error(res.Err))
		return
	}
	if !res.View.IsHost {
		return
	}
	// A late joiner asks for state even when nothing changed.
	if res.Changed || env.Type == wire.TypeRequestState {
		if err := c.publishState(ctx, res.View); err != nil {
			c.log.Warn("republish failed", zap.Error(err))
		}
	}
}

func (c *Controller) timerLoop(ctx context.Context) error {
	for {
		updates, err := c.m.Watch(ctx, "lifecycle-"+uuid.NewString(), 64)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, session.ErrStopped) {
				return nil
			}
			return err
		}
		for u := range updates {
			if u.Cause != session.CauseTimer || !u.View.IsHost {
				continue
			}
			if err := c.publishState(ctx, u.View); err != nil {
				c.log.Warn("countdown publish failed", zap.Error(err))
			}
		}
		// Closed because the machine stopped or we fell behind.
		select {
		case <-ctx.Done():
			return nil
		case <-c.m.Done():
			return nil
		default:
			c.log.Debug("update stream dropped, rewatching")
		}
	}
}

// Join announces the player, gives an existing host time to answer, then
// creates a session or joins the one that arrived.
func (c *Controller) Join(ctx context.Context, name string) (session.View, error) {
	if c.localID() != "" {
		return session.View{}, ErrAlreadyJoined
	}
	p, err := engine.NewPlayer(name)
	if err != nil {
		return session.View{}, err
	}
	if err := c.m.Identify(ctx, p); err != nil {
		return session.View{}, err
	}
	c.setLocal(p.ID)

	var errs error
	if payload, err := wire.Request(p.ID, p.Name); err == nil {
		errs = multierr.Append(errs, c.publish(ctx, wire.TypeRequestState, transport.AtLeastOnce, payload))
	}

	if c.opts.SettleDelay > 0 {
		t := time.NewTimer(c.opts.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			c.forget(context.Background())
			return session.View{}, ctx.Err()
		}
	}

	res := c.m.Enter(ctx)
	if res.Err != nil {
		c.forget(ctx)
		return res.View, multierr.Append(errs, res.Err)
	}

	switch res.Outcome {
	case session.OutcomeCreated:
		c.log.Info("created session", zap.String("session", res.View.Session.ID), zap.String("player", p.Name))
		errs = multierr.Append(errs, c.publishState(ctx, res.View))
	case session.OutcomeJoined:
		c.log.Info("joined session", zap.String("session", res.View.Session.ID), zap.String("player", p.Name))
		if payload, err := wire.PlayerJoined(p.ID, *res.View.Local); err == nil {
			errs = multierr.Append(errs, c.publish(ctx, wire.TypePlayerJoined, transport.AtLeastOnce, payload))
		}
		errs = multierr.Append(errs, c.publishState(ctx, res.View))
	}
	return res.View, errs
}

func (c *Controller) StartGame(ctx context.Context) (session.View, error) {
	v, err := c.m.State(ctx)
	if err != nil {
		return v, err
	}
	if v.Session == nil || v.Local == nil {
		return v, ErrNotJoined
	}
	if !v.IsHost {
		return v, ErrNotHost
	}

	res := c.m.Do(ctx, engine.Command{Type: engine.CmdStart})
	if res.Err != nil {
		return res.View, res.Err
	}
	return res.View, c.publishState(ctx, res.View)
}

func (c *Controller) Vote(ctx context.Context, targetID string) (session.View, error) {
	me := c.localID()
	if me == "" {
		return session.View{}, ErrNotJoined
	}

	res := c.m.Do(ctx, engine.Command{Type: engine.CmdVote, PlayerID: me, TargetID: targetID})
	if res.Err != nil {
		return res.View, res.Err
	}

	var errs error
	if payload, err := wire.Ballot(me, targetID); err == nil {
		errs = multierr.Append(errs, c.publish(ctx, wire.TypeVote, transport.AtLeastOnce, payload))
	}
	if res.View.IsHost {
		errs = multierr.Append(errs, c.publishState(ctx, res.View))
	}
	return res.View, errs
}

// Leave announces the departure and forgets the session. A departing host
// also publishes the hand-off snapshot so the next host is named promptly.
func (c *Controller) Leave(ctx context.Context) error {
	me := c.localID()
	if me == "" {
		return ErrNotJoined
	}

	var errs error
	if payload, err := wire.Left(me, me); err == nil {
		errs = multierr.Append(errs, c.publish(ctx, wire.TypePlayerLeft, transport.AtLeastOnce, payload))
	}

	res := c.m.Depart(ctx)
	c.setLocal("")
	if res.Err != nil {
		return multierr.Append(errs, res.Err)
	}

	if res.WasHost && res.View.Session != nil && len(res.View.Session.Players) > 0 {
		payload, err := wire.GameState(me, *res.View.Session)
		if err == nil {
			errs = multierr.Append(errs, c.publish(ctx, wire.TypeGameState, transport.AtLeastOnce, payload))
		}
	}
	c.log.Info("left session", zap.Bool("wasHost", res.WasHost))
	return errs
}

// Reset forgets the session locally without telling anyone.
func (c *Controller) Reset(ctx context.Context) error {
	return c.forget(ctx)
}

func (c *Controller) View(ctx context.Context) (session.View, error) {
	return c.m.State(ctx)
}

func (c *Controller) Watch(ctx context.Context, id string, buffer int) (<-chan session.Update, error) {
	return c.m.Watch(ctx, id, buffer)
}

func (c *Controller) Connected() bool { return c.t.Connected() }

// Close leaves any joined session, stops the machine and closes the
// transport.
func (c *Controller) Close() error {
	var errs error
	if c.localID() != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = multierr.Append(errs, c.Leave(ctx))
		cancel()
	}
	c.m.Stop()
	return multierr.Append(errs, c.t.Close())
}

func (c *Controller) forget(ctx context.Context) error {
	c.setLocal("")
	return c.m.Discard(ctx).Err
}

func (c *Controller) localID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.me
}

func (c *Controller) setLocal(id string) {
	c.mu.Lock()
	c.me = id
	c.mu.Unlock()
}

func (c *Controller) publishState(ctx context.Context, v session.View) error {
	if v.Session == nil {
		return nil
	}
	from := ""
	if v.Local != nil {
		from = v.Local.ID
	}
	payload, err := wire.GameState(from, *v.Session)
	if err != nil {
		return err
	}
	return c.publish(ctx, wire.TypeGameState, transport.AtLeastOnce, payload)
}

func (c *Controller) publish(ctx context.Context, t wire.MessageType, qos transport.QoS, payload []byte) error {
	if err := c.t.Publish(ctx, c.opts.Topic, qos, payload); err != nil {
		c.log.Warn("publish failed", zap.String("type", string(t)), zap.Error(err))
		return fmt.Errorf("publish %s: %w", t, err)
	}
	return nil
}
