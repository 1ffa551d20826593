package session

import (
	"context"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
	"github.com/DoyleJ11/impostor-lol/internal/wire"
)

func (m *Machine) send(ctx context.Context, msg Msg) error {
	select {
	case m.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrStopped
	}
}

func (m *Machine) ask(ctx context.Context, build func(reply chan Result) Msg) Result {
	reply := make(chan Result, 1)
	if err := m.send(ctx, build(reply)); err != nil {
		return Result{Err: err}
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-m.ctx.Done():
		return Result{Err: ErrStopped}
	}
}

func (m *Machine) Identify(ctx context.Context, p engine.Player) error {
	return m.send(ctx, Identify{Player: p})
}

func (m *Machine) Enter(ctx context.Context) Result {
	return m.ask(ctx, func(reply chan Result) Msg { return Enter{Reply: reply} })
}

func (m *Machine) Do(ctx context.Context, cmd engine.Command) Result {
	return m.ask(ctx, func(reply chan Result) Msg { return Do{Cmd: cmd, Reply: reply} })
}

func (m *Machine) Receive(ctx context.Context, env wire.Envelope) Result {
	return m.ask(ctx, func(reply chan Result) Msg { return Inbound{Env: env, Reply: reply} })
}

func (m *Machine) Depart(ctx context.Context) Result {
	return m.ask(ctx, func(reply chan Result) Msg { return Depart{Reply: reply} })
}

func (m *Machine) Discard(ctx context.Context) Result {
	return m.ask(ctx, func(reply chan Result) Msg { return Discard{Reply: reply} })
}

func (m *Machine) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := m.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-m.ctx.Done():
		return View{}, ErrStopped
	}
}

// Watch registers a subscriber with a buffered outbox. The channel is closed
// when the subscriber falls behind, unsubscribes, or the machine stops.
func (m *Machine) Watch(ctx context.Context, id string, buffer int) (<-chan Update, error) {
	out := make(chan Update, buffer)
	if err := m.send(ctx, Subscribe{ID: id, Outbox: out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Machine) Unwatch(ctx context.Context, id string) error {
	return m.send(ctx, Unsubscribe{ID: id})
}

func (m *Machine) Stop() {
	m.cancel()
}
