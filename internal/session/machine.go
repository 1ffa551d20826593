package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
	"github.com/DoyleJ11/impostor-lol/internal/reconcile"
	"github.com/DoyleJ11/impostor-lol/internal/wire"
)

var ErrNoSession = errors.New("no session")
var ErrNoIdentity = errors.New("no local player")
var ErrNotInSession = errors.New("local player not in session")
var ErrStopped = errors.New("session machine stopped")

type Msg interface{ isSessionMsg() }

// Identify sets who the local player is before entering a session.
type Identify struct {
	Player engine.Player
}

func (Identify) isSessionMsg() {}

// Enter creates a session with the local player as host when none is known,
// otherwise appends the local player to the known one.
type Enter struct {
	Reply chan Result
}

func (Enter) isSessionMsg() {}

type Do struct {
	Cmd   engine.Command
	Reply chan Result
}

func (Do) isSessionMsg() {}

// Inbound carries a decoded envelope from another client.
type Inbound struct {
	Env   wire.Envelope
	Reply chan Result
}

func (Inbound) isSessionMsg() {}

// Depart removes the local player and forgets the session. The reply holds
// the session as it looks after the removal.
type Depart struct {
	Reply chan Result
}

func (Depart) isSessionMsg() {}

// Discard forgets the session and the local player.
type Discard struct {
	Reply chan Result
}

func (Discard) isSessionMsg() {}

type Subscribe struct {
	ID     string
	Outbox chan Update // where this subscriber wants to receive updates
}

func (Subscribe) isSessionMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type timerFired struct{ gen int }

func (timerFired) isSessionMsg() {}

type Cause string

const (
	CauseLocal  Cause = "local"
	CauseRemote Cause = "remote"
	CauseTimer  Cause = "timer"
	CauseReset  Cause = "reset"
)

type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeCreated Outcome = "created"
	OutcomeJoined  Outcome = "joined"
	OutcomePresent Outcome = "present"
)

// View is a read-only copy of what the local process knows.
type View struct {
	Session *engine.Session
	Local   *engine.Player
	IsHost  bool
}

type Update struct {
	Cause  Cause
	Events []engine.Event
	View   View
}

type Result struct {
	View    View
	Events  []engine.Event
	Changed bool
	Outcome Outcome
	WasHost bool
	Err     error
}

type Options struct {
	Engine engine.Options
	Tick   time.Duration
	Logger *zap.Logger
}

type Machine struct {
	inbox   chan Msg
	session *engine.Session
	local   *engine.Player
	clients map[string]chan Update

	opts     Options
	log      *zap.Logger
	timer    *time.Timer
	timerGen int

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMachine(parent context.Context, opts Options) *Machine {
	ctx, cancel := context.WithCancel(parent)
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Machine{
		inbox:   make(chan Msg, 64),
		clients: make(map[string]chan Update),
		opts:    opts,
		log:     opts.Logger.Named("session"),
		ctx:     ctx,
		cancel:  cancel,
	}

	go m.loop()
	return m
}

func (m *Machine) loop() {
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case Identify:
				p := msg.Player
				m.local = &p

			case Enter:
				msg.Reply <- m.enter()

			case Do:
				msg.Reply <- m.do(msg.Cmd)

			case Inbound:
				msg.Reply <- m.inbound(msg.Env)

			case Depart:
				msg.Reply <- m.depart()

			case Discard:
				m.discard()
				msg.Reply <- Result{View: m.view(), Changed: true}

			case Subscribe:
				// Register subscriber + send current view immediately
				m.clients[msg.ID] = msg.Outbox
				select {
				case msg.Outbox <- Update{Cause: CauseLocal, View: m.view()}:
				default:
				}

			case Unsubscribe:
				if ch, ok := m.clients[msg.ID]; ok {
					close(ch)
					delete(m.clients, msg.ID)
				}

			case GetState:
				msg.Reply <- m.view()

			case timerFired:
				m.fire(msg.gen)

			case Shutdown:
				m.shutdown()
				return
			}
		}
	}
}

func (m *Machine) enter() Result {
	if m.local == nil {
		return Result{View: m.view(), Err: ErrNoIdentity}
	}

	if m.session == nil {
		s, err := engine.NewSession(*m.local, m.opts.Engine)
		if err != nil {
			return Result{View: m.view(), Err: err}
		}
		m.commit(s, CauseLocal, nil)
		m.log.Info("session created", zap.String("session", s.ID), zap.String("host", m.local.ID))
		return Result{View: m.view(), Changed: true, Outcome: OutcomeCreated}
	}

	if m.session.HasPlayer(m.local.ID) {
		return Result{View: m.view(), Outcome: OutcomePresent}
	}

	events, next, err := engine.Apply(*m.session, engine.Command{Type: engine.CmdJoin, Player: *m.local})
	if err != nil {
		return Result{View: m.view(), Err: err}
	}
	m.commit(next, CauseLocal, events)
	return Result{View: m.view(), Events: events, Changed: true, Outcome: OutcomeJoined}
}

func (m *Machine) do(cmd engine.Command) Result {
	if m.session == nil {
		return Result{View: m.view(), Err: ErrNoSession}
	}
	events, next, err := engine.Apply(*m.session, cmd)
	if err != nil {
		return Result{View: m.view(), Err: err}
	}
	m.commit(next, CauseLocal, events)
	return Result{View: m.view(), Events: events, Changed: true}
}

func (m *Machine) inbound(env wire.Envelope) Result {
	var (
		next    engine.Session
		changed bool
		err     error
	)

	switch env.Type {
	case wire.TypeGameState:
		var s engine.Session
		if s, err = env.GameState(); err == nil {
			var reason reconcile.Reason
			next, changed, reason = reconcile.ChooseCanonical(m.session, s)
			m.log.Debug("snapshot", zap.String("session", s.ID), zap.Int("revision", s.Revision),
				zap.Bool("accepted", changed), zap.String("reason", string(reason)))
		}

	case wire.TypePlayerJoined:
		var p engine.Player
		if p, err = env.PlayerJoined(); err == nil {
			next, changed = reconcile.MergeJoined(m.session, p)
		}

	case wire.TypeRequestState:
		var r wire.RequestState
		if r, err = env.RequestState(); err == nil {
			next, changed = reconcile.MergeJoined(m.session, engine.Player{ID: r.PlayerID, Name: r.PlayerName})
		}

	case wire.TypePlayerLeft:
		var l wire.PlayerLeft
		if l, err = env.PlayerLeft(); err == nil {
			next, changed = reconcile.MergeLeft(m.session, l.PlayerID)
		}

	case wire.TypePlayers:
		var players []engine.Player
		if players, err = env.Players(); err == nil {
			next, changed = reconcile.MergePlayers(m.session, players)
		}

	case wire.TypeVote:
		var v wire.Vote
		if v, err = env.Vote(); err == nil {
			next, changed = reconcile.MergeVote(m.session, v.PlayerID, v.TargetID)
		}

	default:
		err = wire.ErrMalformed
	}

	if err != nil {
		return Result{View: m.view(), Err: err}
	}
	if changed {
		m.commit(next, CauseRemote, nil)
	}
	return Result{View: m.view(), Changed: changed}
}

func (m *Machine) depart() Result {
	if m.local == nil {
		return Result{View: m.view(), Err: ErrNoIdentity}
	}
	if m.session == nil || !m.session.HasPlayer(m.local.ID) {
		m.discard()
		return Result{View: m.view(), Err: ErrNotInSession}
	}

	leaving, _ := m.session.Player(m.local.ID)
	events, next, err := engine.Apply(*m.session, engine.Command{Type: engine.CmdLeave, PlayerID: leaving.ID})
	if err != nil {
		return Result{View: m.view(), Err: err}
	}
	if leaving.IsHost {
		// The departing host signs off the hand-off snapshot.
		next.Revision = m.session.Revision + 1
	}

	m.discard()
	return Result{
		View:    View{Session: &next, Local: &leaving, IsHost: leaving.IsHost},
		Events:  events,
		Changed: true,
		WasHost: leaving.IsHost,
	}
}

func (m *Machine) discard() {
	m.stopTimer()
	m.session = nil
	m.local = nil
	m.broadcast(Update{Cause: CauseReset, View: m.view()})
}

// commit installs next as the local session. Writes made while the local
// player holds host bump the revision.
func (m *Machine) commit(next engine.Session, cause Cause, events []engine.Event) {
	before := m.phase()

	if m.local != nil && next.IsHost(m.local.ID) {
		prev := 0
		if m.session != nil {
			prev = m.session.Revision
		}
		next.Revision = max(prev, next.Revision) + 1
	}

	m.session = &next
	m.syncTimer(before)
	m.broadcast(Update{Cause: cause, Events: events, View: m.view()})
}

func (m *Machine) view() View {
	v := View{}
	if m.session != nil {
		s := m.session.Clone()
		v.Session = &s
	}
	if m.local != nil {
		p := *m.local
		if m.session != nil {
			if sp, ok := m.session.Player(p.ID); ok {
				p = sp
			}
		}
		v.Local = &p
		v.IsHost = m.session != nil && m.session.IsHost(p.ID)
	}
	return v
}

func (m *Machine) shutdown() {
	m.stopTimer()
	for id, ch := range m.clients {
		close(ch) // Tell subscriber no more updates
		delete(m.clients, id)
	}
	m.cancel()
}

func (m *Machine) broadcast(u Update) {
	for id, ch := range m.clients {
		select {
		case ch <- u:
			//ok
		default:
			// Subscriber is slow/full - drop them.
			m.log.Warn("dropping slow subscriber", zap.String("subscriber", id))
			close(ch)
			delete(m.clients, id)
		}
	}
}

// Expose the inbox so tests or the controller can send messages.
func (m *Machine) Inbox() chan<- Msg { return m.inbox }

// Done is closed once the machine has stopped.
func (m *Machine) Done() <-chan struct{} { return m.ctx.Done() }
