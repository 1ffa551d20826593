package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
)

// phase is what the countdown depends on. A change restarts the countdown
// with a full interval.
type phase struct {
	status engine.Status
	round  int
	host   bool
}

func (m *Machine) phase() phase {
	if m.session == nil {
		return phase{}
	}
	p := phase{status: m.session.Status, round: m.session.CurrentRound}
	if m.local != nil {
		p.host = m.session.IsHost(m.local.ID)
	}
	return p
}

// syncTimer keeps exactly one countdown running while the local player is host
// of a counting session, and none otherwise.
func (m *Machine) syncTimer(before phase) {
	now := m.phase()
	if !now.host || (now.status != engine.StatusPlaying && now.status != engine.StatusVoting) {
		m.stopTimer()
		return
	}
	if m.timer == nil || before != now {
		m.armTimer()
	}
}

func (m *Machine) armTimer() {
	m.stopTimer()
	gen := m.timerGen
	m.timer = time.AfterFunc(m.opts.Tick, func() {
		select {
		case m.inbox <- timerFired{gen: gen}:
		case <-m.ctx.Done():
		}
	})
}

// stopTimer cancels the countdown. Bumping the generation also voids a fire
// that is already queued in the inbox.
func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Machine) fire(gen int) {
	if gen != m.timerGen {
		m.log.Debug("dropping stale timer fire", zap.Int("gen", gen), zap.Int("current", m.timerGen))
		return
	}
	m.timer = nil

	if m.session == nil || !m.session.Counting() || m.local == nil || !m.session.IsHost(m.local.ID) {
		return
	}

	events, next, err := engine.Apply(*m.session, engine.Command{Type: engine.CmdTick})
	if err != nil {
		m.log.Warn("countdown tick rejected", zap.Error(err))
		return
	}
	m.commit(next, CauseTimer, events)
	if engine.ContainsEvent(events, engine.EvtGameOver) {
		m.log.Info("game over", zap.String("session", next.ID), zap.String("winner", string(next.Winner)))
	}
}
