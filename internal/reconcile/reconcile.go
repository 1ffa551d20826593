// Package reconcile merges replicated messages into a locally held session.
//
// Every function is pure: it takes the local session (nil when none is known)
// and returns the session to keep plus whether it differs from local. Applying
// the same input twice yields no change the second time, so duplicate
// deliveries are harmless.
package reconcile

import (
	"slices"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
)

type Reason string

const (
	ReasonNoLocal     Reason = "no-local"
	ReasonMorePlayers Reason = "more-players"
	ReasonFewer       Reason = "fewer-players"
	ReasonOtherID     Reason = "other-session"
	ReasonProgressed  Reason = "progressed"
	ReasonRevision    Reason = "newer-revision"
	ReasonIdentical   Reason = "identical"
	ReasonStale       Reason = "stale-revision"
)

// ChooseCanonical decides whether incoming replaces local. Precedence:
// larger player count, then a different session id, then any change in
// status, round or countdown, then a higher revision. Anything else is a
// duplicate or stale copy and local is kept.
func ChooseCanonical(local *engine.Session, incoming engine.Session) (engine.Session, bool, Reason) {
	if local == nil {
		return incoming.Clone(), true, ReasonNoLocal
	}

	switch {
	case len(incoming.Players) > len(local.Players):
		return incoming.Clone(), true, ReasonMorePlayers
	case len(incoming.Players) < len(local.Players):
		return *local, false, ReasonFewer
	case incoming.ID != local.ID:
		return incoming.Clone(), true, ReasonOtherID
	case incoming.Status != local.Status,
		incoming.CurrentRound != local.CurrentRound,
		incoming.RoundTimer != local.RoundTimer:
		return incoming.Clone(), true, ReasonProgressed
	case incoming.Revision > local.Revision:
		return incoming.Clone(), true, ReasonRevision
	case incoming.Revision < local.Revision:
		return *local, false, ReasonStale
	default:
		return *local, false, ReasonIdentical
	}
}

// MergeJoined appends p if it is not already present. The engine's join rules
// still apply, so a started or full session never grows.
func MergeJoined(local *engine.Session, p engine.Player) (engine.Session, bool) {
	if local == nil || local.HasPlayer(p.ID) {
		return keep(local)
	}
	_, next, err := engine.Apply(*local, engine.Command{Type: engine.CmdJoin, Player: p})
	if err != nil {
		return *local, false
	}
	return next, true
}

// MergeLeft removes playerID if present, with the engine's host hand-off and
// abort rules.
func MergeLeft(local *engine.Session, playerID string) (engine.Session, bool) {
	if local == nil || !local.HasPlayer(playerID) {
		return keep(local)
	}
	_, next, err := engine.Apply(*local, engine.Command{Type: engine.CmdLeave, PlayerID: playerID})
	if err != nil {
		return *local, false
	}
	return next, true
}

// MergePlayers swaps in a full player list when it is at least as large as the
// local one and actually differs. Lists with duplicate ids or several hosts are
// ignored.
func MergePlayers(local *engine.Session, players []engine.Player) (engine.Session, bool) {
	if local == nil || len(players) < len(local.Players) || slices.Equal(players, local.Players) {
		return keep(local)
	}

	next := local.Clone()
	next.Players = slices.Clone(players)
	if err := next.Validate(); err != nil {
		return *local, false
	}
	return next, true
}

// MergeVote records a vote optimistically. Duplicates are no-ops because a
// vote only ever overwrites the voter's single target.
func MergeVote(local *engine.Session, voterID, targetID string) (engine.Session, bool) {
	if local == nil {
		return keep(local)
	}
	if p, ok := local.Player(voterID); ok && p.VoteTarget == targetID {
		return *local, false
	}
	_, next, err := engine.Apply(*local, engine.Command{Type: engine.CmdVote, PlayerID: voterID, TargetID: targetID})
	if err != nil {
		return *local, false
	}
	return next, true
}

func keep(local *engine.Session) (engine.Session, bool) {
	if local == nil {
		return engine.Session{}, false
	}
	return *local, false
}
