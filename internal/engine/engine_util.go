package engine

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

type Options struct {
	DiscussionTime int
	VotingTime     int
}

func DefaultOptions() Options {
	return Options{DiscussionTime: DefaultDiscuss, VotingTime: DefaultVoting}
}

// NewSession creates a lobby with host as its only player and rolls the
// session secret.
func NewSession(host Player, opts Options) (Session, error) {
	name, err := NormalizeName(host.Name)
	if err != nil {
		return Session{}, err
	}
	if host.ID == "" {
		return Session{}, fmt.Errorf("%w: empty id", ErrUnknownPlayer)
	}
	if opts.DiscussionTime <= 0 {
		opts.DiscussionTime = DefaultDiscuss
	}
	if opts.VotingTime <= 0 {
		opts.VotingTime = DefaultVoting
	}

	host.Name = name
	host.IsHost = true
	host.IsAlive = true
	host.Role = RoleNone
	host.SecretChampion = ""
	host.VoteTarget = ""

	return Session{
		ID:             uuid.NewString(),
		Status:         StatusLobby,
		Players:        []Player{host},
		CurrentRound:   1,
		SecretChampion: RandomChampion().Name,
		DiscussionTime: opts.DiscussionTime,
		VotingTime:     opts.VotingTime,
	}, nil
}

// NewPlayer returns a not-yet-joined player with a fresh id.
func NewPlayer(name string) (Player, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return Player{}, err
	}
	return Player{ID: uuid.NewString(), Name: n, IsAlive: true}, nil
}

// NormalizeName trims and NFC-normalises a display name and checks its length
// in characters.
func NormalizeName(name string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(name))
	if l := utf8.RuneCountInString(n); l < 1 || l > MaxNameLength {
		return "", fmt.Errorf("%w: %q must be 1-%d characters", ErrInvalidName, name, MaxNameLength)
	}
	return n, nil
}

// Clone deep-copies the session so callers can hand it out as a read-only view.
func (s Session) Clone() Session {
	c := s
	if s.Players != nil {
		c.Players = make([]Player, len(s.Players))
		copy(c.Players, s.Players)
	}
	if s.EliminatedPlayer != nil {
		e := *s.EliminatedPlayer
		c.EliminatedPlayer = &e
	}
	return c
}

func (s Session) playerIndex(id string) int {
	for i, p := range s.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s Session) Player(id string) (Player, bool) {
	if i := s.playerIndex(id); i >= 0 {
		return s.Players[i], true
	}
	return Player{}, false
}

func (s Session) HasPlayer(id string) bool {
	return s.playerIndex(id) >= 0
}

// Host returns the player currently holding write authority.
func (s Session) Host() (Player, bool) {
	for _, p := range s.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

func (s Session) IsHost(id string) bool {
	p, ok := s.Player(id)
	return ok && p.IsHost
}

func (s Session) AlivePlayers() []Player {
	alive := make([]Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.IsAlive {
			alive = append(alive, p)
		}
	}
	return alive
}

// Counting reports whether the session has a running countdown.
func (s Session) Counting() bool {
	return s.Status == StatusPlaying || s.Status == StatusVoting
}

// Validate rejects snapshots that break the structural invariants: unknown
// status, empty or duplicate ids, more than one host.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session: empty id")
	}
	switch s.Status {
	case StatusLobby, StatusPlaying, StatusVoting, StatusGameOver:
	default:
		return fmt.Errorf("session %s: unknown status %q", s.ID, s.Status)
	}
	if len(s.Players) > MaxPlayers {
		return fmt.Errorf("session %s: %d players", s.ID, len(s.Players))
	}

	seen := make(map[string]bool, len(s.Players))
	hosts := 0
	for _, p := range s.Players {
		if p.ID == "" {
			return fmt.Errorf("session %s: player with empty id", s.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("session %s: duplicate player %s", s.ID, p.ID)
		}
		seen[p.ID] = true
		if p.IsHost {
			hosts++
		}
	}
	if hosts > 1 {
		return fmt.Errorf("session %s: %d hosts", s.ID, hosts)
	}
	return nil
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// randomIndex picks the impostor and the secret. Tests swap it for a fixed
// choice.
var randomIndex = func(n int) int {
	return rand.IntN(n)
}
