package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
)

var ErrMalformed = errors.New("malformed message")

type MessageType string

const (
	TypeGameState    MessageType = "gameState"
	TypePlayerJoined MessageType = "playerJoined"
	TypePlayerLeft   MessageType = "playerLeft"
	TypePlayers      MessageType = "players"
	TypeRequestState MessageType = "requestState"
	TypeVote         MessageType = "vote"
)

type Envelope struct {
	Type MessageType     `json:"type"`
	From string          `json:"from,omitempty"` // publishing player id
	Data json.RawMessage `json:"data"`
}

type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

type RequestState struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type Vote struct {
	PlayerID string `json:"playerId"`
	TargetID string `json:"targetId"`
}

func Encode(t MessageType, from string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, From: from, Data: raw})
}

func GameState(from string, s engine.Session) ([]byte, error) {
	return Encode(TypeGameState, from, s)
}

func PlayerJoined(from string, p engine.Player) ([]byte, error) {
	return Encode(TypePlayerJoined, from, p)
}

func Left(from, playerID string) ([]byte, error) {
	return Encode(TypePlayerLeft, from, PlayerLeft{PlayerID: playerID})
}

func Players(from string, players []engine.Player) ([]byte, error) {
	return Encode(TypePlayers, from, players)
}

func Request(from, name string) ([]byte, error) {
	return Encode(TypeRequestState, from, RequestState{PlayerID: from, PlayerName: name})
}

func Ballot(from, targetID string) ([]byte, error) {
	return Encode(TypeVote, from, Vote{PlayerID: from, TargetID: targetID})
}

// Decode parses the envelope and checks its type. The payload is decoded
// lazily by the typed accessors.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypeGameState, TypePlayerJoined, TypePlayerLeft, TypePlayers, TypeRequestState, TypeVote:
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Envelope{}, fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
	}
	return env, nil
}

// PeekType returns the envelope type without validating the payload. Used by
// the relay journal, which never interprets game data.
func PeekType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.Type
}

func (e Envelope) GameState() (engine.Session, error) {
	var s engine.Session
	if err := e.decode(TypeGameState, &s); err != nil {
		return engine.Session{}, err
	}
	if err := s.Validate(); err != nil {
		return engine.Session{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}

func (e Envelope) PlayerJoined() (engine.Player, error) {
	var p engine.Player
	if err := e.decode(TypePlayerJoined, &p); err != nil {
		return engine.Player{}, err
	}
	if p.ID == "" {
		return engine.Player{}, fmt.Errorf("%w: player without id", ErrMalformed)
	}
	return p, nil
}

func (e Envelope) PlayerLeft() (PlayerLeft, error) {
	var l PlayerLeft
	if err := e.decode(TypePlayerLeft, &l); err != nil {
		return PlayerLeft{}, err
	}
	if l.PlayerID == "" {
		return PlayerLeft{}, fmt.Errorf("%w: playerLeft without playerId", ErrMalformed)
	}
	return l, nil
}

func (e Envelope) Players() ([]engine.Player, error) {
	var players []engine.Player
	if err := e.decode(TypePlayers, &players); err != nil {
		return nil, err
	}
	return players, nil
}

func (e Envelope) RequestState() (RequestState, error) {
	var r RequestState
	if err := e.decode(TypeRequestState, &r); err != nil {
		return RequestState{}, err
	}
	if r.PlayerID == "" {
		return RequestState{}, fmt.Errorf("%w: requestState without playerId", ErrMalformed)
	}
	return r, nil
}

func (e Envelope) Vote() (Vote, error) {
	var v Vote
	if err := e.decode(TypeVote, &v); err != nil {
		return Vote{}, err
	}
	if v.PlayerID == "" || v.TargetID == "" {
		return Vote{}, fmt.Errorf("%w: incomplete vote", ErrMalformed)
	}
	return v, nil
}

func (e Envelope) decode(want MessageType, v any) error {
	if e.Type != want {
		return fmt.Errorf("%w: want %s, got %s", ErrMalformed, want, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
