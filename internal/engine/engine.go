package engine

import (
	"errors"
)

var ErrNotInLobby = errors.New("session is not in lobby")
var ErrSessionFull = errors.New("session is full")
var ErrDuplicatePlayer = errors.New("player already in session")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrInvalidName = errors.New("invalid player name")
var ErrTooFewPlayers = errors.New("not enough players")
var ErrNotVoting = errors.New("session is not voting")
var ErrVoterEliminated = errors.New("voter is eliminated")
var ErrSelfVote = errors.New("cannot vote for yourself")
var ErrInvalidTarget = errors.New("invalid vote target")
var ErrNoCountdown = errors.New("no countdown running")
var ErrGameOver = errors.New("game is over")
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	MinPlayers     = 3
	MaxPlayers     = 10
	MaxNameLength  = 20
	DefaultDiscuss = 120
	DefaultVoting  = 30
)

type Status string

const (
	StatusLobby    Status = "lobby"
	StatusPlaying  Status = "playing"
	StatusVoting   Status = "voting"
	StatusGameOver Status = "gameOver"
)

type Role string

const (
	RoleNone     Role = ""
	RoleChampion Role = "champion"
	RoleImpostor Role = "impostor"
)

type Winner string

const (
	WinnerNone      Winner = ""
	WinnerChampions Winner = "champions"
	WinnerImpostor  Winner = "impostor"
)

type Player struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	IsHost         bool   `json:"isHost"`
	IsAlive        bool   `json:"isAlive"`
	Role           Role   `json:"role,omitempty"`
	SecretChampion string `json:"secretChampion,omitempty"`
	VoteTarget     string `json:"voteTarget,omitempty"`
}

// Session is the replicated game state. Field names on the wire follow the
// camelCase layout every client already speaks.
type Session struct {
	ID               string   `json:"id"`
	Status           Status   `json:"status"`
	Players          []Player `json:"players"`
	CurrentRound     int      `json:"currentRound"`
	SecretChampion   string   `json:"secretChampion"`
	ImpostorID       string   `json:"impostorId,omitempty"`
	RoundTimer       int      `json:"roundTimer"`
	DiscussionTime   int      `json:"discussionTime"`
	VotingTime       int      `json:"votingTime"`
	Winner           Winner   `json:"winner,omitempty"`
	EliminatedPlayer *Player  `json:"eliminatedPlayer,omitempty"`
	Revision         int      `json:"revision"`
}

type CommandType string

const (
	CmdJoin  CommandType = "Join"
	CmdLeave CommandType = "Leave"
	CmdStart CommandType = "Start"
	CmdVote  CommandType = "Vote"
	CmdTick  CommandType = "Tick"
)

/*
	CmdJoin  -> EvtPlayerJoined
	CmdLeave -> EvtPlayerLeft -> EvtHostTransferred? -> EvtGameAborted?
	CmdStart -> EvtRolesAssigned -> EvtDiscussionStarted
	CmdVote  -> EvtVoteCast
	CmdTick  -> EvtTimerTicked -> EvtVotingStarted
	         |  EvtTimerTicked -> EvtPlayerEliminated | EvtNoElimination -> EvtGameOver | EvtRoundAdvanced -> EvtDiscussionStarted
*/

type Command struct {
	Type     CommandType
	Player   Player // CmdJoin
	PlayerID string // CmdLeave, CmdVote
	TargetID string // CmdVote
}

type EventType string

const (
	EvtPlayerJoined      EventType = "PlayerJoined"
	EvtPlayerLeft        EventType = "PlayerLeft"
	EvtHostTransferred   EventType = "HostTransferred"
	EvtGameAborted       EventType = "GameAborted"
	EvtRolesAssigned     EventType = "RolesAssigned"
	EvtDiscussionStarted EventType = "DiscussionStarted"
	EvtVotingStarted     EventType = "VotingStarted"
	EvtVoteCast          EventType = "VoteCast"
	EvtTimerTicked       EventType = "TimerTicked"
	EvtPlayerEliminated  EventType = "PlayerEliminated"
	EvtNoElimination     EventType = "NoElimination"
	EvtRoundAdvanced     EventType = "RoundAdvanced"
	EvtGameOver          EventType = "GameOver"
)

type Event struct {
	Type     EventType
	PlayerID string
	TargetID string
	Round    int
	Winner   Winner
}

// Apply runs cmd against s. s is never modified: on success the returned
// session is a fresh copy, on failure the original is returned with the error.
func Apply(s Session, cmd Command) ([]Event, Session, error) {
	if s.Status == StatusGameOver && cmd.Type != CmdLeave {
		return nil, s, ErrGameOver
	}

	next := s.Clone()

	switch cmd.Type {
	case CmdJoin:
		if s.Status != StatusLobby {
			return nil, s, ErrNotInLobby
		}
		if next.playerIndex(cmd.Player.ID) >= 0 {
			return nil, s, ErrDuplicatePlayer
		}
		if len(s.Players) >= MaxPlayers {
			return nil, s, ErrSessionFull
		}
		name, err := NormalizeName(cmd.Player.Name)
		if err != nil {
			return nil, s, err
		}

		p := cmd.Player
		p.Name = name
		p.IsHost = false
		p.IsAlive = true
		p.Role = RoleNone
		p.SecretChampion = ""
		p.VoteTarget = ""
		next.Players = append(next.Players, p)

		return []Event{{Type: EvtPlayerJoined, PlayerID: p.ID}}, next, nil

	case CmdLeave:
		idx := next.playerIndex(cmd.PlayerID)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}
		events := leave(&next, idx)
		return events, next, nil

	case CmdStart:
		if s.Status != StatusLobby {
			return nil, s, ErrNotInLobby
		}
		if len(s.Players) < MinPlayers {
			return nil, s, ErrTooFewPlayers
		}

		assignRoles(&next)
		next.CurrentRound = 1
		next.Winner = WinnerNone
		next.EliminatedPlayer = nil
		startDiscussion(&next)

		return []Event{
			{Type: EvtRolesAssigned, PlayerID: next.ImpostorID},
			{Type: EvtDiscussionStarted, Round: next.CurrentRound},
		}, next, nil

	case CmdVote:
		if s.Status != StatusVoting {
			return nil, s, ErrNotVoting
		}
		voter := next.playerIndex(cmd.PlayerID)
		if voter < 0 {
			return nil, s, ErrUnknownPlayer
		}
		if !next.Players[voter].IsAlive {
			return nil, s, ErrVoterEliminated
		}
		if cmd.TargetID == cmd.PlayerID {
			return nil, s, ErrSelfVote
		}
		target := next.playerIndex(cmd.TargetID)
		if target < 0 || !next.Players[target].IsAlive {
			return nil, s, ErrInvalidTarget
		}

		// A later vote replaces the earlier one until the tally runs.
		next.Players[voter].VoteTarget = cmd.TargetID
		return []Event{{Type: EvtVoteCast, PlayerID: cmd.PlayerID, TargetID: cmd.TargetID}}, next, nil

	case CmdTick:
		if s.Status != StatusPlaying && s.Status != StatusVoting {
			return nil, s, ErrNoCountdown
		}
		return tick(&next), next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func leave(s *Session, idx int) []Event {
	left := s.Players[idx]
	s.Players = append(s.Players[:idx], s.Players[idx+1:]...)
	events := []Event{{Type: EvtPlayerLeft, PlayerID: left.ID}}

	if left.IsHost && len(s.Players) > 0 {
		for i := range s.Players {
			s.Players[i].IsHost = i == 0
		}
		events = append(events, Event{Type: EvtHostTransferred, PlayerID: s.Players[0].ID})
	}

	// Below the minimum a started or finished game falls back to the lobby.
	// Otherwise the game goes on; winners are only decided by eliminations.
	if s.Status != StatusLobby && len(s.Players) < MinPlayers {
		returnToLobby(s)
		events = append(events, Event{Type: EvtGameAborted})
	}
	return events
}

func tick(s *Session) []Event {
	if s.RoundTimer > 0 {
		s.RoundTimer--
	}
	events := []Event{{Type: EvtTimerTicked, Round: s.CurrentRound}}
	if s.RoundTimer > 0 {
		return events
	}

	if s.Status == StatusPlaying {
		s.Status = StatusVoting
		s.RoundTimer = s.VotingTime
		return append(events, Event{Type: EvtVotingStarted, Round: s.CurrentRound})
	}

	return append(events, processVotes(s)...)
}

func processVotes(s *Session) []Event {
	target, ok := Tally(*s)
	if !ok {
		events := []Event{{Type: EvtNoElimination, Round: s.CurrentRound}}
		return append(events, nextRound(s)...)
	}
	return eliminatePlayer(s, target)
}

func eliminatePlayer(s *Session, id string) []Event {
	idx := s.playerIndex(id)
	s.Players[idx].IsAlive = false
	eliminated := s.Players[idx]
	s.EliminatedPlayer = &eliminated

	events := []Event{{Type: EvtPlayerEliminated, PlayerID: id, Round: s.CurrentRound}}

	if w := checkWinner(*s); w != WinnerNone {
		endGame(s, w)
		return append(events, Event{Type: EvtGameOver, Winner: w})
	}
	return append(events, nextRound(s)...)
}

func nextRound(s *Session) []Event {
	s.CurrentRound++
	s.EliminatedPlayer = nil
	for i := range s.Players {
		s.Players[i].VoteTarget = ""
	}
	startDiscussion(s)
	return []Event{
		{Type: EvtRoundAdvanced, Round: s.CurrentRound},
		{Type: EvtDiscussionStarted, Round: s.CurrentRound},
	}
}

func startDiscussion(s *Session) {
	s.Status = StatusPlaying
	s.RoundTimer = s.DiscussionTime
}

func endGame(s *Session, w Winner) {
	s.Status = StatusGameOver
	s.Winner = w
	s.RoundTimer = 0
}

// returnToLobby clears everything a started game wrote so the lobby can start
// a fresh game with whoever is left.
func returnToLobby(s *Session) {
	s.Status = StatusLobby
	s.RoundTimer = 0
	s.CurrentRound = 1
	s.ImpostorID = ""
	s.Winner = WinnerNone
	s.EliminatedPlayer = nil
	for i := range s.Players {
		s.Players[i].IsAlive = true
		s.Players[i].Role = RoleNone
		s.Players[i].SecretChampion = ""
		s.Players[i].VoteTarget = ""
	}
}

func assignRoles(s *Session) {
	impostor := randomIndex(len(s.Players))
	for i := range s.Players {
		p := &s.Players[i]
		p.IsAlive = true
		p.VoteTarget = ""
		if i == impostor {
			p.Role = RoleImpostor
			p.SecretChampion = ""
			s.ImpostorID = p.ID
		} else {
			p.Role = RoleChampion
			p.SecretChampion = s.SecretChampion
		}
	}
}
