package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
	"github.com/DoyleJ11/impostor-lol/internal/session"
)

var errUnknownTarget = errors.New("no such player")
var errAmbiguousTarget = errors.New("several players have that name")

// game is what the shell needs from the lifecycle controller.
type game interface {
	Join(ctx context.Context, name string) (session.View, error)
	StartGame(ctx context.Context) (session.View, error)
	Vote(ctx context.Context, targetID string) (session.View, error)
	Leave(ctx context.Context) error
	Reset(ctx context.Context) error
	View(ctx context.Context) (session.View, error)
	Connected() bool
}

type shell struct {
	g    game
	out  io.Writer
	last session.View
}

func newShell(g game, out io.Writer) *shell {
	return &shell{g: g, out: out}
}

const help = `commands:
  join <name>       join the lobby, creating a session if none exists
  start             start the game (host only)
  vote <id|name>    vote during the voting phase
  leave             leave the session
  reset             forget the session locally
  state             show the session
  quit              leave and exit`

func (s *shell) repl(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(s.out, help)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.exec(ctx, line)
			if err != nil {
				fmt.Fprintln(s.out, "error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
		return false, nil
	case "join":
		v, err := s.g.Join(ctx, arg)
		if v.Session != nil && v.Local != nil {
			s.show(v)
		}
		return false, err
	case "start":
		_, err := s.g.StartGame(ctx)
		return false, err
	case "vote":
		v, err := s.g.View(ctx)
		if err != nil {
			return false, err
		}
		target, err := resolveTarget(v, arg)
		if err != nil {
			return false, err
		}
		if _, err := s.g.Vote(ctx, target.ID); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "you voted for %s\n", target.Name)
		return false, nil
	case "leave":
		return false, s.g.Leave(ctx)
	case "reset":
		return false, s.g.Reset(ctx)
	case "state":
		v, err := s.g.View(ctx)
		if err != nil {
			return false, err
		}
		s.show(v)
		return false, nil
	case "help":
		fmt.Fprintln(s.out, help)
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// follow prints announcements and the session whenever its shape changes.
// Countdown ticks alone are not printed.
func (s *shell) follow(ctx context.Context, updates <-chan session.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			for _, line := range announce(s.last, u.View) {
				fmt.Fprintln(s.out, "*", line)
			}
			if changedShape(s.last, u.View) {
				s.show(u.View)
			}
			s.last = u.View
		}
	}
}

func (s *shell) show(v session.View) {
	render(s.out, v, s.g.Connected())
}

func resolveTarget(v session.View, arg string) (engine.Player, error) {
	if v.Session == nil {
		return engine.Player{}, errUnknownTarget
	}
	if p, ok := v.Session.Player(arg); ok {
		return p, nil
	}
	var found []engine.Player
	for _, p := range v.Session.Players {
		if strings.EqualFold(p.Name, arg) || (len(arg) >= 4 && strings.HasPrefix(p.ID, arg)) {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return engine.Player{}, fmt.Errorf("%w: %q", errUnknownTarget, arg)
	case 1:
		return found[0], nil
	default:
		return engine.Player{}, fmt.Errorf("%w: %q, use the id", errAmbiguousTarget, arg)
	}
}

func changedShape(prev, next session.View) bool {
	if (prev.Session == nil) != (next.Session == nil) {
		return true
	}
	if next.Session == nil {
		return false
	}
	a, b := prev.Session, next.Session
	if a.ID != b.ID || a.Status != b.Status || a.CurrentRound != b.CurrentRound || len(a.Players) != len(b.Players) {
		return true
	}
	for i := range a.Players {
		if a.Players[i].ID != b.Players[i].ID || a.Players[i].IsAlive != b.Players[i].IsAlive || a.Players[i].IsHost != b.Players[i].IsHost {
			return true
		}
	}
	return false
}

// announce describes what happened between two views in plain words.
func announce(prev, next session.View) []string {
	var out []string
	if prev.Session != nil && next.Session == nil {
		return []string{"you are no longer in a session"}
	}
	if next.Session == nil {
		return nil
	}
	a, b := prev.Session, next.Session
	if a == nil || a.ID != b.ID {
		return nil
	}

	for _, p := range b.Players {
		if _, ok := a.Player(p.ID); !ok {
			out = append(out, p.Name+" joined")
		}
	}
	for _, p := range a.Players {
		if _, ok := b.Player(p.ID); !ok {
			out = append(out, p.Name+" left")
		}
	}

	died := false
	for _, p := range b.Players {
		if old, ok := a.Player(p.ID); ok && old.IsAlive && !p.IsAlive {
			out = append(out, p.Name+" was eliminated")
			died = true
		}
	}
	if !died && a.Status == engine.StatusVoting && b.Status == engine.StatusPlaying && b.CurrentRound > a.CurrentRound {
		out = append(out, "no one was eliminated")
	}

	if a.Status != b.Status {
		switch b.Status {
		case engine.StatusPlaying:
			if a.Status == engine.StatusLobby {
				out = append(out, roleLine(next))
			}
			out = append(out, fmt.Sprintf("round %d: discuss", b.CurrentRound))
		case engine.StatusVoting:
			out = append(out, "voting is open")
		case engine.StatusLobby:
			out = append(out, "game aborted, back to the lobby")
		case engine.StatusGameOver:
			out = append(out, fmt.Sprintf("game over, %s win", b.Winner))
		}
	}
	return out
}

func roleLine(v session.View) string {
	if v.Local == nil {
		return "the game started"
	}
	if v.Local.Role == engine.RoleImpostor {
		return "you are the IMPOSTOR, blend in"
	}
	line := "you are a champion, the secret champion is " + v.Local.SecretChampion
	if c, ok := engine.ChampionByName(v.Local.SecretChampion); ok {
		line += fmt.Sprintf(" (%s, %s)", c.Title, c.Role)
	}
	return line
}

func render(w io.Writer, v session.View, connected bool) {
	if !connected {
		fmt.Fprintln(w, "[disconnected]")
	}
	if v.Session == nil {
		fmt.Fprintln(w, "not in a session")
		return
	}
	s := v.Session
	fmt.Fprintf(w, "session %s  %s  round %d", short(s.ID), s.Status, s.CurrentRound)
	if s.Counting() {
		fmt.Fprintf(w, "  %ds left", s.RoundTimer)
	}
	fmt.Fprintln(w)

	if v.Local != nil {
		fmt.Fprintf(w, "you: %s", v.Local.Name)
		if v.IsHost {
			fmt.Fprint(w, " (host)")
		}
		switch v.Local.Role {
		case engine.RoleImpostor:
			fmt.Fprint(w, "  role: impostor")
		case engine.RoleChampion:
			fmt.Fprintf(w, "  role: champion  secret: %s", v.Local.SecretChampion)
		}
		fmt.Fprintln(w)
	}

	for i, p := range s.Players {
		var tags []string
		if p.IsHost {
			tags = append(tags, "host")
		}
		if !p.IsAlive {
			tags = append(tags, "out")
		}
		if s.Status == engine.StatusVoting && p.VoteTarget != "" {
			if t, ok := s.Player(p.VoteTarget); ok {
				tags = append(tags, "voted "+t.Name)
			}
		}
		if s.Status == engine.StatusGameOver && p.Role == engine.RoleImpostor {
			tags = append(tags, "impostor")
		}
		fmt.Fprintf(w, "  %d. %-20s %s  [%s]\n", i+1, p.Name, short(p.ID), strings.Join(tags, ", "))
	}
	if s.Status == engine.StatusGameOver {
		fmt.Fprintf(w, "winner: %s  secret champion was %s\n", s.Winner, s.SecretChampion)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
