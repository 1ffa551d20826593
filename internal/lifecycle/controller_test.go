package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
	"github.com/DoyleJ11/impostor-lol/internal/session"
	"github.com/DoyleJ11/impostor-lol/internal/transport"
	"github.com/DoyleJ11/impostor-lol/internal/transport/memory"
)

const topic = "impostor-lol/test"

type peer struct {
	*Controller
	client *memory.Client
}

func newPeer(t *testing.T, bus *memory.Bus, eo engine.Options) *peer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	m := session.NewMachine(ctx, session.Options{Engine: eo, Tick: 10 * time.Millisecond})
	client := bus.Client()
	c := New(client, m, Options{Topic: topic, ConnectTimeout: time.Second, SettleDelay: 50 * time.Millisecond})
	require.NoError(t, c.Open(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		<-done
	})
	return &peer{Controller: c, client: client}
}

func lobbyOptions() engine.Options {
	return engine.Options{DiscussionTime: 500, VotingTime: 500}
}

func view(t *testing.T, p *peer) session.View {
	t.Helper()
	v, err := p.View(context.Background())
	require.NoError(t, err)
	return v
}

func eventually(t *testing.T, p *peer, cond func(session.View) bool, msg string) session.View {
	t.Helper()
	var last session.View
	require.Eventually(t, func() bool {
		v, err := p.View(context.Background())
		if err != nil {
			return false
		}
		last = v
		return cond(v)
	}, 3*time.Second, 5*time.Millisecond, msg)
	return last
}

func playerCount(n int) func(session.View) bool {
	return func(v session.View) bool { return v.Session != nil && len(v.Session.Players) == n }
}

// joinAll joins peers in order and waits until every replica sees all of them.
func joinAll(t *testing.T, peers []*peer, names ...string) {
	t.Helper()
	ctx := context.Background()
	for i, p := range peers {
		_, err := p.Join(ctx, names[i])
		require.NoError(t, err)
	}
	for _, p := range peers {
		eventually(t, p, playerCount(len(peers)), "replica did not converge on player count")
	}
}

func assertConsistent(t *testing.T, peers []*peer) {
	t.Helper()
	host := view(t, peers[0]).Session
	require.NotNil(t, host)
	for _, p := range peers[1:] {
		eventually(t, p, func(v session.View) bool {
			return v.Session != nil &&
				v.Session.ID == host.ID &&
				v.Session.Status == host.Status &&
				assert.ObjectsAreEqual(host.Players, v.Session.Players)
		}, "replica diverged from host")
	}
}

func TestJoin_FirstClientCreatesSession(t *testing.T) {
	bus := memory.NewBus()
	a := newPeer(t, bus, lobbyOptions())

	v, err := a.Join(context.Background(), "  Alice ")
	require.NoError(t, err)
	require.NotNil(t, v.Session)
	assert.True(t, v.IsHost)
	assert.Equal(t, "Alice", v.Local.Name)
	assert.Equal(t, engine.StatusLobby, v.Session.Status)
}

func TestJoin_LateJoinerIsAdmittedByHost(t *testing.T) {
	bus := memory.NewBus()
	a := newPeer(t, bus, lobbyOptions())
	b := newPeer(t, bus, lobbyOptions())

	_, err := a.Join(context.Background(), "Alice")
	require.NoError(t, err)
	vb, err := b.Join(context.Background(), "Bob")
	require.NoError(t, err)
	require.NotNil(t, vb.Session)
	assert.False(t, vb.IsHost)

	va := eventually(t, a, playerCount(2), "host never saw Bob")
	assert.Equal(t, va.Session.ID, vb.Session.ID)

	hosts := 0
	for _, p := range va.Session.Players {
		if p.IsHost {
			hosts++
			assert.Equal(t, "Alice", p.Name)
		}
	}
	assert.Equal(t, 1, hosts)
}

func TestJoin_Twice(t *testing.T) {
	a := newPeer(t, memory.NewBus(), lobbyOptions())
	_, err := a.Join(context.Background(), "Alice")
	require.NoError(t, err)
	_, err = a.Join(context.Background(), "Alice")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestJoin_InvalidName(t *testing.T) {
	a := newPeer(t, memory.NewBus(), lobbyOptions())
	_, err := a.Join(context.Background(), "   ")
	assert.ErrorIs(t, err, engine.ErrInvalidName)
	v := view(t, a)
	assert.Nil(t, v.Session)
	assert.Nil(t, v.Local)
}

func TestJoin_RejectedWhileGameRuns(t *testing.T) {
	bus := memory.NewBus()
	peers := []*peer{newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions())}
	joinAll(t, peers, "Alice", "Bob", "Cara")
	_, err := peers[0].StartGame(context.Background())
	require.NoError(t, err)

	late := newPeer(t, bus, lobbyOptions())
	_, err = late.Join(context.Background(), "Dan")
	assert.ErrorIs(t, err, engine.ErrNotInLobby)
	assert.Nil(t, view(t, late).Local)
}

func TestStartGame_OnlyHost(t *testing.T) {
	bus := memory.NewBus()
	peers := []*peer{newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions())}
	joinAll(t, peers, "Alice", "Bob", "Cara")

	_, err := peers[1].StartGame(context.Background())
	assert.ErrorIs(t, err, ErrNotHost)

	v, err := peers[0].StartGame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPlaying, v.Session.Status)

	impostors := 0
	for _, p := range peers {
		pv := eventually(t, p, func(v session.View) bool {
			return v.Session != nil && v.Session.Status == engine.StatusPlaying
		}, "replica never started")
		if pv.Local.Role == engine.RoleImpostor {
			impostors++
			assert.Empty(t, pv.Local.SecretChampion)
		} else {
			assert.Equal(t, v.Session.SecretChampion, pv.Local.SecretChampion)
		}
	}
	assert.Equal(t, 1, impostors)
}

func TestStartGame_NotJoined(t *testing.T) {
	a := newPeer(t, memory.NewBus(), lobbyOptions())
	_, err := a.StartGame(context.Background())
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestCountdownReachesReplicas(t *testing.T) {
	bus := memory.NewBus()
	eo := engine.Options{DiscussionTime: 3, VotingTime: 500}
	peers := []*peer{newPeer(t, bus, eo), newPeer(t, bus, eo), newPeer(t, bus, eo)}
	joinAll(t, peers, "Alice", "Bob", "Cara")

	_, err := peers[0].StartGame(context.Background())
	require.NoError(t, err)

	for _, p := range peers[1:] {
		v := eventually(t, p, func(v session.View) bool {
			return v.Session != nil && v.Session.Status == engine.StatusVoting
		}, "replica never reached voting")
		assert.False(t, v.IsHost)
	}
}

func TestFullGame_ChampionsVoteOutImpostor(t *testing.T) {
	bus := memory.NewBus()
	eo := engine.Options{DiscussionTime: 1, VotingTime: 50}
	peers := []*peer{newPeer(t, bus, eo), newPeer(t, bus, eo), newPeer(t, bus, eo)}
	joinAll(t, peers, "Alice", "Bob", "Cara")

	v, err := peers[0].StartGame(context.Background())
	require.NoError(t, err)
	impostor := v.Session.ImpostorID

	for _, p := range peers {
		pv := eventually(t, p, func(v session.View) bool {
			return v.Session != nil && v.Session.Status == engine.StatusVoting
		}, "never reached voting")
		if pv.Local.ID == impostor {
			continue
		}
		_, err := p.Vote(context.Background(), impostor)
		require.NoError(t, err)
	}

	for _, p := range peers {
		final := eventually(t, p, func(v session.View) bool {
			return v.Session != nil && v.Session.Status == engine.StatusGameOver
		}, "game never ended")
		assert.Equal(t, engine.WinnerChampions, final.Session.Winner)
	}
}

func TestVote_ReplicaBallotReachesHost(t *testing.T) {
	bus := memory.NewBus()
	eo := engine.Options{DiscussionTime: 1, VotingTime: 500}
	peers := []*peer{newPeer(t, bus, eo), newPeer(t, bus, eo), newPeer(t, bus, eo)}
	joinAll(t, peers, "Alice", "Bob", "Cara")
	_, err := peers[0].StartGame(context.Background())
	require.NoError(t, err)

	voter := eventually(t, peers[1], func(v session.View) bool {
		return v.Session != nil && v.Session.Status == engine.StatusVoting
	}, "never reached voting")
	target := view(t, peers[2]).Local.ID

	_, err = peers[1].Vote(context.Background(), target)
	require.NoError(t, err)

	eventually(t, peers[0], func(v session.View) bool {
		p, ok := v.Session.Player(voter.Local.ID)
		return ok && p.VoteTarget == target
	}, "host never recorded the ballot")
	eventually(t, peers[2], func(v session.View) bool {
		p, ok := v.Session.Player(voter.Local.ID)
		return ok && p.VoteTarget == target
	}, "third replica never saw the ballot")
}

func TestVote_Rejected(t *testing.T) {
	bus := memory.NewBus()
	peers := []*peer{newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions())}
	joinAll(t, peers, "Alice", "Bob", "Cara")

	target := view(t, peers[1]).Local.ID
	_, err := peers[0].Vote(context.Background(), target)
	assert.ErrorIs(t, err, engine.ErrNotVoting)

	outsider := newPeer(t, bus, lobbyOptions())
	_, err = outsider.Vote(context.Background(), target)
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestLeave_HostHandsOff(t *testing.T) {
	bus := memory.NewBus()
	peers := []*peer{newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions())}
	joinAll(t, peers, "Alice", "Bob", "Cara")

	require.NoError(t, peers[0].Leave(context.Background()))
	left := view(t, peers[0])
	assert.Nil(t, left.Session)
	assert.Nil(t, left.Local)

	vb := eventually(t, peers[1], func(v session.View) bool { return v.IsHost }, "Bob never became host")
	assert.Len(t, vb.Session.Players, 2)
	vc := eventually(t, peers[2], playerCount(2), "Cara never saw Alice leave")
	host, ok := vc.Session.Host()
	require.True(t, ok)
	assert.Equal(t, "Bob", host.Name)
}

func TestLeave_MidGameBelowMinimumAborts(t *testing.T) {
	bus := memory.NewBus()
	peers := []*peer{newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions())}
	joinAll(t, peers, "Alice", "Bob", "Cara")
	_, err := peers[0].StartGame(context.Background())
	require.NoError(t, err)
	eventually(t, peers[2], func(v session.View) bool {
		return v.Session != nil && v.Session.Status == engine.StatusPlaying
	}, "never started")

	require.NoError(t, peers[2].Leave(context.Background()))

	for _, p := range peers[:2] {
		v := eventually(t, p, func(v session.View) bool {
			return v.Session != nil && v.Session.Status == engine.StatusLobby && len(v.Session.Players) == 2
		}, "game was not aborted")
		assert.Empty(t, v.Session.ImpostorID)
		assert.Empty(t, v.Local.Role)
	}
}

// Shutting down the way cmd/impostor does: the run context ends first, then
// Close leaves. The departing host must still hand the session off.
func TestClose_AfterRunStoppedHandsOffHost(t *testing.T) {
	bus := memory.NewBus()
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := session.NewMachine(context.Background(), session.Options{Engine: lobbyOptions(), Tick: 10 * time.Millisecond})
	client := bus.Client()
	c := New(client, m, Options{Topic: topic, ConnectTimeout: time.Second, SettleDelay: 50 * time.Millisecond})
	require.NoError(t, c.Open(runCtx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(runCtx)
	}()

	host := &peer{Controller: c, client: client}
	peers := []*peer{host, newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions())}
	joinAll(t, peers, "Alice", "Bob", "Cara")

	cancel()
	<-done
	require.NoError(t, c.Close())

	vb := eventually(t, peers[1], func(v session.View) bool { return v.IsHost }, "Bob never became host")
	assert.Len(t, vb.Session.Players, 2)
	eventually(t, peers[2], playerCount(2), "Cara never saw Alice leave")
}

func TestLeave_NotJoined(t *testing.T) {
	a := newPeer(t, memory.NewBus(), lobbyOptions())
	assert.ErrorIs(t, a.Leave(context.Background()), ErrNotJoined)
}

func TestReset_ForgetsLocally(t *testing.T) {
	bus := memory.NewBus()
	a := newPeer(t, bus, lobbyOptions())
	b := newPeer(t, bus, lobbyOptions())
	joinAll(t, []*peer{a, b}, "Alice", "Bob")

	require.NoError(t, b.Reset(context.Background()))
	assert.Nil(t, view(t, b).Local)

	// Nobody was told.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, view(t, a).Session.Players, 2)
}

func TestDuplicatedDeliveryConverges(t *testing.T) {
	bus := memory.NewBus(memory.WithDuplicates())
	peers := []*peer{newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions()), newPeer(t, bus, lobbyOptions())}
	joinAll(t, peers, "Alice", "Bob", "Cara", "Dan")

	_, err := peers[0].StartGame(context.Background())
	require.NoError(t, err)
	assertConsistent(t, peers)

	seen := map[string]bool{}
	for _, p := range view(t, peers[0]).Session.Players {
		assert.False(t, seen[p.ID], "duplicate player id")
		seen[p.ID] = true
	}
}

func TestPublishFailureKeepsLocalState(t *testing.T) {
	bus := memory.NewBus()
	a := newPeer(t, bus, lobbyOptions())
	a.client.Disconnect()

	v, err := a.Join(context.Background(), "Alice")
	require.ErrorIs(t, err, transport.ErrNotConnected)
	require.NotNil(t, v.Session)
	assert.True(t, v.IsHost)
	assert.False(t, a.Connected())
}

func TestForeignTopicAndEchoIgnored(t *testing.T) {
	bus := memory.NewBus()
	a := newPeer(t, bus, lobbyOptions())
	v, err := a.Join(context.Background(), "Alice")
	require.NoError(t, err)

	other := bus.Client()
	require.NoError(t, other.Connect(context.Background()))
	t.Cleanup(func() { _ = other.Close() })
	require.NoError(t, other.Publish(context.Background(), "somewhere/else", transport.AtLeastOnce, []byte(`{"type":"gameState","data":{}}`)))
	require.NoError(t, other.Publish(context.Background(), topic, transport.AtLeastOnce, []byte(`not json`)))

	time.Sleep(50 * time.Millisecond)
	after := view(t, a)
	assert.Equal(t, v.Session.ID, after.Session.ID)
	assert.Equal(t, v.Session.Revision, after.Session.Revision)
}
