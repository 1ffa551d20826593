package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
)

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{"type":`},
		{name: "unknown type", payload: `{"type":"dance","data":{}}`},
		{name: "missing data", payload: `{"type":"gameState"}`},
		{name: "null data", payload: `{"type":"playerLeft","data":null}`},
		{name: "array", payload: `[1,2,3]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.payload))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("want ErrMalformed, got %v", err)
			}
		})
	}
}

func TestGameState_RejectsInvalidSnapshot(t *testing.T) {
	s := engine.Session{
		ID:     "s1",
		Status: engine.StatusLobby,
		Players: []engine.Player{
			{ID: "a", Name: "a", IsHost: true},
			{ID: "a", Name: "dup"},
		},
	}
	raw, err := GameState("a", s)
	require.NoError(t, err)

	env, err := Decode(raw)
	require.NoError(t, err)

	_, err = env.GameState()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestGameState_KeepsWireFieldNames(t *testing.T) {
	raw := []byte(`{"type":"gameState","data":{"id":"s1","status":"voting","players":[` +
		`{"id":"p1","name":"Ann","isHost":true,"isAlive":true,"role":"champion","secretChampion":"Ahri","voteTarget":"p2"},` +
		`{"id":"p2","name":"Bob","isHost":false,"isAlive":true,"role":"impostor"}],` +
		`"currentRound":2,"secretChampion":"Ahri","impostorId":"p2","roundTimer":17,"discussionTime":120,"votingTime":30}}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	s, err := env.GameState()
	require.NoError(t, err)

	assert.Equal(t, engine.StatusVoting, s.Status)
	assert.Equal(t, 2, s.CurrentRound)
	assert.Equal(t, 17, s.RoundTimer)
	assert.Equal(t, "p2", s.ImpostorID)
	assert.Equal(t, "p2", s.Players[0].VoteTarget)
	assert.Equal(t, engine.RoleImpostor, s.Players[1].Role)
	assert.Zero(t, s.Revision)
}

func TestAccessors_CheckType(t *testing.T) {
	raw, err := Left("p1", "p1")
	require.NoError(t, err)
	env, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "p1", env.From)
	_, err = env.Vote()
	assert.ErrorIs(t, err, ErrMalformed)

	left, err := env.PlayerLeft()
	require.NoError(t, err)
	assert.Equal(t, "p1", left.PlayerID)
}

func TestVote_RequiresBothIDs(t *testing.T) {
	env, err := Decode([]byte(`{"type":"vote","data":{"playerId":"p1"}}`))
	require.NoError(t, err)
	_, err = env.Vote()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPeekType(t *testing.T) {
	raw, err := Request("p1", "Ann")
	require.NoError(t, err)
	assert.Equal(t, "requestState", PeekType(raw))
	assert.Equal(t, "", PeekType([]byte("garbage")))
}
