package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missing(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadClientDefaults(t *testing.T) {
	c, err := LoadClient(missing(t))
	require.NoError(t, err)
	assert.Equal(t, TransportMQTT, c.Transport)
	assert.Equal(t, "impostor-lol/global-lobby", c.Topic)
	assert.Equal(t, 30*time.Second, c.ConnectTimeout)
	assert.Equal(t, 500*time.Millisecond, c.SettleDelay)
	assert.Equal(t, 120, c.EngineOptions().DiscussionTime)
	assert.Equal(t, 30, c.EngineOptions().VotingTime)
}

func TestLoadClientFromEnv(t *testing.T) {
	t.Setenv("IMPOSTOR_TRANSPORT", "relay")
	t.Setenv("IMPOSTOR_RELAY_URL", "ws://relay.local/ws")
	t.Setenv("IMPOSTOR_VOTING_SECONDS", "15")

	c, err := LoadClient(missing(t))
	require.NoError(t, err)
	assert.Equal(t, TransportRelay, c.Transport)
	assert.Equal(t, "ws://relay.local/ws", c.RelayURL)
	assert.Equal(t, 15, c.VotingTime)
}

func TestLoadClientInvalid(t *testing.T) {
	cases := map[string]string{
		"IMPOSTOR_TRANSPORT":          "carrier-pigeon",
		"IMPOSTOR_DISCUSSION_SECONDS": "0",
		"IMPOSTOR_TICK":               "0s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadClient(missing(t))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("IMPOSTOR_VOTING_SECONDS", "soon")
	_, err := LoadClient(missing(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RELAY_ADDR=:9999\nRELAY_TOPIC_PREFIX=from-file\n"), 0o600))
	t.Setenv("RELAY_TOPIC_PREFIX", "from-env")
	t.Setenv("RELAY_ADDR", "")
	os.Unsetenv("RELAY_ADDR")

	r, err := LoadRelay(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", r.Addr)
	assert.Equal(t, "from-env", r.TopicPrefix)
	assert.Equal(t, 64, r.Outbox)
}

func TestLoadRelayOrigins(t *testing.T) {
	t.Setenv("RELAY_ORIGIN_PATTERNS", "localhost:*,example.com")
	r, err := LoadRelay(missing(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:*", "example.com"}, r.OriginPatterns)
	assert.Empty(t, r.DatabaseDSN)
}
