package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/impostor-lol/internal/frame"
	"github.com/DoyleJ11/impostor-lol/internal/hub"
	"github.com/DoyleJ11/impostor-lol/internal/journal"
	"github.com/DoyleJ11/impostor-lol/internal/ws"
)

type recordingJournal struct {
	entries chan journal.Entry
}

func (j *recordingJournal) Record(_ context.Context, e journal.Entry) error {
	j.entries <- e
	return nil
}

func (j *recordingJournal) Close() error { return nil }

func newServer(t *testing.T, j journal.Journal) (*httptest.Server, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, nil)
	srv := httptest.NewServer(SetupRoutes(h, Options{WS: ws.Options{Journal: j}}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f frame.Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, f))
}

func read(t *testing.T, conn *websocket.Conn) frame.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var f frame.Frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

// waitSubscribers polls until the topic has n subscribers.
func waitSubscribers(t *testing.T, h *hub.Hub, topic string, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		tp, err := h.Get(context.Background(), topic)
		return err == nil && tp != nil && tp.Info().Subscribers == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t, nil)
	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCreateSession(t *testing.T) {
	srv, _ := newServer(t, nil)
	res, err := http.Post(srv.URL+"/sessions", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var body sessionResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Len(t, body.Code, 6)
	assert.Equal(t, "impostor-lol/"+body.Code, body.Topic)
}

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Regexp(t, `^[A-Z0-9]{6}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestWS_PublishReachesAllSubscribers(t *testing.T) {
	j := &recordingJournal{entries: make(chan journal.Entry, 4)}
	srv, h := newServer(t, j)

	a := dial(t, srv)
	b := dial(t, srv)
	send(t, a, frame.Sub("room"))
	send(t, b, frame.Sub("room"))
	waitSubscribers(t, h, "room", 2)

	payload := []byte(`{"type":"vote","from":"p1","data":{"playerId":"p1","targetId":"p2"}}`)
	send(t, a, frame.Pub("room", 1, payload))

	for _, conn := range []*websocket.Conn{a, b} {
		f := read(t, conn)
		assert.Equal(t, frame.OpMsg, f.Op)
		assert.Equal(t, "room", f.Topic)
		assert.JSONEq(t, string(payload), string(f.Payload))
	}

	select {
	case e := <-j.entries:
		assert.Equal(t, "room", e.Topic)
		assert.Equal(t, "vote", e.Type)
		assert.Equal(t, 1, e.QoS)
		assert.Equal(t, 2, e.Fanout)
		assert.Equal(t, len(payload), e.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("publish not journaled")
	}

	res, err := http.Get(srv.URL + "/topics")
	require.NoError(t, err)
	defer res.Body.Close()
	var topics []hub.TopicInfo
	require.NoError(t, json.NewDecoder(res.Body).Decode(&topics))
	require.Len(t, topics, 1)
	assert.Equal(t, hub.TopicInfo{Name: "room", Subscribers: 2, Published: 1}, topics[0])
}

func TestWS_BadFramesGetErrors(t *testing.T) {
	srv, _ := newServer(t, nil)
	conn := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{nope")))
	f := read(t, conn)
	assert.Equal(t, frame.OpErr, f.Op)
	assert.Equal(t, "bad json", f.Error)

	send(t, conn, frame.Pub("room", 0, nil))
	f = read(t, conn)
	assert.Equal(t, frame.OpErr, f.Op)
	assert.Equal(t, "room", f.Topic)
}

func TestWS_UnsubscribeStopsDelivery(t *testing.T) {
	srv, h := newServer(t, nil)
	a := dial(t, srv)
	b := dial(t, srv)

	send(t, a, frame.Sub("room"))
	send(t, b, frame.Sub("room"))
	waitSubscribers(t, h, "room", 2)

	send(t, b, frame.Unsub("room"))
	waitSubscribers(t, h, "room", 1)

	send(t, a, frame.Pub("room", 0, []byte(`{"n":1}`)))
	assert.Equal(t, frame.OpMsg, read(t, a).Op)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	var f frame.Frame
	assert.Error(t, wsjson.Read(ctx, b, &f), "unsubscribed client should not receive")
}

func TestWS_DisconnectPrunesTopic(t *testing.T) {
	srv, h := newServer(t, nil)
	a := dial(t, srv)
	send(t, a, frame.Sub("room"))
	waitSubscribers(t, h, "room", 1)

	a.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		tp, err := h.Get(context.Background(), "room")
		return err == nil && tp == nil
	}, 2*time.Second, 10*time.Millisecond)
}
