package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"

	"sipbridge/relay/internal/auth"
	"sipbridge/relay/internal/config"
	"sipbridge/relay/internal/store"
	"sipbridge/relay/internal/types"
)

func newFeed(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	st := store.New()
	_, _, err := st.BindRoom("room-1", "sess-1")
	require.NoError(t, err)
	s := NewServer(cfg, st, NewRegistry())
	srv := httptest.NewServer(http.HandlerFunc(s.HandleEventsWS))
	t.Cleanup(srv.Close)
	return s, srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?" + query
}

func readMessage(t *testing.T, ctx context.Context, c *ws.Conn) Message {
	t.Helper()
	_, b, err := c.Read(ctx)
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestFeedStreamsBacklogThenLiveEvents(t *testing.T) {
	s, srv := newFeed(t, config.Config{})
	s.Store.AppendEvent("sess-1", "room_created", map[string]any{"pin": 1234})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := ws.Dial(ctx, wsURL(srv, "room_id=room-1"), nil)
	require.NoError(t, err)
	defer c.Close(ws.StatusNormalClosure, "")

	m := readMessage(t, ctx, c)
	assert.True(t, m.Backlog)
	assert.Equal(t, "room_created", m.Type)

	require.Eventually(t, func() bool { return s.Reg.Count("sess-1") == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Store.AppendEvent("sess-1", "sip_dialed", map[string]any{"connection_id": "conn-1"})

	m = readMessage(t, ctx, c)
	assert.False(t, m.Backlog)
	assert.Equal(t, "sip_dialed", m.Type)
	assert.Equal(t, "room-1", m.RoomID)
	assert.Equal(t, "conn-1", m.Event.Payload["connection_id"])
}

func TestFeedRejectsUnknownRoom(t *testing.T) {
	_, srv := newFeed(t, config.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := ws.Dial(ctx, wsURL(srv, "room_id=nope"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = ws.Dial(ctx, wsURL(srv, ""), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFeedViewerToken(t *testing.T) {
	var cfg config.Config
	cfg.Feed.TokenSecret = "feed-secret"
	cfg.Feed.TokenSkewSecs = 5
	_, srv := newFeed(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := ws.Dial(ctx, wsURL(srv, "room_id=room-1"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wrongRoom := auth.GenerateViewerToken("feed-secret", "room-2", time.Now().Add(time.Minute).Unix())
	_, resp, err = ws.Dial(ctx, wsURL(srv, "room_id=room-1&token="+wrongRoom), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok := auth.GenerateViewerToken("feed-secret", "room-1", time.Now().Add(time.Minute).Unix())
	c, _, err := ws.Dial(ctx, wsURL(srv, "room_id=room-1"), &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	require.NoError(t, err)
	_ = c.Close(ws.StatusNormalClosure, "")
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	assert.Zero(t, r.Count("s"))
	r.Remove("s", nil)
	assert.Zero(t, r.Broadcast("s", Message{Type: "x"}))

	sub := r.Add("s", nil)
	r.Remove("s", sub)
	r.Remove("s", sub)
	assert.Zero(t, r.Count("s"))
}

func TestBroadcastDropsObserverThatFallsBehind(t *testing.T) {
	r := NewRegistry()
	r.Add("s", nil)
	for i := 0; i < subscriberBuffer; i++ {
		require.Equal(t, 1, r.Broadcast("s", Message{Type: "x"}))
	}
	assert.Zero(t, r.Broadcast("s", Message{Type: "x"}))
	assert.Zero(t, r.Count("s"))
}

// Events queued while the backlog is written are delivered afterwards, and
// those already in the backlog are not sent twice.
func TestPumpDeliversQueuedEventsAfterBacklog(t *testing.T) {
	reg := NewRegistry()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := c.CloseRead(r.Context())
		sub := reg.Add("s", c)
		defer reg.Remove("s", sub)

		reg.Broadcast("s", Message{Type: "room_created", Event: types.Event{ID: "e1", Type: "room_created"}})
		reg.Broadcast("s", Message{Type: "sip_dialed", Event: types.Event{ID: "e2", Type: "sip_dialed"}})
		if err := sub.write(ctx, Message{Type: "room_created", Backlog: true, Event: types.Event{ID: "e1", Type: "room_created"}}); err != nil {
			return
		}
		_ = sub.Pump(ctx, map[string]struct{}{"e1": {}})
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer c.Close(ws.StatusNormalClosure, "")

	m := readMessage(t, ctx, c)
	assert.True(t, m.Backlog)
	assert.Equal(t, "e1", m.Event.ID)

	m = readMessage(t, ctx, c)
	assert.False(t, m.Backlog)
	assert.Equal(t, "e2", m.Event.ID)
}
