package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/patrolsync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent answers GraphQL requests with canned data keyed by root field.
func fakeAgent(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for field, body := range responses {
			if strings.Contains(req.Query, field+" {") {
				_, _ = w.Write([]byte(body))
				return
			}
		}
		http.Error(w, "unexpected query", http.StatusBadRequest)
	}))
}

func TestNewAppendsQueryPath(t *testing.T) {
	assert.Equal(t, "http://agent:8585/query", New("http://agent:8585/").endpoint)
	assert.Equal(t, "http://agent:8585/query", New("http://agent:8585/query").endpoint)
}

func TestStatusAndSync(t *testing.T) {
	ts := fakeAgent(t, map[string]string{
		"status": `{"data":{"status":{"online":true,"queueDepth":3,"at":"2026-03-02T08:05:00Z",
			"activeRound":{"roundId":"r1","templateName":"Morning","scanned":1,"total":2,"elapsedSeconds":300,"remainingSeconds":1500},
			"lastPass":null}}}`,
		"sync": `{"data":{"sync":{"reason":"manual","skipped":false,"skipReason":null,"total":3,"synced":2,"failed":1,
			"discarded":0,"repaired":0,"at":"2026-03-02T08:05:00Z"}}}`,
	})
	defer ts.Close()

	c := New(ts.URL + "/")
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Online)
	assert.Equal(t, 3, st.QueueDepth)
	require.NotNil(t, st.ActiveRound)
	assert.Equal(t, 5*time.Minute, st.ActiveRound.Elapsed)
	assert.Equal(t, 25*time.Minute, st.ActiveRound.Remaining)
	assert.Nil(t, st.LastPass)

	res, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, service.ReasonManual, res.Reason)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Failed)
}

func TestStats(t *testing.T) {
	ts := fakeAgent(t, map[string]string{
		"stats": `{"data":{"stats":{"uptimeSeconds":12.5,"operations":[
			{"name":"reconcile_pass","count":4,"failures":1,"totalTimeMs":80,"avgTimeMs":20,"minTimeMs":5,"maxTimeMs":40}]}}}`,
	})
	defer ts.Close()

	snap, err := New(ts.URL).Stats(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.5, snap.UptimeSeconds, 0.001)
	op := snap.Op("reconcile_pass")
	require.NotNil(t, op)
	assert.EqualValues(t, 4, op.Count)
	assert.EqualValues(t, 40, op.MaxTimeMs)
}

func TestGraphQLError(t *testing.T) {
	ts := fakeAgent(t, map[string]string{
		"sync": `{"data":null,"errors":[{"message":"network unavailable: device is offline","path":["sync"],
			"extensions":{"code":"NETWORK_UNAVAILABLE"}}]}`,
	})
	defer ts.Close()

	_, err := New(ts.URL).Sync(context.Background())
	var gqlErr *Error
	require.True(t, errors.As(err, &gqlErr))
	assert.Equal(t, "NETWORK_UNAVAILABLE", gqlErr.Code)
	assert.Equal(t, "network unavailable: device is offline", gqlErr.Message)
}

func TestServerErrorWithoutBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWatchStatus(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg wsMessage
		if conn.ReadJSON(&msg) != nil || msg.Type != gqlConnectionInit {
			return
		}
		if conn.WriteJSON(wsMessage{Type: gqlConnectionAck}) != nil {
			return
		}
		if conn.ReadJSON(&msg) != nil || msg.Type != gqlSubscribe {
			return
		}
		id := msg.ID

		_ = conn.WriteJSON(wsMessage{Type: gqlPing})
		for i := range 3 {
			payload := []byte(`{"data":{"status":{"online":true,"queueDepth":` + strconv.Itoa(i) + `,"at":"2026-03-02T08:05:00Z"}}}`)
			if err := conn.WriteJSON(wsMessage{ID: id, Type: gqlNext, Payload: payload}); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	}))
	defer ts.Close()

	var depths []int
	stop := errors.New("enough")
	err := New(ts.URL).WatchStatus(context.Background(), func(st service.Status) error {
		depths = append(depths, st.QueueDepth)
		if len(depths) == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []int{0, 1, 2}, depths)
}

func TestWatchStatusComplete(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg wsMessage
		_ = conn.ReadJSON(&msg)
		_ = conn.WriteJSON(wsMessage{Type: gqlConnectionAck})
		_ = conn.ReadJSON(&msg)
		_ = conn.WriteJSON(wsMessage{ID: msg.ID, Type: gqlComplete})
		time.Sleep(time.Second)
	}))
	defer ts.Close()

	err := New(ts.URL).WatchStatus(context.Background(), func(service.Status) error {
		t.Fatal("no status expected")
		return nil
	})
	assert.NoError(t, err)
}
