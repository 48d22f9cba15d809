package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/fakeserver"
	"github.com/DoyleJ11/bingo-client/internal/types"
)

// helper: receive one event with a timeout so tests never hang
func recvEvent(t *testing.T, ch <-chan engine.Event, within time.Duration) engine.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("events channel closed unexpectedly")
		}
		return evt
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return engine.Event{}
	}
}

func dial(t *testing.T, srv *fakeserver.Server, gameID string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, Endpoint(srv.Host(), false, gameID, "tok-ana"), Options{
		Token:  "tok-ana",
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.True(t, srv.WaitClients(gameID, 1, time.Second), "server never saw the socket")
	return c
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "ws://example.com/ws/game/12/?token=abc", Endpoint("example.com", false, "12", "abc"))
	assert.Equal(t, "wss://example.com:8443/ws/game/12/", Endpoint("example.com:8443", true, "12", ""))
}

func TestDial_FailureIsConnectionError(t *testing.T) {
	srv := fakeserver.New(t)
	host := srv.Host()
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, Endpoint(host, false, "1", ""), Options{Logger: zaptest.NewLogger(t)})
	require.ErrorIs(t, err, ErrConnection)
}

func TestConn_DecodesEventsAndSkipsMalformedFrames(t *testing.T) {
	srv := fakeserver.New(t)
	c := dial(t, srv, "1")

	require.NoError(t, srv.Broadcast("1", map[string]any{"type": "number_drawn", "number": 5}))
	require.NoError(t, srv.BroadcastRaw("1", []byte(`not json`)))
	require.NoError(t, srv.BroadcastRaw("1", []byte(`{"type":"mystery"}`)))
	require.NoError(t, srv.Broadcast("1", map[string]any{"type": "player_joined", "player": "beto"}))

	first := recvEvent(t, c.Events(), time.Second)
	assert.Equal(t, engine.Event{Type: engine.EvtNumberDrawn, Number: 5}, first)

	second := recvEvent(t, c.Events(), time.Second)
	assert.Equal(t, engine.Event{Type: engine.EvtPlayerJoined, Player: "beto"}, second)
	assert.Equal(t, StatusOpen, c.Status())
}

func TestConn_SendDeliversIntentAndToken(t *testing.T) {
	srv := fakeserver.New(t)
	c := dial(t, srv, "9")

	c.Send(types.SelectNumber(12))

	select {
	case got := <-srv.Received():
		var msg types.ClientMessage
		require.NoError(t, json.Unmarshal(got.Data, &msg))
		assert.Equal(t, "9", got.GameID)
		assert.Equal(t, types.ActionSelectNumber, msg.Action)
		require.NotNil(t, msg.Number)
		assert.Equal(t, 12, *msg.Number)
	case <-time.After(time.Second):
		t.Fatalf("server never received the intent")
	}

	query, header := srv.Tokens("9")
	assert.Equal(t, []string{"tok-ana"}, query)
	assert.Equal(t, []string{"Bearer tok-ana"}, header)
}

func TestConn_RemoteCloseSurfacesDisconnectedOnce(t *testing.T) {
	srv := fakeserver.New(t)
	c := dial(t, srv, "3")

	srv.Drop("3", websocket.StatusGoingAway)

	select {
	case err, ok := <-c.Disconnected():
		require.True(t, ok, "expected a disconnect notification")
		require.True(t, errors.Is(err, ErrDisconnected))
		require.True(t, errors.Is(err, ErrClosedNormally), "going away is a normal close")
	case <-time.After(2 * time.Second):
		t.Fatalf("no disconnect notification")
	}

	select {
	case _, ok := <-c.Disconnected():
		require.False(t, ok, "second notification delivered")
	case <-time.After(time.Second):
		t.Fatalf("disconnected channel not closed")
	}

	_, ok := <-c.Events()
	require.False(t, ok, "events channel should be closed")
	assert.Equal(t, StatusClosed, c.Status())

	// Sending on a dead connection is a silent no-op.
	c.Send(types.ClaimBingo())
	require.NoError(t, c.Close())
}

func TestConn_AbnormalCloseIsNotNormal(t *testing.T) {
	srv := fakeserver.New(t)
	c := dial(t, srv, "5")

	srv.Drop("5", websocket.StatusInternalError)

	select {
	case err, ok := <-c.Disconnected():
		require.True(t, ok, "expected a disconnect notification")
		require.ErrorIs(t, err, ErrDisconnected)
		require.NotErrorIs(t, err, ErrClosedNormally)
	case <-time.After(2 * time.Second):
		t.Fatalf("no disconnect notification")
	}
	assert.Equal(t, StatusErrored, c.Status())
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	srv := fakeserver.New(t)
	c := dial(t, srv, "4")

	_ = c.Close()
	require.NoError(t, c.Close())
	assert.Equal(t, StatusClosed, c.Status())

	select {
	case err, ok := <-c.Disconnected():
		require.False(t, ok, "local close must not report a disconnect, got %v", err)
	case <-time.After(time.Second):
		t.Fatalf("disconnected channel not closed after Close")
	}

	c.Send(types.ClaimBingo())
}
