package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/hub"
	"github.com/DoyleJ11/bingo-client/internal/session"
	"github.com/DoyleJ11/bingo-client/internal/types"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []types.ClientMessage
}

func (r *recordingTransport) Events() <-chan engine.Event { return nil }
func (r *recordingTransport) Disconnected() <-chan error  { return nil }
func (r *recordingTransport) Close() error                { return nil }

func (r *recordingTransport) Send(m types.ClientMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
}

func (r *recordingTransport) Sent() []types.ClientMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ClientMessage(nil), r.sent...)
}

func setup(t *testing.T) (*httptest.Server, *session.Session, *recordingTransport) {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	h := hub.NewHub(ctx, log)
	t.Cleanup(func() { _ = h.Shutdown(ctx) })

	tr := &recordingTransport{}
	s := session.New(ctx, session.Config{GameID: "42", Self: "ana"}, tr, log)
	require.NoError(t, h.Register(ctx, "42", s))

	card, err := engine.NewCard([][]int{
		{1, 2, 3, 4, 5},
		{6, 7, 8, 9, 10},
		{11, 0, 13, 14, 15},
		{16, 17, 18, 19, 20},
		{21, 22, 23, 24, 25},
	})
	require.NoError(t, err)
	s.Inbox() <- session.FromServer{Evt: engine.Event{Type: engine.EvtGameState, Snapshot: &engine.Snapshot{
		GameID:       "42",
		Status:       engine.StatusPlaying,
		DrawnNumbers: []int{3},
		Players:      []engine.PlayerView{{Username: "ana"}},
		Card:         &engine.OwnCard{ID: 1, Numbers: card},
	}}}

	srv := httptest.NewServer(SetupRoutes(h, log))
	t.Cleanup(srv.Close)
	return srv, s, tr
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _, _ := setup(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetSession(t *testing.T) {
	srv, _, _ := setup(t)

	resp, err := http.Get(srv.URL + "/sessions/42")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body stateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "42", body.State.GameID)
	assert.Equal(t, engine.StatusPlaying, body.State.Status)
	assert.Equal(t, []int{3}, body.State.DrawnNumbers)
	assert.Equal(t, 1, body.Version)

	missing, err := http.Get(srv.URL + "/sessions/99")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListSessions(t *testing.T) {
	srv, _, _ := setup(t)

	resp, err := http.Get(srv.URL + "/sessions/")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Sessions []string `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"42"}, body.Sessions)
}

func TestSelectNumber(t *testing.T) {
	srv, _, tr := setup(t)

	cases := []struct {
		path string
		want int
	}{
		{"/sessions/42/select/3", http.StatusAccepted},
		{"/sessions/42/select/99", http.StatusConflict},
		{"/sessions/42/select/7", http.StatusConflict},
		{"/sessions/42/select/x", http.StatusBadRequest},
		{"/sessions/7/select/3", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, post(t, srv.URL+tc.path).StatusCode)
		})
	}

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, types.SelectNumber(3), sent[0])
}

func TestClaimBingo(t *testing.T) {
	srv, s, tr := setup(t)

	assert.Equal(t, http.StatusAccepted, post(t, srv.URL+"/sessions/42/bingo").StatusCode)
	require.Len(t, tr.Sent(), 1)

	// Closed sessions leave the hub asynchronously; either answer is fine.
	require.NoError(t, s.Close())
	code := post(t, srv.URL+"/sessions/42/bingo").StatusCode
	assert.Contains(t, []int{http.StatusNotFound, http.StatusGone}, code)
}
