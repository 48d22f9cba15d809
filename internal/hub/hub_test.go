package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/session"
	"github.com/DoyleJ11/bingo-client/internal/types"
)

type stubTransport struct {
	events chan engine.Event
	disc   chan error
	err    error

	mu     sync.Mutex
	closed int
}

func newStub(closeErr error) *stubTransport {
	return &stubTransport{events: make(chan engine.Event), disc: make(chan error), err: closeErr}
}

func (s *stubTransport) Events() <-chan engine.Event { return s.events }
func (s *stubTransport) Disconnected() <-chan error  { return s.disc }
func (s *stubTransport) Send(types.ClientMessage)    {}

func (s *stubTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.err
}

func (s *stubTransport) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newSession(t *testing.T, gameID string, closeErr error) (*session.Session, *stubTransport) {
	t.Helper()
	tr := newStub(closeErr)
	s := session.New(context.Background(), session.Config{GameID: gameID, Self: "ana"}, tr, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return s, tr
}

func TestHub_Register_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = h.Shutdown(ctx) })

	s, _ := newSession(t, "12", nil)
	require.NoError(t, h.Register(ctx, "12", s))

	got, ok := h.Get(ctx, "12")
	require.True(t, ok)
	if got != s {
		t.Fatalf("expected same session pointer")
	}

	_, ok = h.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestHub_RegisterTwiceFails(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = h.Shutdown(ctx) })

	a, _ := newSession(t, "12", nil)
	b, _ := newSession(t, "12", nil)
	require.NoError(t, h.Register(ctx, "12", a))
	require.ErrorIs(t, h.Register(ctx, "12", b), ErrExists)
}

func TestHub_RemoveDoesNotClose(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = h.Shutdown(ctx) })

	s, tr := newSession(t, "5", nil)
	require.NoError(t, h.Register(ctx, "5", s))

	got, err := h.Remove(ctx, "5")
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 0, tr.Closed())

	ids, err := h.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHub_ForgetsEndedSessions(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = h.Shutdown(ctx) })

	s, _ := newSession(t, "8", nil)
	require.NoError(t, h.Register(ctx, "8", s))
	require.NoError(t, s.Close())

	require.Eventually(t, func() bool {
		_, ok := h.Get(ctx, "8")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestHub_ShutdownClosesAllAndCombinesErrors(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zaptest.NewLogger(t))

	errA := errors.New("close a")
	errB := errors.New("close b")
	a, trA := newSession(t, "1", errA)
	b, trB := newSession(t, "2", errB)
	c, trC := newSession(t, "3", nil)
	require.NoError(t, h.Register(ctx, "1", a))
	require.NoError(t, h.Register(ctx, "2", b))
	require.NoError(t, h.Register(ctx, "3", c))

	ids, err := h.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	err = h.Shutdown(ctx)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
	assert.Equal(t, 1, trA.Closed())
	assert.Equal(t, 1, trB.Closed())
	assert.Equal(t, 1, trC.Closed())

	require.NoError(t, h.Shutdown(ctx), "second shutdown is a no-op")
	require.ErrorIs(t, h.Register(ctx, "4", c), ErrClosed)
}
