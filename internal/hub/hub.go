// Package hub keeps the live game sessions of this client, keyed by game ID,
// behind its own actor loop.
package hub

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/session"
)

var (
	ErrExists = errors.New("session already registered")
	ErrClosed = errors.New("hub closed")
)

type HubMsg interface{ isHubMsg() }

type RegisterSession struct {
	GameID  string
	Session *session.Session
	Reply   chan error
}

type GetSession struct {
	GameID string
	Reply  chan *session.Session
}

type ListSessions struct {
	Reply chan []string
}

// RemoveSession drops GameID from the registry. The session is handed back
// on Reply (nil if absent) and is not closed.
type RemoveSession struct {
	GameID string
	Reply  chan *session.Session
}

type ShutdownHub struct {
	Reply chan error
}

func (RegisterSession) isHubMsg() {}
func (GetSession) isHubMsg()      {}
func (ListSessions) isHubMsg()    {}
func (RemoveSession) isHubMsg()   {}
func (ShutdownHub) isHubMsg()     {}

// sessionDone is posted by the watcher goroutine when a session's loop exits.
type sessionDone struct {
	GameID  string
	Session *session.Session
}

func (sessionDone) isHubMsg() {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		log:      log.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			_ = h.closeAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case RegisterSession:
				if h.sessions[msg.GameID] != nil {
					msg.Reply <- ErrExists
					break
				}
				h.sessions[msg.GameID] = msg.Session
				go h.watch(msg.GameID, msg.Session)
				h.log.Debug("session registered", zap.String("game_id", msg.GameID))
				msg.Reply <- nil

			case GetSession:
				msg.Reply <- h.sessions[msg.GameID] // May be nil

			case ListSessions:
				ids := make([]string, 0, len(h.sessions))
				for id := range h.sessions {
					ids = append(ids, id)
				}
				slices.Sort(ids)
				msg.Reply <- ids

			case RemoveSession:
				s := h.sessions[msg.GameID]
				delete(h.sessions, msg.GameID)
				if msg.Reply != nil {
					msg.Reply <- s
				}

			case sessionDone:
				// Only forget it if the ID was not re-registered meanwhile.
				if h.sessions[msg.GameID] == msg.Session {
					delete(h.sessions, msg.GameID)
					h.log.Debug("session ended", zap.String("game_id", msg.GameID))
				}

			case ShutdownHub:
				msg.Reply <- h.closeAll()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) watch(gameID string, s *session.Session) {
	select {
	case <-s.Done():
	case <-h.done:
		return
	}
	select {
	case h.inbox <- sessionDone{GameID: gameID, Session: s}:
	case <-h.done:
	}
}

func (h *Hub) closeAll() error {
	var err error
	for id, s := range h.sessions {
		err = multierr.Append(err, s.Close())
		delete(h.sessions, id)
	}
	return err
}

func (h *Hub) Register(ctx context.Context, gameID string, s *session.Session) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, RegisterSession{GameID: gameID, Session: s, Reply: reply}); err != nil {
		return err
	}
	return h.await(ctx, reply)
}

func (h *Hub) Get(ctx context.Context, gameID string) (*session.Session, bool) {
	reply := make(chan *session.Session, 1)
	if err := h.send(ctx, GetSession{GameID: gameID, Reply: reply}); err != nil {
		return nil, false
	}
	select {
	case s := <-reply:
		return s, s != nil
	case <-h.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (h *Hub) List(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.send(ctx, ListSessions{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case ids := <-reply:
		return ids, nil
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Remove(ctx context.Context, gameID string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	if err := h.send(ctx, RemoveSession{GameID: gameID, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown closes every registered session and stops the hub. The returned
// error combines the sessions' close errors.
func (h *Hub) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, ShutdownHub{Reply: reply}); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	return h.await(ctx, reply)
}

func (h *Hub) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-h.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
