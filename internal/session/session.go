package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/types"
)

var ErrClosed = errors.New("session closed")
var ErrFrozen = errors.New("session disconnected")

// Transport is the connection a session drains. *ws.Conn implements it.
type Transport interface {
	Events() <-chan engine.Event
	Disconnected() <-chan error
	Send(types.ClientMessage)
	Close() error
}

type Msg interface{ isSessionMsg() }

// FromServer injects an event as if it had arrived on the transport.
type FromServer struct {
	Evt engine.Event
}

func (FromServer) isSessionMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this subscriber wants to receive snapshots
	// Reply, if set, is closed once the subscriber is registered.
	Reply chan struct{}
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Snapshot struct {
	Version int
	State   engine.State
	Effects []engine.Effect
}

type View struct {
	Version    int
	NumClients int
	Frozen     bool
	State      engine.State
}

type OutcomeKind string

const (
	OutcomeFinished     OutcomeKind = "finished"
	OutcomeDisqualified OutcomeKind = "disqualified"
	OutcomeDisconnected OutcomeKind = "disconnected"
)

// Outcome is a terminal notification for the lifecycle layer.
type Outcome struct {
	Kind   OutcomeKind
	Winner string
	Won    bool
	Err    error
}

type Config struct {
	GameID string
	Self   string
	// InitialStatus is the status assumed before the first snapshot.
	InitialStatus engine.Status
}

// Session owns the client-side view of one game. Every state change,
// intent check and read happens on the loop goroutine.
type Session struct {
	inbox     chan Msg
	state     engine.State
	version   int
	clients   map[string]chan Snapshot
	transport Transport
	outcomes  chan Outcome
	frozen    bool
	closeErr  error
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(parent context.Context, cfg Config, t Transport, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}

	state := engine.NewEmptyState(cfg.GameID, cfg.Self)
	if cfg.InitialStatus != "" {
		state.Status = cfg.InitialStatus
	}

	s := &Session{
		inbox:     make(chan Msg, 64),
		state:     state,
		clients:   make(map[string]chan Snapshot),
		transport: t,
		outcomes:  make(chan Outcome, 8),
		log:       log.Named("session").With(zap.String("game_id", cfg.GameID)),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)

	events := s.transport.Events()
	disconnected := s.transport.Disconnected()

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case evt, ok := <-events:
			if !ok {
				events = nil
				break
			}
			s.apply(evt)

		case err, ok := <-disconnected:
			disconnected = nil
			if ok {
				s.freeze(err)
			}

		case m := <-s.inbox:
			switch msg := m.(type) {
			case FromServer:
				s.apply(msg.Evt)

			case Join:
				select {
				case msg.Outbox <- Snapshot{Version: s.version, State: s.state.Clone()}:
					s.clients[msg.ClientID] = msg.Outbox
				default:
					s.log.Warn("subscriber outbox full on join, not registered", zap.String("client_id", msg.ClientID))
				}
				if msg.Reply != nil {
					close(msg.Reply)
				}

			case Leave:
				delete(s.clients, msg.ClientID)

			case Intent:
				msg.Reply <- s.dispatch(msg)

			case GetState:
				msg.Reply <- View{
					Version:    s.version,
					NumClients: len(s.clients),
					Frozen:     s.frozen,
					State:      s.state.Clone(),
				}

			case Shutdown:
				s.cancel()
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) apply(evt engine.Event) {
	effects, next, err := engine.Apply(s.state, evt)
	if err != nil {
		if errors.Is(err, engine.ErrDuplicateDraw) {
			s.log.Debug("ignoring duplicate event", zap.String("type", string(evt.Type)), zap.Error(err))
		} else {
			s.log.Warn("ignoring event", zap.String("type", string(evt.Type)), zap.Error(err))
		}
		return
	}
	if len(effects) == 0 {
		return
	}

	prev := s.state
	s.state = next
	s.version++
	s.broadcast(Snapshot{Version: s.version, State: s.state.Clone(), Effects: effects})

	if prev.Status != engine.StatusFinished && next.Status == engine.StatusFinished {
		s.log.Info("game finished", zap.String("winner", next.Winner))
		s.notify(Outcome{Kind: OutcomeFinished, Winner: next.Winner, Won: next.Winner == next.Self})
	}
	if !prev.Disqualified && next.Disqualified {
		s.log.Info("disqualified")
		s.notify(Outcome{Kind: OutcomeDisqualified})
	}
}

func (s *Session) freeze(err error) {
	if s.frozen {
		return
	}
	s.frozen = true
	s.log.Warn("transport disconnected, session frozen", zap.Error(err))
	s.notify(Outcome{Kind: OutcomeDisconnected, Err: err})
}

func (s *Session) notify(o Outcome) {
	select {
	case s.outcomes <- o:
	default:
		s.log.Warn("outcome dropped, nobody is listening", zap.String("kind", string(o.Kind)))
	}
}

func (s *Session) shutdown() {
	for id, ch := range s.clients {
		close(ch) // Tell subscriber no more snapshots
		delete(s.clients, id)
	}
	if err := s.transport.Close(); err != nil {
		s.closeErr = err
		s.log.Debug("transport close", zap.Error(err))
	}
	close(s.outcomes)
}

func (s *Session) broadcast(snap Snapshot) {
	for id, ch := range s.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Subscriber is slow/full - drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}

// Inbox exposes the loop's mailbox so tests or other layers can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Outcomes delivers terminal notifications. It is closed when the session
// shuts down.
func (s *Session) Outcomes() <-chan Outcome { return s.outcomes }

func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the loop and releases the transport. Safe to call repeatedly.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	return s.closeErr
}

// State returns a copy of the current view.
func (s *Session) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return View{}, ErrClosed
		}
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Subscribe registers outbox for snapshots and returns once the loop has
// done so; every event applied afterwards reaches the outbox. The current
// snapshot is sent first. An outbox with no room for it is not registered,
// and a subscriber whose outbox later fills up is dropped and its outbox
// closed.
func (s *Session) Subscribe(ctx context.Context, clientID string, outbox chan Snapshot) error {
	reply := make(chan struct{})
	if err := s.send(ctx, Join{ClientID: clientID, Outbox: outbox, Reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Unsubscribe(ctx context.Context, clientID string) error {
	return s.send(ctx, Leave{ClientID: clientID})
}

func (s *Session) send(ctx context.Context, m Msg) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
