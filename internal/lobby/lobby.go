// Package lobby coordinates the pre-game phase: joining, tracking the roster
// and deciding at the end of the countdown whether the game starts.
package lobby

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/api"
	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/ws"
)

var ErrClosed = errors.New("lobby closed")

const (
	DefaultWindow     = 60 * time.Second
	DefaultMinPlayers = 3
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseWaiting  Phase = "waiting"
	PhaseStarting Phase = "starting"
	PhaseAborted  Phase = "aborted"
	PhaseError    Phase = "error"
)

// Joiner performs the REST join. *api.Client implements it.
type Joiner interface {
	JoinGame(ctx context.Context) (api.JoinResult, error)
}

// Transport is the lobby socket. *ws.Conn implements it.
type Transport interface {
	Events() <-chan engine.Event
	Disconnected() <-chan error
	Close() error
}

type Dialer func(ctx context.Context, gameID string) (Transport, error)

type Config struct {
	Window     time.Duration
	MinPlayers int
	Now        func() time.Time
}

// Outcome is the single terminal result of a lobby.
type Outcome struct {
	Phase   Phase
	GameID  string
	Players []string
	Err     error
}

type View struct {
	Phase     Phase
	GameID    string
	Players   []string
	CreatedAt time.Time
	TimeLeft  time.Duration
}

type Msg interface{ isLobbyMsg() }

type joined struct {
	res  api.JoinResult
	conn Transport
}

func (joined) isLobbyMsg() {}

type joinFailed struct{ err error }

func (joinFailed) isLobbyMsg() {}

type timerFired struct{ gen int }

func (timerFired) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Coordinator struct {
	cfg    Config
	joiner Joiner
	dial   Dialer
	log    *zap.Logger

	joinOnce atomic.Bool

	// owned by the loop goroutine
	phase     Phase
	gameID    string
	players   []string
	createdAt time.Time
	conn      Transport
	timer     *time.Timer
	timerGen  int
	fired     bool

	inbox   chan Msg
	outcome chan Outcome
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(parent context.Context, cfg Config, joiner Joiner, dial Dialer, log *zap.Logger) *Coordinator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = DefaultMinPlayers
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	c := &Coordinator{
		cfg:     cfg,
		joiner:  joiner,
		dial:    dial,
		log:     log.Named("lobby"),
		phase:   PhaseIdle,
		inbox:   make(chan Msg, 16),
		outcome: make(chan Outcome, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.loop()
	return c
}

// TimeLeft is the remaining countdown, clamped to [0, window].
func TimeLeft(now, createdAt time.Time, window time.Duration) time.Duration {
	left := window - now.Sub(createdAt)
	if left < 0 {
		return 0
	}
	if left > window {
		return window
	}
	return left
}

// Join runs the REST join and opens the lobby socket. Only the first call
// does anything; later calls return nil.
func (c *Coordinator) Join(ctx context.Context) error {
	if !c.joinOnce.CompareAndSwap(false, true) {
		c.log.Debug("join already attempted")
		return nil
	}

	res, err := c.joiner.JoinGame(ctx)
	if err != nil {
		c.post(joinFailed{err: err})
		return err
	}
	conn, err := c.dial(ctx, res.GameID)
	if err != nil {
		c.post(joinFailed{err: err})
		return err
	}
	if !c.post(joined{res: res, conn: conn}) {
		_ = conn.Close()
		return ErrClosed
	}
	return nil
}

func (c *Coordinator) post(m Msg) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) loop() {
	defer close(c.done)

	var events <-chan engine.Event
	var disconnected <-chan error

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case evt, ok := <-events:
			if !ok {
				events = nil
				break
			}
			c.handleEvent(evt)

		case err, ok := <-disconnected:
			disconnected = nil
			if ok {
				c.socketLost(err)
			}

		case m := <-c.inbox:
			switch msg := m.(type) {
			case joined:
				if c.fired {
					_ = msg.conn.Close()
					break
				}
				c.onJoined(msg)
				events = c.conn.Events()
				disconnected = c.conn.Disconnected()

			case joinFailed:
				c.log.Warn("join failed", zap.Error(msg.err))
				c.finish(Outcome{Phase: PhaseError, Err: msg.err})

			case timerFired:
				if msg.gen != c.timerGen {
					c.log.Debug("stale timer", zap.Int("gen", msg.gen), zap.Int("current", c.timerGen))
					break
				}
				c.expire()

			case GetState:
				msg.Reply <- c.view()
			}
		}
	}
}

func (c *Coordinator) onJoined(msg joined) {
	c.gameID = msg.res.GameID
	c.createdAt = msg.res.CreatedAt
	now := c.cfg.Now()
	switch {
	case c.createdAt.IsZero():
		c.log.Warn("join response without created_at, counting from now")
		c.createdAt = now
	case c.createdAt.After(now):
		// The deadline never lies beyond one window from our join.
		c.log.Warn("server clock ahead of ours, counting from now", zap.Duration("skew", c.createdAt.Sub(now)))
		c.createdAt = now
	}
	c.players = c.players[:0]
	for _, p := range msg.res.Players {
		c.addPlayer(p)
	}
	c.conn = msg.conn
	c.phase = PhaseWaiting
	c.log.Info("waiting in lobby", zap.String("game_id", c.gameID), zap.Strings("players", c.players))

	c.arm(TimeLeft(c.cfg.Now(), c.createdAt, c.cfg.Window))
}

// socketLost keeps the countdown running when the server closed the socket
// normally or has already announced the start; anything else ends the lobby.
func (c *Coordinator) socketLost(err error) {
	if c.fired {
		return
	}
	if errors.Is(err, ws.ErrClosedNormally) || c.phase == PhaseStarting {
		c.log.Info("lobby socket closed, countdown continues", zap.Error(err), zap.String("phase", string(c.phase)))
		return
	}
	c.log.Warn("lobby socket lost", zap.Error(err))
	c.finish(Outcome{Phase: PhaseError, Err: err})
}

func (c *Coordinator) handleEvent(evt engine.Event) {
	if c.fired {
		return
	}
	switch evt.Type {
	case engine.EvtPlayerJoined:
		if evt.Player != "" && c.addPlayer(evt.Player) {
			c.log.Info("player joined", zap.String("player", evt.Player), zap.Int("players", len(c.players)))
		}
	case engine.EvtGameStarting:
		c.phase = PhaseStarting
		c.log.Info("server announced game start")
	default:
		c.log.Debug("ignoring lobby event", zap.String("type", string(evt.Type)))
	}
}

func (c *Coordinator) addPlayer(name string) bool {
	if slices.Contains(c.players, name) {
		return false
	}
	c.players = append(c.players, name)
	return true
}

// arm replaces any pending timer. Fires from older timers carry an old
// generation and are dropped by the loop.
func (c *Coordinator) arm(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(d, func() { c.post(timerFired{gen: gen}) })
}

func (c *Coordinator) expire() {
	if c.fired {
		return
	}
	// Re-arm if the timer fired before the wall clock reached the deadline.
	if left := TimeLeft(c.cfg.Now(), c.createdAt, c.cfg.Window); left > 0 {
		c.arm(left)
		return
	}

	if c.phase == PhaseStarting || len(c.players) >= c.cfg.MinPlayers {
		c.finish(Outcome{Phase: PhaseStarting, GameID: c.gameID, Players: slices.Clone(c.players)})
		return
	}
	c.log.Info("not enough players, lobby aborted", zap.Int("players", len(c.players)), zap.Int("min", c.cfg.MinPlayers))
	c.finish(Outcome{Phase: PhaseAborted, GameID: c.gameID, Players: slices.Clone(c.players)})
}

// finish records the terminal phase and releases the lobby socket. Only the
// first call has any effect.
func (c *Coordinator) finish(o Outcome) {
	if c.fired {
		return
	}
	c.fired = true
	c.phase = o.Phase
	c.release()
	c.outcome <- o
}

func (c *Coordinator) release() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Debug("lobby socket close", zap.Error(err))
		}
		c.conn = nil
	}
}

func (c *Coordinator) shutdown() {
	c.release()
	close(c.outcome)
}

func (c *Coordinator) view() View {
	v := View{
		Phase:     c.phase,
		GameID:    c.gameID,
		Players:   slices.Clone(c.players),
		CreatedAt: c.createdAt,
	}
	if !c.createdAt.IsZero() && !c.fired {
		v.TimeLeft = TimeLeft(c.cfg.Now(), c.createdAt, c.cfg.Window)
	}
	return v
}

// Done delivers the lobby's single outcome. It is closed without a value if
// the lobby is closed first.
func (c *Coordinator) Done() <-chan Outcome { return c.outcome }

// Close cancels the timer and releases the socket. Safe to call repeatedly.
func (c *Coordinator) Close() {
	c.cancel()
	<-c.done
}

func (c *Coordinator) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case c.inbox <- GetState{Reply: reply}:
	case <-c.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
