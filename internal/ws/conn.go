package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/types"
)

var ErrConnection = errors.New("connection error")
var ErrDisconnected = errors.New("disconnected")

// ErrClosedNormally accompanies ErrDisconnected when the server closed the
// socket with a normal or going-away status.
var ErrClosedNormally = errors.New("closed normally by server")

type Status int32

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusClosed
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

type Options struct {
	// Token is also sent as a bearer header; the endpoint normally carries it
	// as a query parameter already.
	Token        string
	HTTPClient   *http.Client
	WriteTimeout time.Duration
	// ReadTimeout bounds the wait for each inbound frame. Zero waits forever.
	ReadTimeout time.Duration
	OutboxSize  int
	EventBuffer int
	ReadLimit   int64
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 8
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Conn owns one game socket. Inbound frames are decoded into engine events;
// outbound intents go through a bounded outbox drained by a writer goroutine.
type Conn struct {
	id     string
	ws     *websocket.Conn
	log    *zap.Logger
	status atomic.Int32

	events       chan engine.Event
	outbox       chan []byte
	disconnected chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeTimeout time.Duration
	readTimeout  time.Duration

	closing        atomic.Bool
	closeOnce      sync.Once
	disconnectOnce sync.Once
}

// Endpoint builds <ws|wss>://<host>/ws/game/{gameID}/?token={token}.
func Endpoint(host string, secure bool, gameID, token string) string {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws/game/" + gameID + "/"}
	if secure {
		u.Scheme = "wss"
	}
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// Dial opens the socket. ctx only bounds the handshake; the connection lives
// until Close or a remote close.
func Dial(ctx context.Context, endpoint string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	id := uuid.NewString()
	log := opts.Logger.With(zap.String("conn_id", id), zap.String("endpoint", redact(endpoint)))

	var header http.Header
	if opts.Token != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	ws, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		log.Warn("dial failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, redact(endpoint), err)
	}
	ws.SetReadLimit(opts.ReadLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:           id,
		ws:           ws,
		log:          log,
		events:       make(chan engine.Event, opts.EventBuffer),
		outbox:       make(chan []byte, opts.OutboxSize),
		disconnected: make(chan error, 1),
		ctx:          connCtx,
		cancel:       cancel,
		writeTimeout: opts.WriteTimeout,
		readTimeout:  opts.ReadTimeout,
	}
	c.status.Store(int32(StatusOpen))

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	log.Info("connected")
	return c, nil
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Status() Status { return Status(c.status.Load()) }

// Events yields decoded inbound events until the connection ends. The
// channel is closed afterwards.
func (c *Conn) Events() <-chan engine.Event { return c.events }

// Disconnected receives exactly one error wrapping ErrDisconnected when the
// remote side closes or the transport fails, and is closed afterwards. A
// local Close closes it without a value.
func (c *Conn) Disconnected() <-chan error { return c.disconnected }

// Send queues msg for delivery. It never blocks and is a no-op unless the
// connection is open. Delivery is not confirmed; wait for the server's event.
func (c *Conn) Send(msg types.ClientMessage) {
	if c.Status() != StatusOpen {
		c.log.Debug("send on inactive connection dropped", zap.String("action", msg.Action), zap.Stringer("status", c.Status()))
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode outbound message", zap.Error(err))
		return
	}
	select {
	case c.outbox <- payload:
	default:
		c.log.Warn("outbox full, message dropped", zap.String("action", msg.Action))
	}
}

// Close is idempotent and always releases the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		wasOpen := c.status.CompareAndSwap(int32(StatusOpen), int32(StatusClosed))

		closeErr := c.ws.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
		_ = c.ws.CloseNow()
		c.wg.Wait()
		c.disconnectOnce.Do(func() { close(c.disconnected) })

		if wasOpen && closeErr != nil && !isClosedErr(closeErr) {
			err = closeErr
		}
		c.log.Info("closed")
	})
	return err
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		ctx, cancel := c.ctx, context.CancelFunc(func() {})
		if c.readTimeout > 0 {
			ctx, cancel = context.WithTimeout(c.ctx, c.readTimeout)
		}
		_, data, err := c.ws.Read(ctx)
		cancel()
		if err != nil {
			c.fail(err)
			return
		}

		evt, err := types.Decode(data)
		if err != nil {
			c.log.Warn("dropping inbound frame", zap.Error(err), zap.ByteString("frame", truncate(data, 256)))
			continue
		}

		select {
		case c.events <- evt:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case payload := <-c.outbox:
			ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil && c.ctx.Err() == nil {
				c.log.Warn("write failed", zap.Error(err))
			}
		}
	}
}

// fail handles the end of the read side. A failure caused by our own Close
// is silent; anything else is a remote disconnect.
func (c *Conn) fail(err error) {
	if c.closing.Load() {
		return
	}

	reason := fmt.Errorf("%w: %v", ErrDisconnected, err)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		c.status.Store(int32(StatusClosed))
		reason = fmt.Errorf("%w: %w: %v", ErrDisconnected, ErrClosedNormally, err)
	default:
		c.status.Store(int32(StatusErrored))
	}
	c.log.Warn("connection lost", zap.Error(err), zap.Stringer("status", c.Status()))

	c.disconnectOnce.Do(func() {
		c.disconnected <- reason
		close(c.disconnected)
	})
	c.cancel()
	_ = c.ws.CloseNow()
}

func isClosedErr(err error) bool {
	var ce websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed)
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid endpoint>"
	}
	u.RawQuery = ""
	return u.String()
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
