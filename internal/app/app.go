// Package app runs one client game from login to the end of the game: lobby,
// game session, optional auto-marking, line commands and the local status
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/bingo-client/internal/api"
	"github.com/DoyleJ11/bingo-client/internal/auth"
	"github.com/DoyleJ11/bingo-client/internal/config"
	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/httpapi"
	"github.com/DoyleJ11/bingo-client/internal/hub"
	"github.com/DoyleJ11/bingo-client/internal/lobby"
	"github.com/DoyleJ11/bingo-client/internal/session"
	"github.com/DoyleJ11/bingo-client/internal/ws"
)

var ErrNoCredentials = errors.New("no token and no username/password configured")

const tokenSkew = 30 * time.Second

// Result describes how a run ended. Session is nil when no game was played.
type Result struct {
	Lobby   lobby.Outcome
	Session *session.Outcome
	Quit    bool
	State   engine.State
}

type App struct {
	cfg    *config.Config
	api    *api.Client
	hub    *hub.Hub
	log    *zap.Logger
	in     io.Reader
	out    io.Writer
	now    func() time.Time
	httpc  *http.Client
	self   string
	token  string

	mu         sync.Mutex
	statusAddr string
}

type Option func(*App)

// WithInput enables line commands read from r.
func WithInput(r io.Reader) Option { return func(a *App) { a.in = r } }

// WithOutput sets where game messages are printed.
func WithOutput(w io.Writer) Option { return func(a *App) { a.out = w } }

func WithHTTPClient(c *http.Client) Option { return func(a *App) { a.httpc = c } }

func WithClock(now func() time.Time) Option { return func(a *App) { a.now = now } }

func New(cfg *config.Config, log *zap.Logger, opts ...Option) *App {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		cfg: cfg,
		log: log,
		out: io.Discard,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.api = api.NewClient(cfg.APIURL, a.httpc, log)
	a.hub = hub.NewHub(context.Background(), log)
	return a
}

// Hub holds the live game session while Run is playing.
func (a *App) Hub() *hub.Hub { return a.hub }

// StatusAddr is the address the status server listens on, once it is up.
func (a *App) StatusAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusAddr
}

// Run plays one game. It returns when the lobby is aborted, the game ends,
// the user quits or ctx is cancelled. An App runs once.
func (a *App) Run(ctx context.Context) (Result, error) {
	var srv *http.Server
	var ln net.Listener
	if a.cfg.StatusAddr != "" {
		var err error
		ln, err = net.Listen("tcp", a.cfg.StatusAddr)
		if err != nil {
			return Result{}, multierr.Append(fmt.Errorf("status server: %w", err), a.hub.Shutdown(context.Background()))
		}
		srv = &http.Server{Handler: httpapi.SetupRoutes(a.hub, a.log), ReadHeaderTimeout: 5 * time.Second}
		a.mu.Lock()
		a.statusAddr = ln.Addr().String()
		a.mu.Unlock()
		a.log.Info("status server listening", zap.String("addr", a.statusAddr))
	}

	var res Result
	g, gctx := errgroup.WithContext(ctx)
	played := make(chan struct{})

	g.Go(func() error {
		defer close(played)
		r, err := a.play(gctx)
		res = r
		return err
	})

	if srv != nil {
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-played:
			case <-gctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err := g.Wait()
	err = multierr.Append(err, a.hub.Shutdown(context.Background()))
	return res, err
}

func (a *App) play(ctx context.Context) (Result, error) {
	if err := a.authenticate(ctx); err != nil {
		return Result{}, err
	}

	lb := lobby.New(ctx, lobby.Config{
		Window:     a.cfg.LobbyWindow,
		MinPlayers: a.cfg.MinPlayers,
		Now:        a.now,
	}, a.api, a.dialLobby, a.log)
	defer lb.Close()

	if err := lb.Join(ctx); err != nil {
		return Result{Lobby: lobby.Outcome{Phase: lobby.PhaseError, Err: err}}, fmt.Errorf("join lobby: %w", err)
	}
	fmt.Fprintln(a.out, "joined lobby, waiting for players")

	var lo lobby.Outcome
	select {
	case o, ok := <-lb.Done():
		if !ok {
			return Result{}, ctx.Err()
		}
		lo = o
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	res := Result{Lobby: lo}
	switch lo.Phase {
	case lobby.PhaseAborted:
		fmt.Fprintf(a.out, "not enough players (%d), lobby closed\n", len(lo.Players))
		return res, nil
	case lobby.PhaseError:
		return res, fmt.Errorf("lobby: %w", lo.Err)
	}

	fmt.Fprintf(a.out, "game %s starting with %d players\n", lo.GameID, len(lo.Players))
	return a.game(ctx, res)
}

// authenticate makes sure the API client holds a usable token and that the
// local username is known.
func (a *App) authenticate(ctx context.Context) error {
	a.token = a.cfg.Token
	a.self = a.cfg.Username

	if a.token != "" {
		claims, err := auth.CheckFresh(a.token, a.now(), tokenSkew)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			a.log.Warn("configured token expired", zap.Error(err))
			a.token = ""
		case errors.Is(err, auth.ErrMalformedToken):
			// Opaque token; the server decides.
			a.log.Debug("token is not a JWT")
		case err != nil:
			return err
		default:
			if a.self == "" {
				a.self = claims.Username
			}
		}
	}

	if a.cfg.Register {
		if a.cfg.Username == "" || a.cfg.Password == "" {
			return ErrNoCredentials
		}
		err := a.api.Register(ctx, api.RegisterRequest{Username: a.cfg.Username, Email: a.cfg.Email, Password: a.cfg.Password})
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		a.log.Info("registered", zap.String("username", a.cfg.Username))
		// A fresh account always logs in with its own credentials.
		a.token = ""
	}

	if a.token == "" {
		if a.cfg.Username == "" || a.cfg.Password == "" {
			return ErrNoCredentials
		}
		tok, err := a.api.Login(ctx, a.cfg.Username, a.cfg.Password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		a.token = tok.Access
	}
	a.api.SetToken(a.token)

	if a.self == "" {
		me, err := a.api.Me(ctx)
		if err != nil {
			return fmt.Errorf("who am i: %w", err)
		}
		a.self = me.Username
	}
	a.log = a.log.With(zap.String("self", a.self))
	return nil
}

func (a *App) dial(ctx context.Context, gameID string) (*ws.Conn, error) {
	return ws.Dial(ctx, ws.Endpoint(a.cfg.Host, a.cfg.Secure, gameID, a.token), ws.Options{
		Token:      a.token,
		HTTPClient: a.httpc,
		Logger:     a.log,
	})
}

func (a *App) dialLobby(ctx context.Context, gameID string) (lobby.Transport, error) {
	conn, err := a.dial(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (a *App) game(ctx context.Context, res Result) (Result, error) {
	gameID := res.Lobby.GameID
	conn, err := a.dial(ctx, gameID)
	if err != nil {
		return res, err
	}

	s := session.New(ctx, session.Config{
		GameID:        gameID,
		Self:          a.self,
		InitialStatus: engine.StatusPlaying,
	}, conn, a.log)
	if err := a.hub.Register(ctx, gameID, s); err != nil {
		return res, multierr.Append(err, s.Close())
	}

	subID := uuid.NewString()
	outbox := make(chan session.Snapshot, 32)
	if err := s.Subscribe(ctx, subID, outbox); err != nil {
		return res, multierr.Append(err, a.closeSession(gameID, s))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.watch(ctx, s, outbox)
	}()

	lines := a.readLines(ctx)

wait:
	for {
		select {
		case o, ok := <-s.Outcomes():
			if !ok {
				break wait
			}
			res.Session = &o
			a.report(o)
			break wait

		case line, ok := <-lines:
			if !ok {
				lines = nil
				break
			}
			if quit := a.command(ctx, s, line); quit {
				res.Quit = true
				break wait
			}

		case <-ctx.Done():
			break wait
		}
	}

	if v, err := s.State(context.Background()); err == nil {
		res.State = v.State
	}
	err = a.closeSession(gameID, s)
	wg.Wait()
	if ctx.Err() != nil && res.Session == nil && !res.Quit {
		return res, multierr.Append(ctx.Err(), err)
	}
	return res, err
}

func (a *App) closeSession(gameID string, s *session.Session) error {
	_, rerr := a.hub.Remove(context.Background(), gameID)
	if errors.Is(rerr, hub.ErrClosed) {
		rerr = nil
	}
	return multierr.Append(rerr, s.Close())
}

// watch prints effects and, with auto-mark on, selects drawn numbers that
// are on the card. It returns when the session closes the outbox.
func (a *App) watch(ctx context.Context, s *session.Session, outbox <-chan session.Snapshot) {
	for snap := range outbox {
		for _, eff := range snap.Effects {
			if msg := describe(eff, snap.State.Self); msg != "" {
				fmt.Fprintln(a.out, msg)
			}
			if eff.Type != engine.EffNumberDrawn || !a.cfg.AutoMark {
				continue
			}
			if !engine.OnCard(snap.State, eff.Number) {
				continue
			}
			if err := s.SelectNumber(ctx, eff.Number); err != nil {
				a.log.Debug("auto-mark skipped", zap.Int("number", eff.Number), zap.Error(err))
			}
		}
	}
}

func (a *App) report(o session.Outcome) {
	switch o.Kind {
	case session.OutcomeFinished:
		a.log.Info("game over", zap.String("winner", o.Winner), zap.Bool("won", o.Won))
	case session.OutcomeDisqualified:
		a.log.Info("disqualified")
	case session.OutcomeDisconnected:
		a.log.Warn("connection lost", zap.Error(o.Err))
		fmt.Fprintln(a.out, "connection lost")
	}
}

func describe(eff engine.Effect, self string) string {
	switch eff.Type {
	case engine.EffGameStarted:
		return "game started"
	case engine.EffNumberDrawn:
		return fmt.Sprintf("number drawn: %d", eff.Number)
	case engine.EffNumberMarked:
		return fmt.Sprintf("marked %d", eff.Number)
	case engine.EffSelectionRejected:
		return fmt.Sprintf("selection of %d rejected", eff.Number)
	case engine.EffGameWon:
		return "BINGO! you won"
	case engine.EffGameLost:
		return fmt.Sprintf("%s won the game", eff.Player)
	case engine.EffDisqualified:
		return "invalid bingo claim, you are disqualified"
	case engine.EffPlayerDisqualified:
		if eff.Player == self {
			return ""
		}
		return fmt.Sprintf("%s was disqualified", eff.Player)
	case engine.EffPlayerJoined:
		return fmt.Sprintf("%s joined", eff.Player)
	}
	return ""
}
