package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/types"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrJoinRejected = errors.New("join rejected")
	ErrNoToken      = errors.New("no auth token")
)

const (
	pathRegister = "/api/users/register/"
	pathToken    = "/api/token/"
	pathMe       = "/api/users/me/"
	pathJoinGame = "/api/games/games/join_game/"
)

type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type joinResponse struct {
	ID          types.GameID    `json:"id"`
	CreatedAt   types.Timestamp `json:"created_at"`
	PlayerCards []struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"player_cards"`
}

// JoinResult is the lobby the server placed us in.
type JoinResult struct {
	GameID    string
	CreatedAt time.Time
	Players   []string // unique, in join order
}

// Client talks to the game server's REST endpoints with a bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     log.Named("api"),
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.postJSON(ctx, pathRegister, false, req, nil)
}

// Login exchanges credentials for tokens and keeps the access token for
// later calls.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	var tok Tokens
	body := map[string]string{"username": username, "password": password}
	if err := c.postJSON(ctx, pathToken, false, body, &tok); err != nil {
		return Tokens{}, err
	}
	if tok.Access == "" {
		return Tokens{}, fmt.Errorf("login: empty access token")
	}
	c.SetToken(tok.Access)
	c.log.Info("logged in", zap.String("username", username))
	return tok, nil
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	if err := c.getJSON(ctx, pathMe, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (c *Client) JoinGame(ctx context.Context) (JoinResult, error) {
	var resp joinResponse
	if err := c.postJSON(ctx, pathJoinGame, true, struct{}{}, &resp); err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && herr.Status == http.StatusBadRequest {
			return JoinResult{}, fmt.Errorf("%w: %w", ErrJoinRejected, err)
		}
		return JoinResult{}, err
	}
	if resp.ID == "" {
		return JoinResult{}, fmt.Errorf("join game: response without id")
	}

	res := JoinResult{GameID: resp.ID.String(), CreatedAt: resp.CreatedAt.Time}
	seen := make(map[string]bool, len(resp.PlayerCards))
	for _, pc := range resp.PlayerCards {
		name := pc.User.Username
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		res.Players = append(res.Players, name)
	}
	c.log.Info("joined game", zap.String("game_id", res.GameID), zap.Int("players", len(res.Players)))
	return res, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if err := c.authorize(req); err != nil {
		return err
	}
	return c.do(req, target)
}

func (c *Client) postJSON(ctx context.Context, path string, auth bool, body any, target any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		if err := c.authorize(req); err != nil {
			return err
		}
	}
	return c.do(req, target)
}

func (c *Client) authorize(req *http.Request) error {
	tok := c.Token()
	if tok == "" {
		return ErrNoToken
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func (c *Client) do(req *http.Request, target any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		herr := &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		c.log.Debug("request failed", zap.String("method", req.Method), zap.String("path", req.URL.Path), zap.Int("status", resp.StatusCode))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", ErrUnauthorized, herr)
		}
		return herr
	}

	if target != nil && len(body) > 0 {
		return json.Unmarshal(body, target)
	}
	return nil
}
