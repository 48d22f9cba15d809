// Package fakeserver is an in-process stand-in for the bingo game server,
// used by tests that need a real REST + WebSocket peer.
package fakeserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

type Received struct {
	GameID string
	Data   []byte
}

type JoinResponse struct {
	ID         any          `json:"id"`
	CreatedAt  any          `json:"created_at"`
	PlayerCard []PlayerCard `json:"player_cards"`
}

type PlayerCard struct {
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

func Cards(usernames ...string) []PlayerCard {
	out := make([]PlayerCard, len(usernames))
	for i, u := range usernames {
		out[i].User.Username = u
	}
	return out
}

type client struct {
	conn  *websocket.Conn
	token string
	auth  string
}

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	clients   map[string][]*client
	join      JoinResponse
	joinCalls int
	joinCode  int
	users     map[string]string // username -> password
	tokens    map[string]string // token -> username

	received chan Received
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		clients:  make(map[string][]*client),
		users:    make(map[string]string),
		tokens:   make(map[string]string),
		joinCode: http.StatusOK,
		received: make(chan Received, 64),
	}

	r := chi.NewRouter()
	r.Post("/api/token/", s.token)
	r.Post("/api/users/register/", s.register)
	r.Get("/api/users/me/", s.me)
	r.Post("/api/games/games/join_game/", s.joinGame)
	r.Get("/ws/game/{gameID}/", s.socket)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Host is the host:port part of the server URL.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

func (s *Server) AddUser(username, password, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
	s.tokens[token] = username
}

func (s *Server) SetJoin(resp JoinResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.join = resp
}

func (s *Server) SetJoinStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinCode = code
}

func (s *Server) JoinCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinCalls
}

func (s *Server) Received() <-chan Received { return s.received }

// Tokens returns the ?token= values and Authorization headers seen by the
// sockets of gameID.
func (s *Server) Tokens(gameID string) (query, header []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients[gameID] {
		query = append(query, c.token)
		header = append(header, c.auth)
	}
	return query, header
}

// WaitClients blocks until gameID has at least n sockets or d elapses.
func (s *Server) WaitClients(gameID string, n int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.clients[gameID])
		s.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Broadcast writes v as JSON to every socket of gameID.
func (s *Server) Broadcast(gameID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.BroadcastRaw(gameID, payload)
}

func (s *Server) BroadcastRaw(gameID string, payload []byte) error {
	s.mu.Lock()
	clients := append([]*client(nil), s.clients[gameID]...)
	s.mu.Unlock()

	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// Drop closes every socket of gameID from the server side.
func (s *Server) Drop(gameID string, code websocket.StatusCode) {
	s.mu.Lock()
	clients := s.clients[gameID]
	delete(s.clients, gameID)
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close(code, "server closing")
	}
}

// Close drops every socket and shuts the HTTP server down.
func (s *Server) Close() {
	s.mu.Lock()
	var all []*client
	for _, list := range s.clients {
		all = append(all, list...)
	}
	s.mu.Unlock()

	for _, c := range all {
		_ = c.conn.CloseNow()
	}
	s.Server.Close()
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pw, ok := s.users[req.Username]; !ok || pw != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	for tok, user := range s.tokens {
		if user == req.Username {
			writeJSON(w, http.StatusOK, map[string]string{"access": tok, "refresh": tok + "-refresh"})
			return
		}
	}
	http.Error(w, "no token", http.StatusInternalServerError)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"username": {"This field is required."}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[req.Username]; ok {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"username": {"A user with that username already exists."}})
		return
	}
	s.users[req.Username] = req.Password
	s.tokens["tok-"+req.Username] = req.Username
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username, "email": req.Email})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": 1, "username": user})
}

func (s *Server) joinGame(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
		return
	}

	s.mu.Lock()
	s.joinCalls++
	code, resp := s.joinCode, s.join
	s.mu.Unlock()

	if code != http.StatusOK {
		writeJSON(w, code, map[string]string{"error": "cannot join"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) socket(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	c := &client{conn: conn, token: r.URL.Query().Get("token"), auth: r.Header.Get("Authorization")}
	s.mu.Lock()
	s.clients[gameID] = append(s.clients[gameID], c)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		list := s.clients[gameID]
		for i, other := range list {
			if other == c {
				s.clients[gameID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		select {
		case s.received <- Received{GameID: gameID, Data: data}:
		default:
		}
	}
}

func (s *Server) authorize(r *http.Request) (string, bool) {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.tokens[tok]
	return user, ok
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
