package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/hub"
	"github.com/DoyleJ11/bingo-client/internal/session"
)

type stateResponse struct {
	Version    int          `json:"version"`
	Frozen     bool         `json:"frozen"`
	NumClients int          `json:"subscribers"`
	State      engine.State `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ListSessions(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := h.List(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Sessions []string `json:"sessions"`
		}{Sessions: ids})
	}
}

func GetSession(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(w, r, h)
		if !ok {
			return
		}
		v, err := s.State(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, stateResponse{
			Version:    v.Version,
			Frozen:     v.Frozen,
			NumClients: v.NumClients,
			State:      v.State,
		})
	}
}

func SelectNumber(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(chi.URLParam(r, "number"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("number must be an integer"))
			return
		}
		s, ok := lookup(w, r, h)
		if !ok {
			return
		}
		if err := s.SelectNumber(r.Context(), n); err != nil {
			log.Debug("select rejected", zap.Int("number", n), zap.Error(err))
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func ClaimBingo(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(w, r, h)
		if !ok {
			return
		}
		if err := s.ClaimBingo(r.Context()); err != nil {
			log.Debug("claim rejected", zap.Error(err))
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func lookup(w http.ResponseWriter, r *http.Request, h *hub.Hub) (*session.Session, bool) {
	gameID := chi.URLParam(r, "gameID")
	s, ok := h.Get(r.Context(), gameID)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no session for game "+gameID))
		return nil, false
	}
	return s, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidSelection), errors.Is(err, engine.ErrInvalidClaim):
		return http.StatusConflict
	case errors.Is(err, session.ErrFrozen):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
