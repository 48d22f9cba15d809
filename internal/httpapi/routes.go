package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/hub"
)

// SetupRoutes builds the local status and control surface over the hub's
// live sessions.
func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("httpapi")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", ListSessions(h))
		r.Get("/{gameID}", GetSession(h))
		r.Post("/{gameID}/select/{number}", SelectNumber(h, log))
		r.Post("/{gameID}/bingo", ClaimBingo(h, log))
	})
	return r
}
