package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/impostor-lol/internal/hub"
	"github.com/DoyleJ11/impostor-lol/internal/ws"
)

type Options struct {
	TopicPrefix string
	WS          ws.Options
	Logger      *zap.Logger
}

func SetupRoutes(h *hub.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "impostor-lol"
	}
	if opts.WS.Logger == nil {
		opts.WS.Logger = opts.Logger
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/sessions", CreateSession(h, opts.TopicPrefix, opts.Logger.Named("http")))
	r.Get("/topics", ListTopics(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, opts.WS))
	return r
}
