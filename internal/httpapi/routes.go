package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/hub"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/lobby"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/ws"
)

type Deps struct {
	Hub      *hub.Hub
	Store    *lobby.Store
	Frames   ws.FrameHandler
	Library  *songs.Library
	AudioDir string
	WS       ws.Options
	Logger   *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz(d.Store, d.Hub, d.Library))
	r.Get("/songs", ListSongs(d.Library))
	r.Get("/audio/{file}", Audio(d.AudioDir, d.Logger))
	r.Get("/ws", ws.Handler(d.Hub, d.Frames, d.WS, d.Logger))
	return r
}
