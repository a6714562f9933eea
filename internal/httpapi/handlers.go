package httpapi

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
)

// Counter reports a live count for /healthz.
type Counter interface {
	Len() int
}

type health struct {
	Status   string `json:"status"`
	Rooms    int    `json:"rooms"`
	Sessions int    `json:"sessions"`
	Songs    int    `json:"songs"`
}

func Healthz(rooms, sessions Counter, lib *songs.Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, health{
			Status:   "ok",
			Rooms:    rooms.Len(),
			Sessions: sessions.Len(),
			Songs:    lib.Current().Len(),
		})
	}
}

func ListSongs(lib *songs.Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, lib.Current().Summaries())
	}
}

// Audio serves files from dir by bare filename. Names containing ".." are
// refused outright.
func Audio(dir string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "file")
		if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		f, err := os.Open(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			logger.Error("open audio", zap.String("file", name), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
