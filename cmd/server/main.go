package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/battle"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/config"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/dispatch"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/httpapi"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/hub"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/lobby"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/logging"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/scoring"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	lib, reloader, err := setupSongs(cfg, clock, logger)
	if err != nil {
		return err
	}
	if reloader != nil {
		defer func() { _ = reloader.Stop() }()
	}

	store := lobby.NewStore(
		lobby.WithClock(clock),
		lobby.WithMaxPlayersCap(cfg.Lobby.MaxPlayersCap),
	)
	h := hub.New(hub.Config{
		QueueSize:        cfg.Hub.SendQueueSize,
		WriteTimeout:     cfg.Hub.WriteTimeout,
		LivenessInterval: cfg.Hub.LivenessInterval,
		InboundRate:      cfg.Hub.InboundRate,
		InboundBurst:     cfg.Hub.InboundBurst,
	}, clock, logger.Named("hub"))
	d := dispatch.New(store, h, lib, logger.Named("dispatch"))
	h.OnEvict(d.Disconnect)
	ticker := battle.NewTicker(store, h, scoring.Stub, clock, cfg.Scoring.Tick, logger.Named("battle"))

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:      h,
			Store:    store,
			Frames:   d,
			Library:  lib,
			AudioDir: cfg.Songs.AudioDir,
			WS:       ws.Options{OriginPatterns: cfg.WS.Origins()},
			Logger:   logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return ticker.Run(gctx) })
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.Int("songs", lib.Current().Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("server stopped", zap.Error(err))
	return err
}

// setupSongs loads the catalog from SONGS_DIR, or the built-in songs when
// no directory is configured.
func setupSongs(cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (*songs.Library, *songs.Reloader, error) {
	if cfg.Songs.Dir == "" {
		return songs.NewLibrary(songs.Builtin(clock.Now())), nil, nil
	}

	lib := songs.NewLibrary(nil)
	reloader := songs.NewReloader(lib, cfg.Songs.Dir, clock, logger)
	if err := reloader.Reload(); err != nil {
		return nil, nil, err
	}
	if cfg.Songs.ReloadInterval <= 0 {
		return lib, nil, nil
	}
	if err := reloader.Start(cfg.Songs.ReloadInterval); err != nil {
		return nil, nil, err
	}
	return lib, reloader, nil
}
