package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gwentcup/draft-backend/internal/config"
	"github.com/gwentcup/draft-backend/internal/history"
	"github.com/gwentcup/draft-backend/internal/httpapi"
	"github.com/gwentcup/draft-backend/internal/hub"
	"github.com/gwentcup/draft-backend/internal/lobby"
	"github.com/gwentcup/draft-backend/internal/store"
	"github.com/gwentcup/draft-backend/internal/timer"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sessions store.Store
	var recorder history.Recorder
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		rec, err := history.NewDBRecorder(pg.DB())
		if err != nil {
			return err
		}
		sessions, recorder = pg, rec
		log.Info("using postgres session store")
	} else {
		mem := store.NewMemory(log)
		mem.StartJanitor(ctx, cfg.SweepInterval, cfg.SessionMaxAge)
		sessions, recorder = mem, history.NewLogRecorder(log)
		log.Info("using in-memory session store")
	}

	timers := timer.NewService()
	defer timers.Shutdown()

	h := hub.NewHub(ctx, hub.Deps{
		Sessions: sessions,
		Timers:   timers,
		Recorder: recorder,
		Durations: lobby.Durations{
			Selection: cfg.SelectionTimeout,
			Ban:       cfg.BanTimeout,
		},
		Log: log,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(h, sessions, cfg.AdminAPIKey, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	h.Inbox() <- hub.ShutdownHub{}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
