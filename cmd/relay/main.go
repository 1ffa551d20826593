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

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/impostor-lol/internal/config"
	"github.com/DoyleJ11/impostor-lol/internal/httpapi"
	"github.com/DoyleJ11/impostor-lol/internal/hub"
	"github.com/DoyleJ11/impostor-lol/internal/journal"
	"github.com/DoyleJ11/impostor-lol/internal/logging"
	"github.com/DoyleJ11/impostor-lol/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.LoadRelay()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var j journal.Journal = journal.Nop{}
	if cfg.DatabaseDSN != "" {
		store, err := journal.Open(cfg.DatabaseDSN, log)
		if err != nil {
			return err
		}
		j = store
	}
	defer func() { err = multierr.Append(err, j.Close()) }()

	h := hub.NewHub(ctx, log)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, httpapi.Options{
		TopicPrefix: cfg.TopicPrefix,
		Logger:      log,
		WS: ws.Options{
			Outbox:         cfg.Outbox,
			PingInterval:   cfg.PingInterval,
			OriginPatterns: cfg.OriginPatterns,
			Journal:        j,
		},
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("journal", cfg.DatabaseDSN != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
