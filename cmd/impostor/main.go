package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/impostor-lol/internal/config"
	"github.com/DoyleJ11/impostor-lol/internal/lifecycle"
	"github.com/DoyleJ11/impostor-lol/internal/logging"
	"github.com/DoyleJ11/impostor-lol/internal/session"
	"github.com/DoyleJ11/impostor-lol/internal/transport"
	"github.com/DoyleJ11/impostor-lol/internal/transport/mqtt"
	"github.com/DoyleJ11/impostor-lol/internal/transport/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "impostor:", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.LoadClient()
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

	// The machine outlives the signal context so Close can still leave and
	// hand the session off after Ctrl-C or quit. Close stops it.
	m := session.NewMachine(context.Background(), session.Options{Engine: cfg.EngineOptions(), Tick: cfg.Tick, Logger: log})
	c := lifecycle.New(newTransport(cfg, log), m, lifecycle.Options{
		Topic:          cfg.Topic,
		ConnectTimeout: cfg.ConnectTimeout,
		SettleDelay:    cfg.SettleDelay,
		Logger:         log,
	})
	defer func() { err = multierr.Append(err, c.Close()) }()

	fmt.Fprintf(os.Stdout, "connecting to %s ...\n", cfg.Transport)
	if err := c.Open(ctx); err != nil {
		return err
	}

	updates, err := c.Watch(ctx, "cli", 64)
	if err != nil {
		return err
	}

	sh := newShell(c, os.Stdout)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error { return sh.follow(gctx, updates) })
	g.Go(func() error {
		defer stop()
		return sh.repl(gctx, os.Stdin)
	})
	return g.Wait()
}

func newTransport(cfg config.Client, log *zap.Logger) transport.Transport {
	if cfg.Transport == config.TransportRelay {
		return relay.New(relay.Options{
			URL:            cfg.RelayURL,
			ConnectTimeout: cfg.ConnectTimeout,
			ReconnectEvery: cfg.ReconnectEvery,
			Logger:         log,
		})
	}
	return mqtt.New(mqtt.Options{
		BrokerURL:      cfg.BrokerURL,
		ClientID:       "impostor-lol-" + uuid.NewString()[:8],
		ConnectTimeout: cfg.ConnectTimeout,
		ReconnectEvery: cfg.ReconnectEvery,
		Logger:         log,
	})
}
