// deskmate-server exposes the assistant over WebSocket for remote clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"deskmate/internal/app"
	"deskmate/internal/config"
	"deskmate/internal/logging"
	"deskmate/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger := logging.NewComponentLogger("main")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.Build(cfg)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Buffer:    cfg.Transport.SubscriberBuffer,
		NewDriver: a.NewDriver,
		Memory:    a.Memory,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.Start()
		<-ctx.Done()
		a.Stop()
		return nil
	})
	group.Go(func() error {
		return srv.Run(ctx)
	})

	logger.Info("deskmate-server up on %s:%d", cfg.Server.Host, cfg.Server.Port)
	err = group.Wait()
	logger.Info("deskmate-server stopped")
	return err
}
