// Command hillnet runs a game server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/host"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hillnet:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	mapPath := flag.String("map", "", "path to a .brk map, overrides the config")
	port := flag.Int("port", 0, "TCP port, overrides the config")
	flag.Parse()

	cfg, err := host.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *mapPath != "" {
		cfg.Map = *mapPath
	}
	if *port != 0 {
		cfg.Port = *port
	}

	logger, err := host.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	game, err := host.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Map != "" {
		_, err := game.LoadMap(ctx, cfg.Map)
		var malformed *host.MalformedMapError
		switch {
		case errors.As(err, &malformed):
			for _, l := range malformed.Lines {
				logger.Warn("skipped map line", zap.Int("line", l.Line), zap.String("reason", l.Reason))
			}
		case err != nil:
			return fmt.Errorf("load map %s: %w", cfg.Map, err)
		}
	}

	if err := game.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	game.KickAll(sctx, "Server is shutting down.")
	return game.Shutdown(sctx)
}
