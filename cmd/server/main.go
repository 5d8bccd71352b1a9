package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
)

func main() {
	fmt.Println("Starting RoomRelay server...")

	// A .env file is optional; real environment variables take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithFormat(cfg.LogFormat),
	)
	slog.SetDefault(log)

	hub := relay.NewHub(append(cfg.HubOptions(), relay.WithLogger(log))...)
	go hub.Run()

	srv := server.New(*cfg, hub, log)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(context.Background()) }()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				log.Info("graceful shutdown initiated")
				// Closing sessions first lets gRPC streams end before GracefulStop.
				hubErr := hub.Shutdown(cfg.ShutdownTimeout)
				return errors.Join(hubErr, srv.Shutdown(ctx))
			},
		},
	)

	select {
	case err := <-runErr:
		if err != nil {
			log.Error("server stopped", logger.Error(err))
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			os.Exit(1)
		}
		exitCode := <-wait
		os.Exit(exitCode)
	case exitCode := <-wait:
		log.Info("application exited", slog.Int("code", exitCode))
		os.Exit(exitCode)
	}
}
