package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/roomrelay/internal/chatclient"
	"github.com/Tyrowin/roomrelay/internal/logger"
)

func main() {
	cfg, err := chatclient.ParseArgs(os.Args[1:])
	if errors.Is(err, chatclient.ErrUsage) {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Example: client alice general localhost:50051")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(
		logger.WithOutput(os.Stderr),
		logger.WithLevel(logger.ParseLevel(os.Getenv("RELAY_LOG_LEVEL"))),
		logger.WithComponent("client"),
	)

	client := chatclient.New(cfg, os.Stdout, chatclient.WithLogger(log))
	if err := client.Run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		stop()
		os.Exit(1)
	}
}
