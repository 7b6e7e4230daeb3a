package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devricklin/notify-reply-bridge/internal/app"
	"github.com/devricklin/notify-reply-bridge/internal/conf"
	"github.com/devricklin/notify-reply-bridge/internal/log"
	"github.com/devricklin/notify-reply-bridge/internal/mcp"
)

// reply-mcp serves the notification views and reply controls to an MCP
// client over stdio. Logs go to stderr, stdout carries the protocol.
func main() {
	cfg, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reply-mcp: load config: %v\n", err)
		os.Exit(1)
	}
	// The MCP server never ingests or sends, so generator and HTTP settings are optional
	logger, err := log.New(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reply-mcp: create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reply-mcp: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	s := mcp.NewServer(a.Usecases, cfg.Reply.MaxReplies, nil, logger)
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "reply-mcp: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}
