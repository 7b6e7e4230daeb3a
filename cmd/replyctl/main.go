package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/app"
	"github.com/devricklin/notify-reply-bridge/internal/conf"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "replyctl: load config: %v\n", err)
		os.Exit(1)
	}

	// Operator output is JSON on stdout; keep the log quiet unless debugging
	logger := zap.NewNop()
	if cfg.Debug {
		logger, _ = zap.NewDevelopment()
	}

	a, err := app.New(context.Background(), cfg, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replyctl: %v\n", err)
		os.Exit(1)
	}

	cliApp := newCLIApp(a)
	runErr := cliApp.Run(os.Args)
	a.Close()
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}
