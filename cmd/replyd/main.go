package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/app"
	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/conf"
	"github.com/devricklin/notify-reply-bridge/internal/data"
	"github.com/devricklin/notify-reply-bridge/internal/infra/feishu"
	"github.com/devricklin/notify-reply-bridge/internal/log"
	"github.com/devricklin/notify-reply-bridge/internal/server"
	"github.com/devricklin/notify-reply-bridge/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "replyd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := conf.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := log.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := domain.RealClock{}
	a, err := app.New(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("Database ready", zap.String("path", cfg.DBPath), zap.String("policies", cfg.Policies.Source))

	// Platform clients answer their own chats; everything else goes to the outbox
	var routes []data.SenderRoute
	var feishuClient *feishu.Client
	if cfg.Feishu.Enabled() {
		feishuClient = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, logger)
		routes = append(routes, data.SenderRoute{
			PackageName: data.PackageFeishu,
			SourceID:    data.SourceFeishu,
			Sender:      data.NewFeishuSender(feishuClient),
		})
	}
	var telegramAPI *tgbotapi.BotAPI
	if cfg.Telegram.Token != "" {
		telegramAPI, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		logger.Info("Telegram bot authorized", zap.String("username", telegramAPI.Self.UserName))
		routes = append(routes, data.SenderRoute{
			PackageName: data.PackageTelegram,
			SourceID:    data.SourceTelegram,
			Sender:      data.NewTelegramSender(telegramAPI),
		})
	}
	var sender repo.Sender = data.NewSenderRouter(data.NewOutboxSender(a.Repos.Outbox, clock), routes...)

	notifications := service.NewNotificationService(a.Repos.Notification, a.Usecases, sender, service.Config{
		MaxReplies:      cfg.Reply.MaxReplies,
		Throttle:        cfg.Reply.Throttle,
		GenerateTimeout: cfg.Generator.Timeout,
		SendTimeout:     cfg.Reply.SendTimeout,
	}, clock, logger)
	notifications.Start(ctx)

	cleanup := service.NewCleanupScheduler(
		a.Usecases.RateLimit, a.Usecases.Reply, a.Repos.Notification,
		cfg.Cleanup.MaxAge, cfg.Cleanup.Interval, logger,
	)
	cleanup.Start(ctx)

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	runComponent := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error("Component stopped", zap.String("component", name), zap.Error(err))
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Addr != "" {
		httpServer = server.NewHTTPServer(server.HTTPConfig{
			Addr:       cfg.HTTP.Addr,
			JWTSecret:  cfg.HTTP.JWTSecret,
			MaxReplies: cfg.Reply.MaxReplies,
		}, a.Usecases, notifications, a.Repos.Outbox, clock, logger)
		runComponent("http", httpServer.Start)
	}
	if feishuClient != nil {
		fs := server.NewFeishuServer(feishuClient, notifications, logger)
		runComponent("feishu", func() error { return fs.Start(ctx) })
	}
	if telegramAPI != nil {
		ts := server.NewTelegramServer(telegramAPI, notifications, logger)
		runComponent("telegram", func() error { return ts.Start(ctx) })
	}

	logger.Info("replyd started", zap.Int("max_replies", cfg.Reply.MaxReplies), zap.Bool("generator", a.Generator != nil))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case runErr = <-errCh:
		stop()
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown failed", zap.Error(err))
		}
		cancel()
	}
	wg.Wait()
	cleanup.Stop()
	notifications.Stop()
	return runErr
}
