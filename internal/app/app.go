// Package app assembles the repositories and usecases shared by the commands.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz"
	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/biz/usecase"
	"github.com/devricklin/notify-reply-bridge/internal/conf"
	"github.com/devricklin/notify-reply-bridge/internal/data"
)

// App holds the opened database and the usecase layer built on it
type App struct {
	Config    *conf.Config
	DB        *sql.DB
	Repos     *data.Repositories
	Usecases  *biz.Usecases
	Generator repo.ReplyGenerator // nil when no provider is configured

	clock   domain.Clock
	logger  *zap.Logger
	closers []io.Closer
}

// New opens the database and wires the usecases from cfg
func New(ctx context.Context, cfg *conf.Config, clock domain.Clock, logger *zap.Logger) (*App, error) {
	if clock == nil {
		clock = domain.RealClock{}
	}
	policies := cfg.Policies
	if policies == nil {
		policies = conf.DefaultPoliciesConfig()
	}

	db, err := data.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:  cfg,
		DB:      db,
		Repos:   data.NewRepositories(db),
		clock:   clock,
		logger:  logger,
		closers: []io.Closer{db},
	}

	gen, err := a.newGenerator(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Generator = gen

	backup, err := a.newBackup(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	prompts := usecase.NewPromptUsecase(a.Repos.Prompt, policies.Prompt, clock)
	a.Usecases = &biz.Usecases{
		Policy: usecase.NewPolicyUsecase(
			a.Repos.Rule, a.Repos.AppSetting, a.Repos.Setting, a.Repos.Notification,
			policies.DefaultPolicies, clock,
		),
		RateLimit: usecase.NewRateLimitUsecase(a.Repos.ReplyCount, clock),
		Keyword:   usecase.NewKeywordUsecase(a.Repos.Keyword, clock),
		Grouping:  usecase.NewGroupingUsecase(a.Repos.Notification, usecase.DefaultGroupWindow),
		Prompt:    prompts,
		Reply: usecase.NewReplyUsecase(a.Repos.History, gen, usecase.ReplyConfig{
			Prompt:       policies.Prompt,
			Prompts:      prompts,
			HistoryLimit: cfg.Reply.HistoryLimit,
			MaxHistory:   cfg.Reply.MaxHistory,
		}, clock),
		Backup: backup,
		Echo:   usecase.NewSelfEchoGuard(clock),
	}

	if err := SeedKeywords(ctx, a.Usecases.Keyword, policies.Keywords); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the generator client and the database
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *App) newGenerator(ctx context.Context) (repo.ReplyGenerator, error) {
	g := a.Config.Generator
	switch g.Provider {
	case conf.ProviderOpenAI:
		gen, err := data.NewOpenAIGenerator(data.OpenAIConfig{
			APIKey:  g.APIKey,
			BaseURL: g.BaseURL,
			Model:   g.Model,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.logger.Info("Reply generator enabled", zap.String("provider", g.Provider))
		return gen, nil
	case conf.ProviderGemini:
		gen, err := data.NewGeminiGenerator(ctx, data.GeminiConfig{
			APIKey: g.APIKey,
			Model:  g.Model,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gen)
		a.logger.Info("Reply generator enabled", zap.String("provider", g.Provider))
		return gen, nil
	case conf.ProviderNone:
		a.logger.Info("No reply generator configured, only keyword replies are sent")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", g.Provider)
	}
}

func (a *App) newBackup(ctx context.Context) (*usecase.BackupUsecase, error) {
	b := a.Config.Backup

	var (
		sink repo.ArchiveSink
		err  error
	)
	if b.UseS3() {
		sink, err = data.NewS3Sink(ctx, data.S3Config{
			Bucket:   b.S3Bucket,
			Region:   b.S3Region,
			Prefix:   b.S3Prefix,
			Endpoint: b.S3Endpoint,
		}, a.logger)
	} else {
		sink, err = data.NewFileSink(b.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create backup sink: %w", err)
	}

	var enc repo.Encryptor
	if b.Encrypted() {
		enc, err = data.NewAgeEncryptor(b.AgeRecipient, b.AgeIdentity)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup encryptor: %w", err)
		}
	}
	return usecase.NewBackupUsecase(a.Repos.Backup, sink, enc, a.clock), nil
}

// SeedKeywords creates the configured keyword actions when none exist yet
func SeedKeywords(ctx context.Context, uc *usecase.KeywordUsecase, seeds []conf.KeywordSeed) error {
	if len(seeds) == 0 {
		return nil
	}
	existing, err := uc.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, s := range seeds {
		if _, err := uc.Create(ctx, s.Keyword, s.Type, s.Content, true); err != nil {
			return fmt.Errorf("failed to seed keyword %q: %w", s.Keyword, err)
		}
	}
	return nil
}
