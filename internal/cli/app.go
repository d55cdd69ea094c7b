package cli

import (
	"context"
	"fmt"

	"github.com/feichai0017/prp-orchestrator/config"
	"github.com/feichai0017/prp-orchestrator/internal/agent"
	"github.com/feichai0017/prp-orchestrator/internal/batch"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/internal/queue"
	"github.com/feichai0017/prp-orchestrator/internal/ratelimit"
	"github.com/feichai0017/prp-orchestrator/internal/service/status"
	"github.com/feichai0017/prp-orchestrator/internal/state"
	"github.com/feichai0017/prp-orchestrator/internal/utils/validator"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/converters"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
	"github.com/feichai0017/prp-orchestrator/pkg/storage"
)

// App is the wired orchestrator. Driver is nil unless the app was built
// with WithPipeline.
type App struct {
	Config  *config.Config
	Layout  pipeline.Layout
	Store   state.Store
	Policy  ratelimit.Policy
	Status  *status.Service
	Driver  *queue.Driver
	Archive storage.Storage
	Clock   clock.Clock
	Logger  logger.Logger

	closers []func() error
}

type appOptions struct {
	pipeline bool
	archive  bool
}

type AppOption func(*appOptions)

// WithPipeline wires the batch client, collaborators and queue driver.
// It requires an API key.
func WithPipeline() AppOption {
	return func(o *appOptions) { o.pipeline = true }
}

// WithArchive connects the artifact archive even without the pipeline.
func WithArchive() AppOption {
	return func(o *appOptions) { o.archive = true }
}

// NewApp wires the components named by cfg.
func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...AppOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config: cfg,
		Layout: pipeline.NewLayout(cfg.QueueRoot),
		Policy: ratelimit.Policy{
			Ceiling:     cfg.RateLimit.MaxBatchesPerHour,
			MinInterval: cfg.MinBatchInterval(),
		},
		Clock:  clock.Real(),
		Logger: log,
	}
	if err := a.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}
	if err := a.Layout.Ensure(); err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	if rs, ok := store.(*state.RedisStore); ok {
		a.closers = append(a.closers, rs.Close)
	}

	v := validator.NewDefinitionValidator(log.Named("validator"), nil)
	scanner := queue.NewScanner(a.Layout, v.Extensions())
	a.Status = status.NewService(cfg.Environment, a.Layout, scanner, store, a.Policy, log)

	if o.pipeline || o.archive {
		a.Archive, err = storage.NewStorage(ctx, cfg.Storage(), log.Named("archive"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create archive: %w", err)
		}
	}
	if !o.pipeline {
		return a, nil
	}

	if err := cfg.RequireAPIKey(); err != nil {
		a.Close()
		return nil, err
	}
	a.Driver, err = a.newDriver(scanner, v)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) newDriver(scanner *queue.Scanner, v *validator.DefinitionValidator) (*queue.Driver, error) {
	cfg, log := a.Config, a.Logger

	client := batch.NewClient(batch.Config{
		BaseURL:     cfg.API.BaseURL,
		APIKey:      cfg.API.APIKey,
		APIVersion:  cfg.API.Version,
		HTTPTimeout: cfg.HTTPTimeout(),
	}, a.Clock, log)

	collector := agent.NewCollector(agent.CollectorConfig{
		Root:            cfg.Context.Root,
		Includes:        cfg.Context.Includes,
		MaxSnippetBytes: cfg.Context.MaxSnippetBytes,
		MaxTotalBytes:   cfg.Context.MaxTotalBytes,
	}, agent.NewExtractorFactory(log), converters.NewJSONConverter(a.Clock.Now), log)

	builder, err := agent.NewRequestBuilder(agent.BuilderConfig{
		Model:            cfg.Agents.Model,
		MaxTokens:        cfg.Agents.MaxTokens,
		Temperature:      cfg.Agents.Temperature,
		AgentsDir:        cfg.Agents.Dir,
		DraftAgents:      cfg.Agents.Draft,
		DraftTemplate:    cfg.Agents.DraftTemplate,
		GenerateTemplate: cfg.Agents.GenerateTemplate,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create request builder: %w", err)
	}

	orch := pipeline.New(pipeline.Deps{
		Layout:    a.Layout,
		Store:     a.Store,
		Limiter:   ratelimit.New(a.Policy, a.Store),
		Batch:     client,
		Collector: collector,
		Builder:   builder,
		Clock:     a.Clock,
		Logger:    log,
	}, pipeline.Options{
		PollInterval: cfg.PollInterval(),
		PollTimeout:  cfg.PollTimeout(),
	})

	var executor pipeline.Executor
	if len(cfg.Executor.Command) > 0 {
		cmdExec, err := agent.NewCommandExecutor(cfg.Executor.Command, cfg.ExecutorTimeout(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create executor: %w", err)
		}
		executor = cmdExec
	}
	var archive pipeline.Archive
	if a.Archive != nil {
		archive = a.Archive
	}
	handoff := pipeline.NewHandoff(a.Layout, executor, archive, a.Clock, log)

	return queue.NewDriver(queue.Config{CheckInterval: cfg.CheckInterval()},
		scanner, orch, handoff, v, a.Store, a.Clock, log), nil
}

// Close releases connections held by the app.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newStore(ctx context.Context, cfg *config.Config) (state.Store, error) {
	switch cfg.State.Backend {
	case config.StateBackendRedis:
		store, err := state.NewRedisStore(ctx, state.RedisConfig{
			Addr:     cfg.State.Redis.Addr,
			Password: cfg.State.Redis.Password,
			DB:       cfg.State.Redis.DB,
			Key:      cfg.State.Redis.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect state store: %w", err)
		}
		return store, nil
	default:
		return state.NewFileStore(cfg.State.Path), nil
	}
}
