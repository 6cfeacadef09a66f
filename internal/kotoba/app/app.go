// Package app wires Kotoba's components from a config.Config and runs their
// background tasks.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/kotoba/internal/kotoba/commands"
	"github.com/bdobrica/kotoba/internal/kotoba/config"
	"github.com/bdobrica/kotoba/internal/kotoba/events"
	"github.com/bdobrica/kotoba/internal/kotoba/intents"
	"github.com/bdobrica/kotoba/internal/kotoba/kv"
	"github.com/bdobrica/kotoba/internal/kotoba/learning"
	"github.com/bdobrica/kotoba/internal/kotoba/matrix"
	"github.com/bdobrica/kotoba/internal/kotoba/memory"
	"github.com/bdobrica/kotoba/internal/kotoba/nlp"
	"github.com/bdobrica/kotoba/internal/kotoba/pipeline"
)

// App owns every long-lived component.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store    kv.Store
	closers  []io.Closer
	source   *intents.Source
	watcher  *intents.Watcher
	registry *commands.Registry
	learning *learning.Store
	sweeper  *learning.Sweeper
	memory   *memory.Manager
	bus      *events.Bus
	engine   *pipeline.Engine
	matrix   *matrix.Client
	channel  *matrix.Channel
	health   *HealthServer
}

// Option adjusts New.
type Option func(*options)

type options struct {
	store    kv.Store
	registry *commands.Registry
	provider nlp.Provider
}

// WithStore uses store instead of opening the configured backend. The caller
// keeps ownership of it.
func WithStore(store kv.Store) Option {
	return func(o *options) { o.store = store }
}

// WithRegistry replaces the built-in command set.
func WithRegistry(r *commands.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithProvider replaces the configured model fallback.
func WithProvider(p nlp.Provider) Option {
	return func(o *options) { o.provider = p }
}

// New validates cfg and builds the application. Nothing runs until Run.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeAll()
		}
	}()

	a.store = o.store
	if a.store == nil {
		store, closer, err := openStore(ctx, cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		a.store = store
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	table := intents.Default()
	if cfg.Intents.File != "" {
		t, err := intents.LoadFile(cfg.Intents.File)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		table = t
	}
	a.source = intents.NewSource(table)
	if cfg.Intents.Watch {
		a.watcher = intents.NewWatcher(cfg.Intents.File, a.source, logger)
	}

	a.registry = o.registry
	if a.registry == nil {
		r, err := commands.DefaultRegistry()
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.registry = r
	}

	a.learning = learning.NewStore(a.store, learning.Config{
		Alpha:         cfg.Learning.Alpha,
		DecayFactor:   cfg.Learning.DecayFactor,
		DecayAfter:    cfg.Learning.DecayAfter,
		FlushInterval: cfg.Learning.FlushInterval,
	}, logger)
	a.sweeper = learning.NewSweeper(a.learning, cfg.Learning.SweepInterval, logger)

	a.memory = memory.NewManager(a.store, memory.Config{
		Capacity:          cfg.Memory.Capacity,
		TopK:              cfg.Memory.TopK,
		Floor:             cfg.Memory.Floor,
		DecayWindow:       cfg.Memory.DecayWindow,
		CompressThreshold: cfg.Memory.CompressThreshold,
		KeepChars:         cfg.Memory.KeepChars,
		FlushInterval:     cfg.Memory.FlushInterval,
	}, similarity(cfg.Embedder, logger), logger)

	a.bus = events.NewBus(cfg.Events.Buffer, logger)
	a.bus.Subscribe(events.LogHandler(logger))

	provider := o.provider
	if provider == nil {
		provider = modelProvider(cfg.Model)
	}
	recOpts := []nlp.RecognizerOption{nlp.WithLogger(logger), nlp.WithAliases(a.registry)}
	if provider != nil {
		recOpts = append(recOpts, nlp.WithProvider(provider,
			nlp.NewRateLimiter(cfg.Model.RateLimit, time.Minute),
			nlp.NewTokenBudget(cfg.Model.DailyBudget)))
	}

	engine, err := pipeline.New(pipeline.Options{
		Source:     a.source,
		Recognizer: nlp.NewRecognizer(recOpts...),
		Dispatcher: commands.NewDispatcher(a.registry, logger),
		Learning:   a.learning,
		Memory:     a.memory,
		Events:     a.bus,
		Logger:     logger,

		RecentWindow: cfg.Pipeline.RecentWindow,
		WakeWords:    cfg.Pipeline.WakeWords,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.engine = engine

	if cfg.Matrix.Enabled() {
		client, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.Matrix.Rooms,
			Store:       a.store,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.matrix = client
		a.channel = matrix.NewChannel(engine, client, cfg.Matrix.RoomTags, logger)
		if cfg.Matrix.AuditRoom != "" {
			a.bus.Subscribe(events.NewMatrixNotifier(client, cfg.Matrix.AuditRoom, logger).Handle)
		}
	}

	if cfg.HTTP.Addr != "" {
		a.health = NewHealthServer(cfg.HTTP.Addr, a, logger)
	}

	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (kv.Store, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := kv.OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("app: %w", err)
		}
		return s, s, nil
	case config.BackendRedis:
		s, err := kv.OpenRedis(ctx, cfg.URL, cfg.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("app: %w", err)
		}
		return s, s, nil
	default:
		return kv.NewMemory(), nil, nil
	}
}

func modelProvider(cfg config.ModelConfig) nlp.Provider {
	pc := nlp.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return nlp.NewOpenAI(pc)
	case config.ProviderAnthropic:
		return nlp.NewAnthropic(pc)
	default:
		return nil
	}
}

func similarity(cfg config.EmbedderConfig, logger *slog.Logger) memory.SimilarityStrategy {
	if cfg.Provider != config.ProviderOpenAI {
		return memory.TokenOverlap{}
	}
	embedder := memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	return memory.NewEmbeddingSimilarity(memory.NewCachingEmbedder(embedder, cfg.CacheSize), logger)
}

func (a *App) Engine() *pipeline.Engine     { return a.engine }
func (a *App) Registry() *commands.Registry { return a.registry }
func (a *App) Intents() *intents.Source     { return a.source }
func (a *App) Memory() *memory.Manager      { return a.memory }
func (a *App) Learning() *learning.Store    { return a.learning }
func (a *App) Events() *events.Bus          { return a.bus }
func (a *App) Config() config.Config        { return a.cfg }

// Stats implements the health server's status view.
func (a *App) Stats() Stats {
	return Stats{
		Intents:         a.source.Table().Len(),
		Commands:        len(a.registry.Names()),
		PendingProfiles: a.learning.Writer().Pending(),
		PendingMemories: a.memory.Writer().Pending(),
		DroppedEvents:   a.bus.Dropped(),
	}
}

// Run starts every background task and blocks until ctx is cancelled or a
// task fails. Persisters flush one last time before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { a.bus.Run(ctx); return nil })
	g.Go(func() error { a.learning.Writer().Run(ctx); return nil })
	g.Go(func() error { a.memory.Writer().Run(ctx); return nil })
	g.Go(func() error { a.sweeper.Run(ctx); return nil })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if a.health != nil {
		g.Go(func() error { return a.health.Run(ctx) })
	}
	if a.matrix != nil {
		g.Go(func() error {
			a.logger.Info("starting Matrix sync", "rooms", len(a.cfg.Matrix.Rooms))
			return a.matrix.Run(ctx, a.channel.Handle)
		})
	}

	a.logger.Info("kotoba is running",
		"intents", a.source.Table().Len(),
		"commands", len(a.registry.Names()),
		"matrix", a.matrix != nil,
	)
	err := g.Wait()
	a.logger.Info("kotoba stopped")
	return err
}

// Close flushes pending writes and releases the store. Call it after Run
// has returned, or instead of Run for one-shot use.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := errors.Join(a.learning.Flush(ctx), a.memory.Flush(ctx))
	return errors.Join(err, a.closeAll())
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
