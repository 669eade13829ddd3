package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/ai"
	"github.com/spigell/jobmail/internal/ai/gemini"
	"github.com/spigell/jobmail/internal/ai/openai"
	"github.com/spigell/jobmail/internal/classifier"
	"github.com/spigell/jobmail/internal/filtering"
	"github.com/spigell/jobmail/internal/index"
	"github.com/spigell/jobmail/internal/locker"
	"github.com/spigell/jobmail/internal/logger"
	"github.com/spigell/jobmail/internal/mailbox"
	"github.com/spigell/jobmail/internal/matcher"
	"github.com/spigell/jobmail/internal/pipeline"
	"github.com/spigell/jobmail/internal/secrets"
	"github.com/spigell/jobmail/internal/storage"
)

// components holds the wired components of one process.
type components struct {
	pipeline *pipeline.Pipeline
	syncer   *pipeline.Syncer
	store    storage.Store
	filters  []filtering.Filter
	closers  []func()
}

func (r *components) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

type oracles struct {
	classification ai.ClassificationOracle
	embedding      ai.EmbeddingOracle
}

// newOracles builds the provider clients behind circuit breakers.
func newOracles(ctx context.Context, cfg *AIConfig, dimension int, log *zap.Logger) (*oracles, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))

	var (
		classification ai.ClassificationOracle
		embedding      ai.EmbeddingOracle
	)

	switch provider {
	case "", "gemini":
		apiKey, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			Value: cfg.APIKey,
			File:  cfg.APIKeyFile,
			Env:   "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.api-key-file or GEMINI_API_KEY)", err)
		}

		generator, err := gemini.NewGenerator(ctx, gemini.Config{
			APIKey:         apiKey,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimension:      dimension,
			MaxRetries:     cfg.MaxRetries,
			Temperature:    cfg.Temperature,
		}, logger.WithOracle(log, "gemini", cfg.Model).With(zap.Int("ai_retry_attempts", cfg.MaxRetries)))
		if err != nil {
			return nil, err
		}

		classification = gemini.NewOracle(generator, cfg.MaxLogLength, log)
		embedding = generator
	case "openai":
		apiKey, err := secrets.Load(secrets.Source{
			Name:  "openai api key",
			Value: cfg.APIKey,
			File:  cfg.APIKeyFile,
			Env:   "OPENAI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.api-key-file or OPENAI_API_KEY)", err)
		}

		client, err := openai.NewClient(openai.Config{
			APIKey:         apiKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimension:      dimension,
			MaxRetries:     cfg.MaxRetries,
			Temperature:    cfg.Temperature,
			MaxLogLength:   cfg.MaxLogLength,
		}, log)
		if err != nil {
			return nil, err
		}

		classification = client
		embedding = client
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	breaker := ai.DefaultBreakerConfig()
	if b := cfg.Breaker; b != nil {
		if b.ConsecutiveFailures > 0 {
			breaker.ConsecutiveFailures = b.ConsecutiveFailures
		}
		if b.Timeout > 0 {
			breaker.Timeout = b.Timeout
		}
		if b.Interval > 0 {
			breaker.Interval = b.Interval
		}
	}

	return &oracles{
		classification: ai.NewGuardedClassifier(classification, breaker, log),
		embedding:      ai.NewGuardedEmbedder(embedding, breaker, log),
	}, nil
}

func newClassifier(oracle ai.ClassificationOracle, config *Config, log *zap.Logger) (*classifier.Classifier, error) {
	return classifier.New(oracle, classifier.Config{
		MaxBodyLength:    config.Classifier.MaxBodyLength,
		MaxLogLength:     config.AI.MaxLogLength,
		SubjectHeuristic: config.Classifier.SubjectHeuristic,
	}, log)
}

func newStore(ctx context.Context, cfg *StorageConfig, log *zap.Logger) (storage.Store, func(), error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		log.Warn("using in-memory storage, records are lost on exit")
		return storage.NewMemory(), func() {}, nil
	case "postgres":
		dsn, err := secrets.Load(secrets.Source{Name: "storage dsn", Value: cfg.DSN, File: cfg.DSNFile})
		if err != nil {
			return nil, nil, err
		}

		db, err := storage.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}

		store := storage.NewPostgres(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func newIndex(ctx context.Context, cfg *IndexConfig, log *zap.Logger) (index.Index, func(), error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		log.Warn("using in-memory candidate index, vectors are lost on exit")
		return index.NewMemory(), func() {}, nil
	case "pgvector":
		dsn, err := secrets.Load(secrets.Source{Name: "index dsn", Value: cfg.DSN, File: cfg.DSNFile})
		if err != nil {
			return nil, nil, err
		}

		pool, err := index.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}

		idx := index.NewPGVector(pool, cfg.Dimension)
		if err := idx.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return idx, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported index driver: %s", cfg.Driver)
	}
}

func newLocker(ctx context.Context, cfg *LockConfig, log *zap.Logger) (locker.Locker, func(), error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "local":
		return locker.NewLocal(), func() {}, nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, nil, errors.New("lock.redis-url is required for the redis driver")
		}

		client, err := locker.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return locker.NewRedis(client, locker.RedisConfig{TTL: cfg.TTL}, log), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock driver: %s", cfg.Driver)
	}
}

// newSources opens the IMAP mailbox of a configured user on demand.
func newSources(config *Config, log *zap.Logger) pipeline.SourceFactory {
	return func(user string) (mailbox.Source, error) {
		u := config.findUser(user)
		if u == nil || u.IMAP == nil {
			return nil, fmt.Errorf("no mailbox configured for %s", user)
		}

		password, err := secrets.Load(secrets.Source{
			Name: "imap password for " + user,
			File: u.PasswordFile,
			Env:  u.PasswordEnv,
		})
		if err != nil {
			return nil, err
		}

		imapCfg := *u.IMAP
		imapCfg.Password = password
		if imapCfg.Username == "" {
			imapCfg.Username = u.Email
		}

		return mailbox.NewIMAP(imapCfg, logger.WithFields(log, zap.String(logger.FieldUser, user)))
	}
}

// newFilters builds the default pre-filter chain minus the disabled names.
func newFilters(cfg filtering.Config, disabled []string, log *zap.Logger) ([]filtering.Filter, error) {
	steps := filtering.Default()
	for _, name := range disabled {
		if !filtering.DisableByName(steps, name, "disabled via flag") {
			log.Warn("unknown filter", zap.String("name", name))
		}
	}

	if err := filtering.Validate(&cfg, steps); err != nil {
		return nil, fmt.Errorf("validating filters: %w", err)
	}
	return steps, nil
}

// newRuntime wires every component described by config.
func newRuntime(ctx context.Context, config *Config, disabledFilters []string, log *zap.Logger) (rt *components, err error) {
	rt = &components{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if err := config.Matching.Validate(); err != nil {
		return nil, fmt.Errorf("matching config: %w", err)
	}

	o, err := newOracles(ctx, config.AI, config.Index.Dimension, log)
	if err != nil {
		return nil, fmt.Errorf("creating ai oracles: %w", err)
	}

	store, closeStore, err := newStore(ctx, config.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}
	rt.closers = append(rt.closers, closeStore)
	rt.store = store

	idx, closeIndex, err := newIndex(ctx, config.Index, log)
	if err != nil {
		return nil, fmt.Errorf("creating candidate index: %w", err)
	}
	rt.closers = append(rt.closers, closeIndex)

	lock, closeLock, err := newLocker(ctx, config.Lock, log)
	if err != nil {
		return nil, fmt.Errorf("creating locker: %w", err)
	}
	rt.closers = append(rt.closers, closeLock)

	cls, err := newClassifier(o.classification, config, log)
	if err != nil {
		return nil, err
	}

	m, err := matcher.New(o.embedding, idx, config.Matching, log)
	if err != nil {
		return nil, err
	}

	rt.pipeline, err = pipeline.New(pipeline.Deps{
		Classifier: cls,
		Matcher:    m,
		Embedder:   o.embedding,
		Index:      idx,
		Store:      store,
		Locker:     lock,
		Logger:     log,
	}, config.Pipeline)
	if err != nil {
		return nil, err
	}

	rt.syncer, err = pipeline.NewSyncer(rt.pipeline, store, newSources(config, log), log)
	if err != nil {
		return nil, err
	}

	rt.filters, err = newFilters(config.Filters, disabledFilters, log)
	if err != nil {
		return nil, err
	}
	rt.syncer.UseFilters(rt.filters)

	return rt, nil
}
