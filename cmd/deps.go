package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/ai"
	"github.com/spigell/hr-assistant/internal/ai/gemini"
	"github.com/spigell/hr-assistant/internal/boss"
	"github.com/spigell/hr-assistant/internal/lock"
	"github.com/spigell/hr-assistant/internal/logger"
	"github.com/spigell/hr-assistant/internal/notify"
	"github.com/spigell/hr-assistant/internal/secrets"
	"github.com/spigell/hr-assistant/internal/storage"
	"github.com/spigell/hr-assistant/internal/workflow"
)

const providerGemini = "gemini"

// environment holds what every command needs: config, logger and the database.
type environment struct {
	config  *Config
	logger  *zap.Logger
	store   *storage.CandidateStore
	history *storage.ConversationStore
	closers []func() error
}

func setup() *environment {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	env := &environment{config: config, logger: logger}

	dsn, err := resolveDSN(config.Store)
	if err != nil {
		logger.Fatal("loading store dsn", zap.Error(err),
			zap.String("hint", "set store.dsn, store.dsn-file or HR_STORE_DSN_FILE"),
		)
	}

	db, err := storage.Open(config.Store, dsn, logger)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		env.closers = append(env.closers, sqlDB.Close)
	}

	env.store = storage.NewCandidateStore(db, config.Store.EmbeddingDimensions)
	env.history = storage.NewConversationStore(db)
	return env
}

func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("closing resource", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

// runner wires the workflow collaborators from the config.
func (e *environment) runner(ctx context.Context) (*workflow.Runner, error) {
	cfg := e.config

	wfConfig, deps, err := e.workflowDeps(ctx)
	if err != nil {
		return nil, err
	}

	generator, err := e.generator(ctx)
	if err != nil {
		return nil, err
	}

	assistant := gemini.NewAssistant(
		generator,
		e.history,
		logger.WithCommonFields(e.logger, providerGemini, generator.Model()),
		cfg.AI.Gemini.MaxLogLength,
	)
	assistant.SetPromptOverrides(cfg.AI.Prompt)
	deps.Assistant = assistant

	if cfg.AI.Gemini.Embeddings {
		emb, err := generator.Embedder(cfg.AI.Gemini.EmbeddingModel, cfg.Store.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("building embedder: %w", err)
		}
		deps.Embedder = emb
	}

	return workflow.NewRunner(wfConfig, deps)
}

// overrides builds a runner for manual stage changes. It does not talk to the model.
func (e *environment) overrides() (*workflow.Runner, error) {
	wfConfig, deps, err := e.workflowDeps(context.Background())
	if err != nil {
		return nil, err
	}
	return workflow.NewRunner(wfConfig, deps)
}

func (e *environment) workflowDeps(ctx context.Context) (workflow.Config, workflow.Deps, error) {
	cfg := e.config

	job, err := jobFromConfig(cfg.Job)
	if err != nil {
		return workflow.Config{}, workflow.Deps{}, err
	}

	platform, err := e.platform()
	if err != nil {
		return workflow.Config{}, workflow.Deps{}, err
	}

	notifier, err := e.notifier()
	if err != nil {
		return workflow.Config{}, workflow.Deps{}, err
	}

	locker, closeLocker, err := lock.New(ctx, cfg.Lock)
	if err != nil {
		return workflow.Config{}, workflow.Deps{}, fmt.Errorf("connecting to redis at %s: %w", cfg.Lock.RedisAddr, err)
	}
	e.closers = append(e.closers, closeLocker)

	wfConfig := cfg.Workflow
	wfConfig.Job = job
	wfConfig.Thresholds = cfg.Thresholds

	return wfConfig, workflow.Deps{
		Store:    e.store,
		Platform: platform,
		Notifier: notifier,
		Locker:   locker,
		Logger:   e.logger,
	}, nil
}

// embedder is used by search, which needs the embedding model only.
func (e *environment) embedder(ctx context.Context) (ai.Embedder, error) {
	generator, err := e.generator(ctx)
	if err != nil {
		return nil, err
	}
	return generator.Embedder(e.config.AI.Gemini.EmbeddingModel, e.config.Store.EmbeddingDimensions)
}

func (e *environment) platform() (*boss.Client, error) {
	cfg := e.config.Boss

	var token string
	if strings.TrimSpace(cfg.TokenFile) != "" {
		var err error
		token, err = secrets.Load(secrets.Source{Name: "sidecar token", File: cfg.TokenFile})
		if err != nil {
			return nil, err
		}
	}

	return boss.New(e.logger.With(zap.String("component", "boss")), token, boss.Options{
		APIURL:     cfg.URL,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}), nil
}

func (e *environment) generator(ctx context.Context) (*gemini.Generator, error) {
	cfg := e.config.AI.Gemini

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	genLogger := logger.WithCommonFields(e.logger, providerGemini, cfg.Model).With(
		zap.Int("ai_retry_attempts", cfg.MaxRetries),
	)

	return gemini.NewGenerator(ctx, apiKey, cfg.Model, cfg.MaxRetries, genLogger)
}

func (e *environment) notifier() (notify.Notifier, error) {
	cfg := e.config.Notify

	var token string
	if strings.TrimSpace(cfg.TokenFile) != "" {
		var err error
		token, err = secrets.Load(secrets.Source{Name: "notify token", File: cfg.TokenFile})
		if err != nil {
			return nil, err
		}
	}

	return notify.New(cfg, token, e.logger.With(zap.String("component", "notify")))
}

func jobFromConfig(cfg *JobConfig) (ai.Job, error) {
	job := ai.Job{Title: strings.TrimSpace(cfg.Title), Description: strings.TrimSpace(cfg.Description)}
	if job.Title == "" {
		return job, errors.New("job.title is required")
	}

	if file := strings.TrimSpace(cfg.DescriptionFile); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return job, fmt.Errorf("reading job description: %w", err)
		}
		job.Description = strings.TrimSpace(string(data))
	}
	return job, nil
}

func resolveDSN(cfg storage.Config) (string, error) {
	if strings.TrimSpace(cfg.DSN) == "" && strings.TrimSpace(cfg.DSNFile) == "" {
		if strings.EqualFold(cfg.Driver, storage.DriverSQLite) {
			return "", nil
		}
	}
	return secrets.Load(secrets.Source{Name: "store dsn", Value: cfg.DSN, File: cfg.DSNFile})
}
