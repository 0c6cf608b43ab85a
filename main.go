package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/banking-router-poc/server/internal/agent/backend"
	"github.com/banking-router-poc/server/internal/agent/graph"
	"github.com/banking-router-poc/server/internal/agent/graph/nodes"
	"github.com/banking-router-poc/server/internal/agent/knowledge"
	"github.com/banking-router-poc/server/internal/agent/memory"
	"github.com/banking-router-poc/server/internal/agent/metrics"
	"github.com/banking-router-poc/server/internal/agent/model"
	"github.com/banking-router-poc/server/internal/agent/repo"
	"github.com/banking-router-poc/server/internal/agent/routing"
	"github.com/banking-router-poc/server/internal/agent/taxonomy"
	"github.com/banking-router-poc/server/internal/api"
	"github.com/banking-router-poc/server/internal/core"
	logx "github.com/banking-router-poc/server/pkg/logger"
	pkgredis "github.com/banking-router-poc/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the service,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config
	HTTP  model.HTTPConfig

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Routing tree
	TaxonomyFile string `envconfig:"TAXONOMY_FILE"`
	Routing      model.RoutingConfig
	Knowledge    model.KnowledgeConfig
	Conversation model.ConversationConfig
	Memory       model.MemoryConfig
	Backend      model.BackendConfig

	// Models
	ClassifierModel model.ClassifierModelConfig
	ResponderModel  model.ResponderModelConfig
	MemoryModel     model.MemoryModelConfig
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to process environment config: %v\n", err)
		os.Exit(1)
	}
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Env), Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(ctx context.Context, cfg AppConfig) error {
	rdb, err := cfg.Redis.NewContext(ctx)
	if err != nil {
		return fmt.Errorf("initialise redis client: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logx.Warn().Err(err).Msg("failed to close redis client")
		}
	}()
	logx.Info().Msg("Connected to Redis successfully")

	tax, err := taxonomy.Load(cfg.TaxonomyFile)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("banking_router")

	store := knowledge.NewStore(cfg.Knowledge, repo.NewRedisKnowledgeRepository(rdb), tax.KnowledgePartitions())
	defer func() {
		if err := store.Close(); err != nil {
			logx.Warn().Err(err).Msg("failed to close knowledge indexes")
		}
	}()
	if err := store.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild knowledge: %w", err)
	}

	chatModels, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Classifier: &cfg.ClassifierModel,
		Responder:  &cfg.ResponderModel,
		Memory:     &cfg.MemoryModel,
	})
	if err != nil {
		return err
	}
	guarded := func(name, modelName string, m einomodel.BaseChatModel) einomodel.BaseChatModel {
		return backend.NewGuard(name, modelName, m, cfg.Backend, backend.WithMetrics(collector))
	}
	classifierModel := guarded("classifier", chatModels.ClassifierModelName, chatModels.Classifier)
	responderModel := guarded("responder", chatModels.ResponderModelName, chatModels.Responder)
	memoryModel := guarded("memory", chatModels.MemoryModelName, chatModels.Memory)

	runner, err := graph.BuildResponderGraph(ctx, graph.GraphConfig{
		ChatModel:    responderModel,
		ModelName:    chatModels.ResponderModelName,
		Conversation: cfg.Conversation,
	})
	if err != nil {
		return fmt.Errorf("build responder graph: %w", err)
	}

	classifiers, saveDecisions, err := newClassifiers(cfg, classifierModel)
	if err != nil {
		return err
	}
	defer saveDecisions()

	pool, err := memory.NewPool(&memory.Config{
		Extractor:  memory.NewLLMExtractor(memoryModel),
		NumWorkers: cfg.Memory.Workers,
		QueueSize:  cfg.Memory.QueueSize,
		JobTimeout: cfg.Memory.ExtractTimeout,
		Metrics:    collector,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	tree, err := routing.Build(tax, routing.Deps{
		Knowledge:   store,
		Runner:      runner,
		Classifiers: classifiers,
		Sessions: func(partition string) model.SessionStore {
			return repo.NewRedisSessionStore(rdb, partition)
		},
		Memories: func(partition string) model.MemoryStore {
			return repo.NewRedisMemoryStore(rdb, partition, cfg.Memory.MaxFacts)
		},
		Queue:             pool,
		Metrics:           collector,
		Routing:           cfg.Routing,
		KnowledgeConfig:   cfg.Knowledge,
		Conversation:      cfg.Conversation,
		GenerationTimeout: cfg.Backend.GenerationTimeout,
	})
	if err != nil {
		return fmt.Errorf("build routing tree: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(tree, tax, collector, cfg.HTTP).Setup(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", srv.Addr).Str("classifier", cfg.Routing.Classifier).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	// deferred: pool drains, decisions are saved, then redis closes
	return nil
}

// newClassifiers selects the classifier implementation. With a decision log
// configured, llm and keyword decisions are recorded and saved on shutdown,
// and replay answers from the log with keyword matching as fallback.
func newClassifiers(cfg AppConfig, m einomodel.BaseChatModel) (routing.ClassifierFactory, func(), error) {
	policy := routing.PolicyFrom(cfg.Routing)
	noop := func() {}

	var base routing.ClassifierFactory
	switch cfg.Routing.Classifier {
	case "llm":
		base = routing.LLMClassifierFactory(m, policy, cfg.Conversation)
	case "keyword":
		keyword := routing.NewKeywordClassifier(policy)
		base = func(string) routing.Classifier { return keyword }
	case "replay":
		f, err := os.Open(cfg.Routing.DecisionLog)
		if err != nil {
			return nil, nil, fmt.Errorf("open decision log: %w", err)
		}
		defer f.Close()
		log, err := routing.LoadDecisionLog(f)
		if err != nil {
			return nil, nil, err
		}
		replay := routing.NewReplayClassifier(log, routing.NewKeywordClassifier(policy))
		logx.Info().Int("decisions", log.Len()).Msg("replaying recorded routing decisions")
		return func(string) routing.Classifier { return replay }, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown ROUTING_CLASSIFIER %q", cfg.Routing.Classifier)
	}

	if cfg.Routing.DecisionLog == "" {
		return base, noop, nil
	}
	log := routing.NewDecisionLog()
	recording := func(title string) routing.Classifier {
		return routing.NewRecorder(base(title), log)
	}
	save := func() {
		f, err := os.Create(cfg.Routing.DecisionLog)
		if err != nil {
			logx.Error().Err(err).Msg("failed to create decision log")
			return
		}
		defer f.Close()
		if err := log.Save(f); err != nil {
			logx.Error().Err(err).Msg("failed to save decision log")
			return
		}
		logx.Info().Int("decisions", log.Len()).Str("path", cfg.Routing.DecisionLog).Msg("routing decisions saved")
	}
	return recording, save, nil
}
