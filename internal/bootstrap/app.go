package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"document-portal/internal/ai"
	"document-portal/internal/analyzer"
	"document-portal/internal/app"
	"document-portal/internal/cache"
	"document-portal/internal/compare"
	"document-portal/internal/config"
	"document-portal/internal/ingest"
	"document-portal/internal/metrics"
	mysqlClient "document-portal/internal/platform/mysql"
	rabbitmqClient "document-portal/internal/platform/rabbitmq"
	redisClient "document-portal/internal/platform/redis"
	"document-portal/internal/rag"
	"document-portal/internal/repository"
	"document-portal/internal/session"
	"document-portal/internal/vectorindex"
	"document-portal/internal/worker"
)

type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Registry   *prometheus.Registry
	MySQL      *gorm.DB
	Redis      *redis.Client
	MQConn     *amqp.Connection
	TurnWorker *worker.TurnPersistWorker

	Documents *app.DocumentService
	Chats     *app.ChatService

	StartedAt time.Time
}

// Core is the document pipeline without the chat and bookkeeping backends.
type Core struct {
	Metrics      *metrics.Metrics
	Locks        *session.Locks
	ChatSessions *session.Manager
	Pipeline     *ingest.Pipeline
	Indexes      *vectorindex.Store
	LLM          *ai.OpenAICompatibleClient
	Chain        *rag.Chain
	Compare      *compare.Engine
	Analyzer     *analyzer.Analyzer
}

// NewCore builds the session, ingestion, index and chain components over the
// configured storage roots. It dials nothing.
func NewCore(cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) *Core {
	m := metrics.New(reg)
	locks := session.NewLocks()

	llm := ai.NewOpenAICompatibleClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		MaxRetries:     cfg.LLM.MaxRetries,
	}, ai.WithLogger(log.Named("ai")), ai.WithMetrics(m))

	return &Core{
		Metrics:      m,
		Locks:        locks,
		ChatSessions: session.NewManager(cfg.Storage.UploadRoot, locks, log.Named("session")),
		Pipeline: ingest.NewPipeline(locks,
			ingest.WithFailFast(cfg.RAG.FailFast),
			ingest.WithLogger(log.Named("ingest")),
			ingest.WithMetrics(m),
		),
		Indexes: vectorindex.NewStore(cfg.Storage.IndexRoot, llm, locks,
			vectorindex.WithIndexName(cfg.Storage.IndexName),
			vectorindex.WithEmbeddingModel(cfg.LLM.EmbeddingModel),
			vectorindex.WithLogger(log.Named("index")),
			vectorindex.WithMetrics(m),
		),
		LLM: llm,
		Chain: rag.NewChain(llm,
			rag.WithTopK(cfg.RAG.TopK),
			rag.WithLogger(log.Named("rag")),
			rag.WithMetrics(m),
		),
		Compare: compare.NewEngine(session.NewManager(cfg.Storage.CompareRoot, locks, log.Named("compare")), llm,
			compare.WithLogger(log.Named("compare")),
			compare.WithMetrics(m),
		),
		Analyzer: analyzer.New(session.NewManager(cfg.Storage.AnalysisRoot, locks, log.Named("analysis")), llm, log.Named("analyzer")),
	}
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	core := NewCore(cfg, log, registry)

	a := &App{Config: cfg, Logger: log, Registry: registry, StartedAt: time.Now()}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), log)
	if err != nil {
		return nil, err
	}
	a.MySQL = mysqlDB

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Redis = redisCli

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.MQConn = mqConn

	messageRepo := repository.NewMessageRepository(mysqlDB)
	a.TurnWorker = worker.NewTurnPersistWorker(mqConn, messageRepo, cfg.RabbitMQ.TurnPersistQueue, log.Named("worker"))
	if err := a.TurnWorker.Start(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("start turn worker failed: %w", err)
	}

	historyCache := cache.NewHistoryCache(redisCli, time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second, 0)
	a.Chats = app.NewChatService(
		messageRepo,
		rabbitmqClient.NewTurnPublisher(mqConn, cfg.RabbitMQ.TurnPersistQueue),
		historyCache,
		cfg.LLM.MaxContextMessage,
		log.Named("chat"),
	)
	a.Documents = app.NewDocumentService(app.DocumentDeps{
		ChatSessions: core.ChatSessions,
		Pipeline:     core.Pipeline,
		Indexes:      core.Indexes,
		Embedder:     core.LLM,
		Chain:        core.Chain,
		Compare:      core.Compare,
		Analyzer:     core.Analyzer,
		Records:      repository.NewSessionRepository(mysqlDB),
		History:      a.Chats,
		Logger:       log.Named("documents"),
	}, app.DocumentDefaults{
		ChunkSize:           cfg.RAG.ChunkSize,
		ChunkOverlap:        cfg.RAG.ChunkOverlap,
		TopK:                cfg.RAG.TopK,
		KeepCompareSessions: cfg.Storage.KeepCompareSessions,
	})
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.TurnWorker != nil {
		a.TurnWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis failed: %w", err))
		}
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq failed: %w", err))
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close mysql failed: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
