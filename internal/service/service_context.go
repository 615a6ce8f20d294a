package service

import (
	"doc-qa/internal/config"
	"doc-qa/internal/llm"
	"doc-qa/internal/metrics"
	"doc-qa/internal/paths"
	"doc-qa/internal/rag"
	"doc-qa/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ServiceContext struct {
	Config     *config.Config
	Log        logrus.FieldLogger
	DB         *gorm.DB
	Resolver   *paths.Resolver
	Metrics    *metrics.Metrics
	Store      *store.TaskStore
	Ask        *AskService
	Tasks      *TaskService
	Dispatcher *Dispatcher
}

// NewServiceContext 按配置创建模型客户端并组装各服务
func NewServiceContext(cfg *config.Config, conn *gorm.DB, resolver *paths.Resolver, log logrus.FieldLogger) (*ServiceContext, error) {
	chat, embedder, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	return NewServiceContextWithModels(cfg, conn, resolver, chat, embedder, log), nil
}

// NewServiceContextWithModels 使用给定的模型组装，测试里传入假模型
func NewServiceContextWithModels(cfg *config.Config, conn *gorm.DB, resolver *paths.Resolver, chat llm.ChatModel, embedder llm.Embedder, log logrus.FieldLogger) *ServiceContext {
	m := metrics.New()
	st := store.NewTaskStore(conn)
	indexer := rag.NewIndexer(embedder, cfg.LLM.ChunkSize, cfg.LLM.ChunkOverlap, log)
	ask := NewAskService(chat, indexer, resolver, cfg.LLM.TopK, m, log)
	tasks := NewTaskService(st, ask, resolver, cfg.Task.RunTimeout, m, log)

	return &ServiceContext{
		Config:     cfg,
		Log:        log,
		DB:         conn,
		Resolver:   resolver,
		Metrics:    m,
		Store:      st,
		Ask:        ask,
		Tasks:      tasks,
		Dispatcher: NewDispatcher(tasks, m, log),
	}
}
