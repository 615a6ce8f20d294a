package llm

import (
	"context"
	"strings"
	"time"

	"doc-qa/internal/config"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 一条对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatModel 带历史的对话模型
type ChatModel interface {
	// Chat system 为空时不发送系统消息；history 按时间升序
	Chat(ctx context.Context, system string, history []Message, input string) (string, error)
}

// Embedder 文本向量化
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BuildMessages system + history + 本轮输入
func BuildMessages(system string, history []Message, input string) []Message {
	msgs := make([]Message, 0, len(history)+2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: input})
	return msgs
}

// New 按配置创建对话模型与向量模型
func New(cfg config.LLMConfig) (ChatModel, Embedder, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	switch cfg.Provider {
	case "openai", "":
		chat := NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.ChatModel, cfg.Temperature, timeout)
		embedder, err := NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.EmbeddingModel, cfg.EmbeddingCacheSize, timeout)
		if err != nil {
			return nil, nil, err
		}
		return chat, embedder, nil
	case "ollama":
		chat, err := NewOllamaClient(cfg.OllamaHost, cfg.ChatModel, cfg.Temperature, timeout)
		if err != nil {
			return nil, nil, err
		}
		embedder, err := NewOllamaEmbedder(cfg.OllamaHost, cfg.EmbeddingModel, timeout)
		if err != nil {
			return nil, nil, err
		}
		return chat, embedder, nil
	default:
		return nil, nil, errors.Errorf("不支持的模型提供方: %s", cfg.Provider)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
