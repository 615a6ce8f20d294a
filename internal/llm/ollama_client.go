package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
)

const defaultOllamaHost = "http://127.0.0.1:11434"

// OllamaClient 本地 Ollama 对话模型
type OllamaClient struct {
	model       string
	temperature float64
	client      *api.Client
}

func NewOllamaClient(host, model string, temperature float64, timeout time.Duration) (*OllamaClient, error) {
	client, err := newOllamaAPI(host, timeout)
	if err != nil {
		return nil, err
	}
	return &OllamaClient{model: model, temperature: temperature, client: client}, nil
}

func newOllamaAPI(host string, timeout time.Duration) (*api.Client, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = defaultOllamaHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrap(err, "解析 Ollama 地址失败")
	}
	return api.NewClient(base, &http.Client{Timeout: timeout}), nil
}

func (c *OllamaClient) Chat(ctx context.Context, system string, history []Message, input string) (string, error) {
	msgs := BuildMessages(system, history, input)
	apiMsgs := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		apiMsgs = append(apiMsgs, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: apiMsgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": c.temperature},
	}

	var answer strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		answer.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "调用 Ollama 失败")
	}
	return answer.String(), nil
}

// OllamaEmbedder 使用 Ollama /api/embed
type OllamaEmbedder struct {
	model  string
	client *api.Client
}

func NewOllamaEmbedder(host, model string, timeout time.Duration) (*OllamaEmbedder, error) {
	client, err := newOllamaAPI(host, timeout)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{model: model, client: client}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, errors.Wrap(err, "调用 Ollama embed 失败")
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.New("embedding 结果为空")
	}
	return resp.Embeddings[0], nil
}
