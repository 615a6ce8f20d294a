package llm

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient 兼容 OpenAI /chat/completions 协议的对话模型
type OpenAIClient struct {
	model       string
	temperature float64
	http        *resty.Client
}

func NewOpenAIClient(baseURL, apiKey, model string, temperature float64, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		model:       model,
		temperature: temperature,
		http:        newRestyClient(baseURL, apiKey, timeout),
	}
}

func newRestyClient(baseURL, apiKey string, timeout time.Duration) *resty.Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return c
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat 调用 /chat/completions（非流式）
func (c *OpenAIClient) Chat(ctx context.Context, system string, history []Message, input string) (string, error) {
	var out chatCompletionResponse
	var apiErr openAIError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatCompletionRequest{
			Model:       c.model,
			Messages:    BuildMessages(system, history, input),
			Temperature: c.temperature,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", errors.Wrap(err, "请求失败")
	}
	if resp.IsError() {
		return "", responseError(resp, apiErr)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("模型没有返回任何结果")
	}
	return out.Choices[0].Message.Content, nil
}

// OpenAIEmbedder 调用 /embeddings，结果按文本缓存
type OpenAIEmbedder struct {
	model string
	http  *resty.Client
	cache *lru.Cache[string, []float32]
}

func NewOpenAIEmbedder(baseURL, apiKey, model string, cacheSize int, timeout time.Duration) (*OpenAIEmbedder, error) {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "创建缓存失败")
	}
	return &OpenAIEmbedder{
		model: model,
		http:  newRestyClient(baseURL, apiKey, timeout),
		cache: cache,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	var out embeddingResponse
	var apiErr openAIError
	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(embeddingRequest{Model: e.model, Input: []string{text}}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/embeddings")
	if err != nil {
		return nil, errors.Wrap(err, "请求失败")
	}
	if resp.IsError() {
		return nil, responseError(resp, apiErr)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding 结果为空")
	}

	vec := out.Data[0].Embedding
	e.cache.Add(text, vec)
	return vec, nil
}

func responseError(resp *resty.Response, apiErr openAIError) error {
	if apiErr.Error.Message != "" {
		return errors.Errorf("API返回错误: %d, %s", resp.StatusCode(), apiErr.Error.Message)
	}
	// 无法解析时返回原始 body（截取前500字符避免过长）
	return errors.Errorf("API返回错误: %d, %s", resp.StatusCode(), truncate(resp.String(), 500))
}
