package testutil

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"doc-qa/internal/llm"

	"github.com/pkg/errors"
)

// ChatCall 记录一次模型调用
type ChatCall struct {
	System  string
	History []llm.Message
	Input   string
}

// FakeChat 可编排的对话模型：返回固定答案或错误，Block 不为空时阻塞到其关闭或 ctx 结束
type FakeChat struct {
	Answer string
	Err    error
	Block  chan struct{}

	mu    sync.Mutex
	calls []ChatCall
}

func (f *FakeChat) Chat(ctx context.Context, system string, history []llm.Message, input string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ChatCall{
		System:  system,
		History: append([]llm.Message(nil), history...),
		Input:   input,
	})
	f.mu.Unlock()

	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Err != nil {
		return "", f.Err
	}
	return f.Answer, nil
}

func (f *FakeChat) Calls() []ChatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatCall(nil), f.calls...)
}

// BagEmbedder 词袋哈希向量，共享词越多的文本相似度越高
type BagEmbedder struct{}

func (BagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 256)
	vec[0] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?")))
		vec[1+h.Sum32()%255]++
	}
	return vec, nil
}

// FailingEmbedder 每次调用都返回错误
type FailingEmbedder struct{}

func (FailingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding unavailable")
}

// FlakyEmbedder Down 为 true 时返回错误，否则与 BagEmbedder 相同
type FlakyEmbedder struct {
	Down atomic.Bool
}

func (f *FlakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.Down.Load() {
		return nil, errors.New("embedding unavailable")
	}
	return BagEmbedder{}.Embed(ctx, text)
}
