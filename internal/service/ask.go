package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"doc-qa/internal/llm"
	"doc-qa/internal/metrics"
	"doc-qa/internal/model"
	"doc-qa/internal/paths"
	"doc-qa/internal/rag"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrNoConversation 任务没有任何一轮问题，无法生成回答
var ErrNoConversation = errors.New("任务没有问题")

const (
	ModeChat = "chat"
	ModeAsk  = "ask"
)

const askSystemPrompt = `You are an AI assistant helping a human to find information in a collection of documents.
You are given a question and a collection of documents.
You need to find the best answer to the question from the given collection of documents.
Your conversation with the human is recorded in the chat history.

Documents:
%s

Now continue the conversation with the human. If you do not know the answer, say "I don't know".`

// AskService 索引构建与模型问答
type AskService struct {
	chat     llm.ChatModel
	indexer  *rag.Indexer
	resolver *paths.Resolver
	topK     int
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	// 同一任务的并发重建合并为一次
	group singleflight.Group
}

func NewAskService(chat llm.ChatModel, indexer *rag.Indexer, resolver *paths.Resolver, topK int, m *metrics.Metrics, log logrus.FieldLogger) *AskService {
	if topK <= 0 {
		topK = 3
	}
	return &AskService{
		chat:     chat,
		indexer:  indexer,
		resolver: resolver,
		topK:     topK,
		metrics:  m,
		log:      log.WithField("component", "ask"),
	}
}

// Rebuild 重建任务的索引，返回片段数
func (s *AskService) Rebuild(ctx context.Context, taskID uint) (int, error) {
	v, err, _ := s.group.Do(strconv.FormatUint(uint64(taskID), 10), func() (interface{}, error) {
		uploadDir, err := s.resolver.UploadDir(taskID)
		if err != nil {
			return 0, err
		}
		if _, err := s.resolver.IndexRoot(); err != nil {
			return 0, err
		}
		return s.indexer.Rebuild(ctx, uploadDir, s.resolver.IndexPath(taskID))
	})
	if err != nil {
		s.metrics.Reindexes.WithLabelValues("failure").Inc()
		return 0, err
	}
	s.metrics.Reindexes.WithLabelValues("success").Inc()
	return v.(int), nil
}

// Reindex 重建索引；失败只记日志，不影响调用方
func (s *AskService) Reindex(ctx context.Context, taskID uint) {
	log := s.log.WithField("task_id", taskID)
	n, err := s.Rebuild(ctx, taskID)
	if err != nil {
		log.WithError(err).Error("重建索引失败")
		return
	}
	log.WithField("chunks", n).Debug("索引已重建")
}

// ToChatData 按 generated_at 升序排列，最后一轮的问题作为输入，之前的轮次作为历史；
// 未回答的轮次只保留问题
func ToChatData(turns []model.TaskConversation) (string, []llm.Message, error) {
	if len(turns) == 0 {
		return "", nil, ErrNoConversation
	}
	sorted := make([]model.TaskConversation, len(turns))
	copy(sorted, turns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GeneratedAt.Before(sorted[j].GeneratedAt)
	})

	last := len(sorted) - 1
	history := make([]llm.Message, 0, 2*last)
	for _, turn := range sorted[:last] {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: turn.Question})
		if turn.Answer != nil {
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: *turn.Answer})
		}
	}
	return sorted[last].Question, history, nil
}

// RunChat 不检索文档，直接带历史对话
func (s *AskService) RunChat(ctx context.Context, turns []model.TaskConversation, taskID uint) (string, error) {
	input, history, err := ToChatData(turns)
	if err != nil {
		return "", err
	}
	answer, err := s.chat.Chat(ctx, "", history, input)
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"task_id": taskID, "mode": ModeChat}).Debugf("answer: %s", answer)
	return answer, nil
}

// RunAsk 从任务索引中检索最相关的片段，再带历史回答
func (s *AskService) RunAsk(ctx context.Context, turns []model.TaskConversation, taskID uint) (string, error) {
	input, history, err := ToChatData(turns)
	if err != nil {
		return "", err
	}

	idx, err := s.openIndex(ctx, taskID)
	if err != nil {
		return "", err
	}
	fragments, err := idx.Query(ctx, input, s.topK)
	if err != nil {
		return "", err
	}

	answer, err := s.chat.Chat(ctx, buildAskPrompt(fragments), history, input)
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"task_id":   taskID,
		"mode":      ModeAsk,
		"fragments": len(fragments),
	}).Debugf("answer: %s", answer)
	return answer, nil
}

// openIndex 索引缺失（例如上传后的重建失败了）时先补建一次
func (s *AskService) openIndex(ctx context.Context, taskID uint) (*rag.Index, error) {
	idx, err := s.indexer.Open(s.resolver.IndexPath(taskID))
	if errors.Is(err, rag.ErrIndexNotFound) {
		s.log.WithField("task_id", taskID).Warn("索引不存在，重新构建")
		if _, err := s.Rebuild(ctx, taskID); err != nil {
			return nil, errors.Wrapf(err, "重建任务 %d 的索引失败", taskID)
		}
		idx, err = s.indexer.Open(s.resolver.IndexPath(taskID))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "打开任务 %d 的索引失败", taskID)
	}
	return idx, nil
}

// Answer 没有文件时直接对话，否则检索文档后回答；每次运行都重新判断
func (s *AskService) Answer(ctx context.Context, detail *model.TaskDetail) (string, error) {
	mode := ModeAsk
	if len(detail.Files) == 0 {
		mode = ModeChat
	}

	start := time.Now()
	defer func() {
		s.metrics.TaskRunDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	if mode == ModeChat {
		return s.RunChat(ctx, detail.Conversations, detail.ID)
	}
	return s.RunAsk(ctx, detail.Conversations, detail.ID)
}

func buildAskPrompt(fragments []rag.Fragment) string {
	var b strings.Builder
	for i, f := range fragments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, f.Source, f.Content)
	}
	if b.Len() == 0 {
		b.WriteString("(no documents)")
	}
	return fmt.Sprintf(askSystemPrompt, b.String())
}
