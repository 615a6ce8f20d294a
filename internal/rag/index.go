package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"doc-qa/internal/llm"

	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	collectionName = "documents"
	// 并发调用 embedding 的数量
	embedConcurrency = 4
)

var ErrIndexNotFound = errors.New("索引不存在")

// Indexer 负责把任务上传目录构建成持久化的向量索引
type Indexer struct {
	embedder     llm.Embedder
	chunkSize    int
	chunkOverlap int
	log          logrus.FieldLogger
}

func NewIndexer(embedder llm.Embedder, chunkSize, chunkOverlap int, log logrus.FieldLogger) *Indexer {
	return &Indexer{
		embedder:     embedder,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		log:          log.WithField("component", "indexer"),
	}
}

func (ix *Indexer) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return ix.embedder.Embed(ctx, text)
	}
}

// Rebuild 读取 uploadDir 下全部文件并重建 indexDir，旧索引被整体替换；返回片段数
func (ix *Indexer) Rebuild(ctx context.Context, uploadDir, indexDir string) (int, error) {
	docs, err := ix.load(uploadDir)
	if err != nil {
		return 0, err
	}

	// 先在临时目录构建，成功后再替换，避免构建失败时留下半个索引
	building := strings.TrimRight(indexDir, string(filepath.Separator)) + ".building"
	if err := os.RemoveAll(building); err != nil {
		return 0, errors.Wrap(err, "清理临时索引失败")
	}

	db, err := chromem.NewPersistentDB(building, false)
	if err != nil {
		return 0, errors.Wrap(err, "创建索引失败")
	}
	col, err := db.CreateCollection(collectionName, nil, ix.embeddingFunc())
	if err != nil {
		_ = os.RemoveAll(building)
		return 0, errors.Wrap(err, "创建集合失败")
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, embedConcurrency); err != nil {
			_ = os.RemoveAll(building)
			return 0, errors.Wrap(err, "写入索引失败")
		}
	}

	if err := os.RemoveAll(indexDir); err != nil {
		return 0, errors.Wrap(err, "删除旧索引失败")
	}
	if err := os.Rename(building, indexDir); err != nil {
		return 0, errors.Wrap(err, "替换索引失败")
	}
	return len(docs), nil
}

func (ix *Indexer) load(uploadDir string) ([]chromem.Document, error) {
	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		return nil, errors.Wrap(err, "读取上传目录失败")
	}

	var docs []chromem.Document
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(uploadDir, entry.Name())
		text, ok, err := ReadText(path)
		if errors.Is(err, ErrExtractFailed) {
			ix.log.WithError(err).WithField("file", entry.Name()).Warn("跳过无法解析的文档")
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "读取文件失败: %s", entry.Name())
		}
		if !ok {
			ix.log.WithField("file", entry.Name()).Warn("跳过非文本文件")
			continue
		}

		chunks, err := Split(text, ix.chunkSize, ix.chunkOverlap)
		if err != nil {
			return nil, err
		}
		source := SourceName(entry.Name())
		for i, chunk := range chunks {
			docs = append(docs, chromem.Document{
				ID:      fmt.Sprintf("%s#%d", entry.Name(), i),
				Content: chunk,
				Metadata: map[string]string{
					"file":   entry.Name(),
					"source": source,
					"chunk":  fmt.Sprintf("%d", i),
				},
			})
		}
	}
	ix.log.WithField("chunks", len(docs)).Debug("待索引片段")
	return docs, nil
}

// SourceName 去掉落盘时加的 "<file_id>-" 前缀
func SourceName(stored string) string {
	if i := strings.IndexByte(stored, '-'); i > 0 {
		return stored[i+1:]
	}
	return stored
}

// Open 加载已持久化的索引
func (ix *Indexer) Open(indexDir string) (*Index, error) {
	if _, err := os.Stat(indexDir); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexNotFound
		}
		return nil, errors.WithStack(err)
	}
	db, err := chromem.NewPersistentDB(indexDir, false)
	if err != nil {
		return nil, errors.Wrap(err, "加载索引失败")
	}
	col := db.GetCollection(collectionName, ix.embeddingFunc())
	if col == nil {
		return nil, ErrIndexNotFound
	}
	return &Index{col: col}, nil
}

// Fragment 检索到的文档片段
type Fragment struct {
	Source     string
	Content    string
	Similarity float32
}

// Index 一个任务的向量索引
type Index struct {
	col *chromem.Collection
}

func (i *Index) Count() int {
	return i.col.Count()
}

// Query 返回最相近的至多 topK 个片段，按相似度降序
func (i *Index) Query(ctx context.Context, text string, topK int) ([]Fragment, error) {
	n := i.col.Count()
	if topK > n {
		topK = n
	}
	if topK <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	results, err := i.col.Query(ctx, text, topK, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "检索失败")
	}
	out := make([]Fragment, 0, len(results))
	for _, r := range results {
		out = append(out, Fragment{
			Source:     r.Metadata["source"],
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}
