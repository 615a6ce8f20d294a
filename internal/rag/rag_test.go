package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"doc-qa/internal/testutil"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bagEmbedder 词袋哈希向量，保证同词文本相似度更高
type bagEmbedder struct{}

func (bagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 256)
	vec[0] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?")))
		vec[1+h.Sum32()%255]++
	}
	return vec, nil
}

func newIndexer() *Indexer {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	return NewIndexer(bagEmbedder{}, 200, 20, log)
}

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func TestRebuildAndQuery(t *testing.T) {
	ctx := context.Background()
	upload := t.TempDir()
	indexDir := filepath.Join(t.TempDir(), "index", "1")

	writeFile(t, upload, "1-fruit.txt", []byte("apple banana cherry orchard harvest"))
	writeFile(t, upload, "2-zoo.md", []byte("zebra giraffe lion savanna safari"))
	writeFile(t, upload, "3-blob.bin", []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0x00, 0x00})

	ix := newIndexer()
	n, err := ix.Rebuild(ctx, upload, indexDir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoDirExists(t, indexDir+".building")

	idx, err := ix.Open(indexDir)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Count())

	frags, err := idx.Query(ctx, "where does the zebra live", 3)
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "zoo.md", frags[0].Source)
	assert.Contains(t, frags[0].Content, "zebra")
	assert.GreaterOrEqual(t, frags[0].Similarity, frags[1].Similarity)
}

func TestRebuildReplacesPreviousIndex(t *testing.T) {
	ctx := context.Background()
	upload := t.TempDir()
	indexDir := filepath.Join(t.TempDir(), "7")

	writeFile(t, upload, "1-a.txt", []byte("alpha"))
	ix := newIndexer()
	_, err := ix.Rebuild(ctx, upload, indexDir)
	require.NoError(t, err)

	writeFile(t, upload, "2-b.txt", []byte("beta"))
	writeFile(t, upload, "3-c.txt", []byte("gamma"))
	n, err := ix.Rebuild(ctx, upload, indexDir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	idx, err := ix.Open(indexDir)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Count())
}

func TestRebuildMissingUploadDir(t *testing.T) {
	_, err := newIndexer().Rebuild(context.Background(), filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "idx"))
	assert.Error(t, err)
}

func TestOpenMissingIndex(t *testing.T) {
	ix := newIndexer()

	_, err := ix.Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, ErrIndexNotFound))

	// 目录存在但从未构建过
	_, err = ix.Open(t.TempDir())
	assert.True(t, errors.Is(err, ErrIndexNotFound))
}

func TestQueryEmptyIndex(t *testing.T) {
	ctx := context.Background()
	upload := t.TempDir()
	indexDir := filepath.Join(t.TempDir(), "9")
	writeFile(t, upload, "1-blob.bin", []byte{0x00, 0x01, 0x02, 0x00})

	ix := newIndexer()
	n, err := ix.Rebuild(ctx, upload, indexDir)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	idx, err := ix.Open(indexDir)
	require.NoError(t, err)
	frags, err := idx.Query(ctx, "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestSplit(t *testing.T) {
	chunks, err := Split("   ", 10, 2)
	require.NoError(t, err)
	assert.Nil(t, chunks)

	chunks, err = Split("  short text ", 100, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"short text"}, chunks)

	// "word" 与 " word" 各占一个 token
	text := strings.Repeat("word ", 100)
	chunks, err = Split(text, 50, 10)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		n, err := CountTokens(c)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 50)
		assert.NotEmpty(t, c)
	}
}

func TestSplitOverlapsNeighbours(t *testing.T) {
	words := make([]string, 300)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	chunks, err := Split(strings.Join(words, " "), 60, 15)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	assert.True(t, strings.HasPrefix(chunks[0], "w0 "))
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], " w299"))
	for i := 1; i < len(chunks); i++ {
		// 每片从空白处断开，开头的词一定在上一片里出现过
		first := strings.Fields(chunks[i])[0]
		assert.Contains(t, strings.Fields(chunks[i-1]), first)
	}
}

func TestSplitKeepsRunesWhole(t *testing.T) {
	// 没有空白时也要按 token 切开且不断开汉字
	cn := strings.Repeat("向量检索，", 80)
	chunks, err := Split(cn, 40, 5)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.NotContains(t, c, string(utf8.RuneError))
	}
}

func TestSplitOverlapNotLargerThanChunk(t *testing.T) {
	// 数字按三位一组成 token
	text := strings.Repeat("1234567890", 10)
	chunks, err := Split(text, 10, 50)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	// 重叠不小于窗口时退化为不重叠切分
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestReadTextDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", testutil.PDF("The zebra lives in the savanna."))
	writeFile(t, dir, "b.docx", testutil.DOCX("第一段：斑马", "second paragraph"))
	writeFile(t, dir, "c.pdf", []byte("%PDF-1.4\nnot really a pdf"))

	text, ok, err := ReadText(filepath.Join(dir, "a.pdf"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, text, "The zebra lives in the savanna.")

	text, ok, err = ReadText(filepath.Join(dir, "b.docx"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "第一段：斑马\nsecond paragraph\n", text)

	_, ok, err = ReadText(filepath.Join(dir, "c.pdf"))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrExtractFailed))
}

func TestRebuildIndexesDocuments(t *testing.T) {
	ctx := context.Background()
	upload := t.TempDir()
	indexDir := filepath.Join(t.TempDir(), "3")

	writeFile(t, upload, "1-zoo.pdf", testutil.PDF("The zebra lives in the savanna."))
	writeFile(t, upload, "2-fruit.docx", testutil.DOCX("apple banana cherry orchard"))
	writeFile(t, upload, "3-broken.pdf", []byte("%PDF-1.4\nbroken"))

	ix := newIndexer()
	n, err := ix.Rebuild(ctx, upload, indexDir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	idx, err := ix.Open(indexDir)
	require.NoError(t, err)
	frags, err := idx.Query(ctx, "where does the zebra live", 1)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "zoo.pdf", frags[0].Source)
	assert.Contains(t, frags[0].Content, "zebra")
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "纯文本", DecodeText([]byte("纯文本")))

	latin1 := []byte("Caf\xe9 cr\xe8me br\xfbl\xe9e, na\xefve fa\xe7ade and r\xe9sum\xe9 for the soir\xe9e.")
	out := DecodeText(latin1)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "Caf")
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "report.txt", SourceName("12-report.txt"))
	assert.Equal(t, "my-notes.md", SourceName("3-my-notes.md"))
	assert.Equal(t, "plain", SourceName("plain"))
}
