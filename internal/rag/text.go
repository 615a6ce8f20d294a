package rag

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	// 与 embedding 模型一致的分词
	encodingName = "cl100k_base"
)

// ErrExtractFailed PDF/DOCX 等文档无法解析出文字
var ErrExtractFailed = errors.New("解析文档失败")

// ReadText 读取文件并统一转成 UTF-8 文本：文本类文件按探测到的编码解码，
// PDF 与 DOCX 抽取正文；其他类型返回 ok=false
func ReadText(path string) (text string, ok bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	mt := mimetype.Detect(b)
	switch {
	case mt.Is(mimePDF):
		text, err = pdfText(b)
	case mt.Is(mimeDOCX):
		text, err = docxText(b)
	case IsText(mt):
		return DecodeText(b), true, nil
	default:
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(ErrExtractFailed, "%s: %v", mt.String(), err)
	}
	return text, true, nil
}

// IsText text/plain 及其子类型（json、csv、html、xml、markdown 等）
func IsText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// DecodeText 非 UTF-8 内容按探测到的编码转换，探测失败时替换非法字节
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	res, err := chardet.NewTextDetector().DetectBest(b)
	if err == nil && res != nil {
		if enc, err := htmlindex.Get(charsetLabel(res.Charset)); err == nil {
			if out, err := enc.NewDecoder().Bytes(b); err == nil {
				return string(out)
			}
		}
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// chardet 的命名与 WHATWG 标签不完全一致
func charsetLabel(name string) string {
	if strings.EqualFold(name, "GB-18030") {
		return "gb18030"
	}
	return name
}

// pdfText 逐页抽取文字，页与页之间换行
func pdfText(b []byte) (text string, err error) {
	// 畸形文件会让解析器 panic
	defer func() {
		if r := recover(); r != nil {
			text, err = "", errors.Errorf("%v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", err
	}
	fonts := make(map[string]*pdf.Font)
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		s, err := p.GetPlainText(fonts)
		if err != nil {
			return "", errors.Wrapf(err, "第 %d 页", i)
		}
		pages = append(pages, s)
	}
	return DecodeText([]byte(strings.Join(pages, "\n"))), nil
}

// docxText 取出 word/document.xml 中的段落文字
func docxText(b []byte) (string, error) {
	d, err := docx.ReadDocxFromMemory(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", err
	}
	defer d.Close()
	return wordXMLText(d.Editable().GetContent())
}

// wordXMLText w:t 是文字，w:tab/w:br 保留为空白，每个 w:p 结束换行
func wordXMLText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

var (
	encOnce sync.Once
	bpe     *tiktoken.Tiktoken
	bpeErr  error
)

// encoding 词表随二进制一起分发，不在运行时下载
func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		bpe, bpeErr = tiktoken.GetEncoding(encodingName)
		if bpeErr != nil {
			bpeErr = errors.Wrapf(bpeErr, "加载 %s 词表失败", encodingName)
		}
	})
	return bpe, bpeErr
}

// CountTokens 按 cl100k_base 统计 token 数
func CountTokens(text string) (int, error) {
	e, err := encoding()
	if err != nil {
		return 0, err
	}
	return len(e.EncodeOrdinary(text)), nil
}

// Split 按 cl100k_base token 数切分，每片至多 size 个 token，相邻片段重叠 overlap 个 token；
// 尽量在空白或句末处断开，切点不会落在多字节字符中间
func Split(text string, size, overlap int) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" || size <= 0 {
		return nil, nil
	}
	e, err := encoding()
	if err != nil {
		return nil, err
	}
	tokens := e.EncodeOrdinary(text)
	if len(tokens) <= size {
		return []string{text}, nil
	}
	if overlap < 0 {
		overlap = 0
	}

	// offsets[i] 是第 i 个 token 在 text 中的起始字节
	n := len(tokens)
	offsets := make([]int, n+1)
	for i, t := range tokens {
		offsets[i+1] = offsets[i] + len(e.Decode([]int{t}))
	}
	text = e.Decode(tokens)

	clean := func(i int) bool {
		return offsets[i] == len(text) || utf8.RuneStart(text[offsets[i]])
	}
	breakAt := func(i int) bool {
		prev, _ := utf8.DecodeLastRuneInString(text[:offsets[i]])
		next, _ := utf8.DecodeRuneInString(text[offsets[i]:])
		return isBreak(prev) || unicode.IsSpace(next)
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + size
		if end >= n {
			chunks = appendChunk(chunks, text[offsets[start]:])
			break
		}

		cut := 0
		for i := end; i > start+size*4/5; i-- {
			if clean(i) && breakAt(i) {
				cut = i
				break
			}
		}
		for i := end; cut == 0 && i > start; i-- {
			if clean(i) {
				cut = i
			}
		}
		if cut == 0 {
			// 窗口比单个字符的 token 数还小
			for cut = end; cut < n && !clean(cut); cut++ {
			}
		}
		chunks = appendChunk(chunks, text[offsets[start]:offsets[cut]])

		// 下一片也从空白或句末开始
		next := cut - overlap
		for i := next; i > start && i > next-size/5; i-- {
			if clean(i) && breakAt(i) {
				next = i
				break
			}
		}
		for next > start && !clean(next) {
			next--
		}
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks, nil
}

func appendChunk(chunks []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return chunks
	}
	return append(chunks, s)
}

func isBreak(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '.', '!', '?', ';', '。', '！', '？', '；', '，', ',':
		return true
	}
	return false
}
