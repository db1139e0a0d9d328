package documents

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"baliance.com/gooxml/document"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	MaxFileSize   = 10 * 1024 * 1024
	MaxTextLength = 100000
	truncateNote  = "\n\n[... Document truncated at 100K characters ...]"
)

var (
	ErrUnsupported = errors.New("unsupported document type")
	ErrBinary      = errors.New("file does not contain text")
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true, ".xml": true,
	".log": true, ".yaml": true, ".yml": true, ".ini": true, ".conf": true,
	".cfg": true, ".env": true,
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) (Document, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Document{}, errors.Wrapf(err, "could not stat %s", path)
	}
	name := filepath.Base(path)
	if st.Size() > MaxFileSize {
		return Document{}, tooLarge(name, st.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, errors.Wrapf(err, "could not read %s", path)
	}
	return Parse(name, data)
}

// Parse extracts the text of a file. Text-like files are decoded as UTF-8,
// or UTF-16 when they start with a byte order mark. HTML is reduced to its
// visible text, PDF to the text of its pages and DOCX to its paragraphs.
// Other extensions are read as text if they decode as UTF-8.
func Parse(name string, data []byte) (Document, error) {
	size := int64(len(data))
	if size > MaxFileSize {
		return Document{}, tooLarge(name, size)
	}
	ext := strings.ToLower(filepath.Ext(name))

	var (
		text string
		err  error
	)
	switch {
	case textExtensions[ext]:
		text, err = decodeText(data)
	case ext == ".html" || ext == ".htm":
		text, err = htmlText(data)
	case ext == ".pdf":
		text, err = pdfText(data)
	case ext == ".docx":
		text, err = docxText(data)
	case ext == ".doc":
		err = errors.Wrapf(ErrUnsupported, "%s", name)
	default:
		if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
			err = errors.Wrapf(ErrBinary, "%s", name)
		} else {
			text = string(data)
		}
	}
	if err != nil {
		return Document{}, err
	}

	text = Truncate(text)
	doc := Document{
		ID:        uuid.NewString(),
		Name:      name,
		Content:   text,
		Size:      size,
		Type:      strings.ToUpper(strings.TrimPrefix(ext, ".")),
		CharCount: utf8.RuneCountInString(text),
		Tokens:    CountTokens(text),
		AddedAt:   time.Now(),
	}
	log.Debug().Str("name", name).Str("type", doc.Type).Int("chars", doc.CharCount).Msg("parsed document")
	return doc, nil
}

func tooLarge(name string, size int64) error {
	return errors.Errorf("File %q exceeds 10MB limit (%.1fMB)", name, float64(size)/(1024*1024))
}

// Truncate caps text at MaxTextLength characters and marks the cut.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextLength {
		return text
	}
	return string([]rune(text)[:MaxTextLength]) + truncateNote
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// CountTokens estimates the prompt cost of text with the cl100k encoding.
// It falls back to a characters/4 estimate if the codec is unavailable.
func CountTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("could not load tokenizer")
			return
		}
		codec = c
	})
	if codec == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(ids)
}

func htmlText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "could not parse html")
	}
	doc.Find("script, style, noscript, head").Remove()

	var lines []string
	for _, l := range strings.Split(doc.Text(), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// decodeText honours a UTF-8 or UTF-16 byte order mark and replaces
// invalid UTF-8 sequences.
func decodeText(data []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", errors.Wrap(err, "could not decode text")
	}
	return string(out), nil
}

func pdfText(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			text, err = "", errors.Errorf("malformed pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, "could not open pdf")
	}
	pr, err := r.GetPlainText()
	if err != nil {
		return "", errors.Wrap(err, "could not extract pdf text")
	}
	b, err := io.ReadAll(pr)
	if err != nil {
		return "", errors.Wrap(err, "could not read pdf text")
	}
	return strings.TrimSpace(string(b)), nil
}

// docxText returns one line per paragraph.
func docxText(data []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, "could not open docx")
	}
	var lines []string
	for _, p := range doc.Paragraphs() {
		var b strings.Builder
		for _, r := range p.Runs() {
			b.WriteString(r.Text())
		}
		lines = append(lines, b.String())
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
