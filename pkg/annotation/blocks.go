package annotation

import (
	"strings"

	"github.com/go-go-golems/sidenote/pkg/conversation"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockListItem  BlockKind = "list_item"
	BlockTableCell BlockKind = "table_cell"
	BlockHeading   BlockKind = "heading"
	BlockCode      BlockKind = "code"
)

// Block is one rendered unit of a markdown message, reduced to plain text.
type Block struct {
	Kind BlockKind `json:"kind" yaml:"kind"`
	Text string    `json:"text" yaml:"text"`
	// Level is the heading level, or the list nesting depth of a list item.
	Level    int    `json:"level,omitempty" yaml:"level,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	// Row and Column locate a table cell; row 0 is the header row.
	Row    int  `json:"row,omitempty" yaml:"row,omitempty"`
	Column int  `json:"column,omitempty" yaml:"column,omitempty"`
	Header bool `json:"header,omitempty" yaml:"header,omitempty"`
}

// Annotatable reports whether highlights apply to the block. Headings and
// code are always rendered plain.
func (b Block) Annotatable() bool {
	switch b.Kind {
	case BlockParagraph, BlockListItem, BlockTableCell:
		return true
	default:
		return false
	}
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// ExtractBlocks parses a markdown message into its text blocks in document
// order. Inline markup is dropped; soft line breaks become spaces.
func ExtractBlocks(markdownText string) []Block {
	source := []byte(markdownText)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var blocks []Block
	row := -1
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			blocks = append(blocks, Block{Kind: BlockHeading, Text: inlineText(v, source), Level: v.Level})
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			blocks = append(blocks, Block{Kind: BlockCode, Text: codeText(v, source), Language: string(v.Language(source))})
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			blocks = append(blocks, Block{Kind: BlockCode, Text: codeText(v, source)})
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			b := Block{Kind: BlockParagraph, Text: inlineText(v, source)}
			if depth := listDepth(v); depth > 0 {
				b.Kind = BlockListItem
				b.Level = depth
			}
			if b.Text != "" {
				blocks = append(blocks, b)
			}
			return ast.WalkSkipChildren, nil
		case *east.Table:
			row = -1
		case *east.TableHeader, *east.TableRow:
			row++
		case *east.TableCell:
			col := 0
			for s := v.PreviousSibling(); s != nil; s = s.PreviousSibling() {
				col++
			}
			_, header := v.Parent().(*east.TableHeader)
			blocks = append(blocks, Block{
				Kind:   BlockTableCell,
				Text:   inlineText(v, source),
				Row:    row,
				Column: col,
				Header: header,
			})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

func listDepth(n ast.Node) int {
	depth := 0
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == ast.KindListItem {
			depth++
		}
	}
	return depth
}

func codeText(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimRight(b.String(), "\n")
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	writeInline(&b, n, source)
	return strings.TrimSpace(b.String())
}

func writeInline(b *strings.Builder, n ast.Node, source []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.HardLineBreak() {
				b.WriteByte('\n')
			} else if v.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.AutoLink:
			b.Write(v.Label(source))
		case *ast.RawHTML:
		default:
			writeInline(b, c, source)
		}
	}
}

// RenderedBlock is a block with its highlight segments resolved.
type RenderedBlock struct {
	Block    `yaml:",inline"`
	Segments []Segment `json:"segments" yaml:"segments"`
}

// Highlight extracts the blocks of a message and resolves annotation spans
// inside the annotatable ones.
func Highlight(markdownText string, anns []conversation.Annotation) []RenderedBlock {
	blocks := ExtractBlocks(markdownText)
	ret := make([]RenderedBlock, 0, len(blocks))
	for _, b := range blocks {
		rb := RenderedBlock{Block: b}
		if b.Annotatable() && len(anns) > 0 {
			rb.Segments = ResolveSpans(b.Text, anns)
		} else {
			rb.Segments = []Segment{{Text: b.Text}}
		}
		ret = append(ret, rb)
	}
	return ret
}
