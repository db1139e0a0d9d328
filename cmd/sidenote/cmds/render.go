package cmds

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sidenote/pkg/annotation"
	"github.com/go-go-golems/sidenote/pkg/conversation"
)

var (
	highlightStyle = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("220"))
	headingStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("141"))
	roleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	noteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		String()
}

// messageRenderer renders a message with its annotations highlighted. Plain
// output marks highlights as ==text==[n].
type messageRenderer struct {
	styled bool
}

func (r messageRenderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r messageRenderer) segments(segs []annotation.Segment, index map[string]int) string {
	var b strings.Builder
	for _, s := range segs {
		if !s.Highlighted {
			b.WriteString(s.Text)
			continue
		}
		n := index[s.AnnotationID]
		if r.styled {
			b.WriteString(highlightStyle.Render(s.Text))
			b.WriteString(noteStyle.Render(fmt.Sprintf("[%d]", n)))
		} else {
			fmt.Fprintf(&b, "==%s==[%d]", s.Text, n)
		}
	}
	return b.String()
}

// Render returns the annotated message body followed by the numbered
// explanations.
func (r messageRenderer) Render(content string, anns []conversation.Annotation) string {
	if len(anns) == 0 && r.styled {
		out, err := glamour.Render(content, "dark")
		if err == nil {
			return strings.TrimRight(out, "\n")
		}
		log.Debug().Err(err).Msg("could not render markdown, printing it raw")
	}
	if len(anns) == 0 {
		return content
	}

	index := map[string]int{}
	for i, a := range anns {
		index[a.ID] = i + 1
	}

	lines := []string{}
	var tbl tableBuffer
	flushTable := func() {
		if out := tbl.render(r.styled); out != "" {
			lines = append(lines, out)
		}
		tbl = tableBuffer{}
	}

	for _, b := range annotation.Highlight(content, anns) {
		if b.Kind != annotation.BlockTableCell {
			flushTable()
		}
		switch b.Kind {
		case annotation.BlockHeading:
			lines = append(lines, r.style(headingStyle, strings.Repeat("#", b.Level)+" "+b.Text))
		case annotation.BlockCode:
			lines = append(lines, "```"+b.Language)
			lines = append(lines, strings.TrimRight(b.Text, "\n"))
			lines = append(lines, "```")
		case annotation.BlockListItem:
			indent := strings.Repeat("  ", max(b.Level-1, 0))
			lines = append(lines, indent+"- "+r.segments(b.Segments, index))
		case annotation.BlockTableCell:
			if b.Header && b.Row != tbl.row && tbl.started() {
				flushTable()
			}
			tbl.add(b.Row, b.Header, r.segments(b.Segments, index))
		default:
			lines = append(lines, r.segments(b.Segments, index))
		}
	}
	flushTable()

	lines = append(lines, "")
	for i, a := range anns {
		lines = append(lines, r.style(noteStyle, fmt.Sprintf("[%d] %s (%s)", i+1, a.Text, shortID(a.ID))))
		for _, l := range strings.Split(strings.TrimSpace(a.Explanation), "\n") {
			lines = append(lines, "    "+l)
		}
	}
	return strings.Join(lines, "\n")
}

// tableBuffer collects the cells of one markdown table.
type tableBuffer struct {
	headers []string
	rows    [][]string
	row     int
	header  bool
}

func (t *tableBuffer) started() bool {
	return len(t.headers) > 0 || len(t.rows) > 0
}

func (t *tableBuffer) add(row int, header bool, cell string) {
	if header {
		if !t.header || row != t.row {
			t.headers = nil
		}
		t.headers = append(t.headers, cell)
	} else {
		if !t.started() || row != t.row {
			t.rows = append(t.rows, nil)
		}
		t.rows[len(t.rows)-1] = append(t.rows[len(t.rows)-1], cell)
	}
	t.row, t.header = row, header
}

// render draws the table with lipgloss when styled, as markdown otherwise.
func (t *tableBuffer) render(styled bool) string {
	if !t.started() {
		return ""
	}
	if styled {
		return renderTable(t.headers, t.rows)
	}
	var lines []string
	row := func(cells []string) {
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	if len(t.headers) > 0 {
		row(t.headers)
		sep := make([]string, len(t.headers))
		for i := range sep {
			sep[i] = "---"
		}
		row(sep)
	}
	for _, r := range t.rows {
		row(r)
	}
	return strings.Join(lines, "\n")
}

func writeConversation(w io.Writer, c conversation.Conversation, r messageRenderer) error {
	if _, err := fmt.Fprintf(w, "%s\n%s\n\n", r.style(headingStyle, c.Title), r.style(noteStyle, c.ID)); err != nil {
		return err
	}
	for _, m := range c.Messages {
		who := "You"
		body := m.Content
		if m.Role == conversation.RoleAssistant {
			who = "Assistant"
			body = r.Render(m.Content, c.Annotations[m.ID])
		}
		if m.Image != nil {
			body = strings.TrimSpace(fmt.Sprintf("[image %s] %s", m.Image.Name, body))
		}
		header := fmt.Sprintf("%s %s", r.style(roleStyle, who+":"), r.style(noteStyle, shortID(m.ID)))
		if _, err := fmt.Fprintf(w, "%s\n%s\n\n", header, body); err != nil {
			return err
		}
	}
	return nil
}
