package providers

import (
	"bytes"
	"text/template"
	"unicode/utf8"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

const explainTemplate = `Explain the following text concisely in under 150 words. If technical, simplify it.

Selected text: "{{ .Selected }}"

Context: "{{ .Context | trunc .MaxContext }}"

Provide a brief, clear explanation using markdown formatting if helpful.`

var explainPrompt = template.Must(
	template.New("explain").Funcs(TemplateFuncs()).Parse(explainTemplate),
)

// TemplateFuncs is the sprig function map with trunc counting characters
// instead of bytes.
func TemplateFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["trunc"] = TruncateRunes
	return funcs
}

// TruncateRunes keeps the first n characters of s, or the last -n when n is
// negative, like sprig's trunc.
func TruncateRunes(n int, s string) string {
	count := utf8.RuneCountInString(s)
	switch {
	case n >= 0 && count > n:
		return string([]rune(s)[:n])
	case n < 0 && count > -n:
		return string([]rune(s)[count+n:])
	}
	return s
}

// RenderExplainPrompt builds the user message for an explain call, keeping at
// most maxContext characters of context.
func RenderExplainPrompt(selected string, context string, maxContext int) (string, error) {
	if maxContext <= 0 {
		maxContext = DefaultExplainContextChars
	}
	var buf bytes.Buffer
	err := explainPrompt.Execute(&buf, map[string]interface{}{
		"Selected":   selected,
		"Context":    context,
		"MaxContext": maxContext,
	})
	if err != nil {
		return "", errors.Wrap(err, "could not render explain prompt")
	}
	return buf.String(), nil
}
