package normalize

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"log"
	"strings"

	"github.com/yuin/goldmark"
	nethtml "golang.org/x/net/html"

	"smartnotes/internal/store"
)

var markdown = goldmark.New()

func normalizeNotes(_ context.Context, resource store.Resource) (Content, error) {
	content := Content{Headings: Headings(resource.Data)}

	text, err := MarkdownText(html.UnescapeString(resource.Data))
	if err != nil {
		log.Printf("normalize: notes %d: %v", resource.ID, err)
		return content, nil
	}
	content.Text = text
	return content, nil
}

// MarkdownText renders markdown to HTML and returns its visible text.
func MarkdownText(source string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return HTMLText(&buf)
}

var hiddenElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
}

// HTMLText extracts the text nodes of an HTML document, dropping the content
// of script-like elements, and collapses runs of whitespace.
func HTMLText(r io.Reader) (string, error) {
	tokenizer := nethtml.NewTokenizer(r)
	var out strings.Builder
	hidden := 0
	for {
		switch tokenizer.Next() {
		case nethtml.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return "", fmt.Errorf("tokenize html: %w", err)
			}
			return collapseSpace(out.String()), nil
		case nethtml.StartTagToken:
			name, _ := tokenizer.TagName()
			if _, ok := hiddenElements[string(name)]; ok {
				hidden++
			} else if isBlock(string(name)) {
				out.WriteByte(' ')
			}
		case nethtml.EndTagToken:
			name, _ := tokenizer.TagName()
			if _, ok := hiddenElements[string(name)]; ok && hidden > 0 {
				hidden--
			} else if isBlock(string(name)) {
				out.WriteByte(' ')
			}
		case nethtml.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "br" || string(name) == "hr" {
				out.WriteByte(' ')
			}
		case nethtml.TextToken:
			if hidden == 0 {
				out.Write(tokenizer.Text())
			}
		}
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "hr", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6",
		"blockquote", "pre", "table", "tr", "td", "th", "section", "article":
		return true
	}
	return false
}
