package normalize

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"

	"smartnotes/internal/files"
	"smartnotes/internal/store"
)

type materialStrategy struct {
	files files.Source
}

func (s *materialStrategy) Normalize(ctx context.Context, resource store.Resource) (Content, error) {
	data, err := s.files.ReadFile(ctx, resource.Data)
	if err != nil {
		log.Printf("normalize: material %d: read file: %v", resource.ID, err)
		return Content{}, nil
	}
	text, err := PDFText(data)
	if err != nil {
		log.Printf("normalize: material %d: %v", resource.ID, err)
		return Content{}, nil
	}
	return Content{Text: text}, nil
}

// PDFText concatenates the plain text of every page. Pages that cannot be
// decoded are skipped.
func PDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("open pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if pageText, ok := pageText(reader, i); ok {
			pages = append(pages, pageText)
		}
	}
	return strings.Join(pages, "\n"), nil
}

func pageText(reader *pdf.Reader, index int) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("normalize: pdf page %d: %v", index, r)
			text, ok = "", false
		}
	}()

	page := reader.Page(index)
	if page.V.IsNull() {
		return "", false
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		log.Printf("normalize: pdf page %d: %v", index, err)
		return "", false
	}
	return text, true
}
