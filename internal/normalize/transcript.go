package normalize

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/asticode/go-astisub"

	"smartnotes/internal/files"
	"smartnotes/internal/store"
)

type transcriptStrategy struct {
	files files.Source
}

func (s *transcriptStrategy) Normalize(ctx context.Context, resource store.Resource) (Content, error) {
	ext := files.Ext(resource.Data)
	if ext != "txt" && ext != "vtt" {
		log.Printf("normalize: transcript %d: unsupported extension %q", resource.ID, ext)
		return Content{}, nil
	}

	data, err := s.files.ReadFile(ctx, resource.Data)
	if err != nil {
		log.Printf("normalize: transcript %d: read file: %v", resource.ID, err)
		return Content{}, nil
	}
	if ext == "txt" {
		return Content{Text: string(data)}, nil
	}

	text, err := VTTText(data)
	if err != nil {
		log.Printf("normalize: transcript %d: %v", resource.ID, err)
		return Content{}, nil
	}
	return Content{Text: text}, nil
}

// VTTText joins the caption lines of a WebVTT document with single spaces.
func VTTText(data []byte) (string, error) {
	subs, err := astisub.ReadFromWebVTT(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse webvtt: %w", err)
	}
	captions := make([]string, 0, len(subs.Items))
	for _, item := range subs.Items {
		for _, line := range item.Lines {
			if caption := collapseSpace(line.String()); caption != "" {
				captions = append(captions, caption)
			}
		}
	}
	return strings.Join(captions, " "), nil
}
