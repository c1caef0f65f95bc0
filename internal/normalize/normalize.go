// Package normalize turns a resource of any supported type into plain text
// ready for keyword extraction. Extraction trouble degrades to empty text; only
// a resource type with no registered strategy is an error.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartnotes/internal/files"
	"smartnotes/internal/store"
)

var ErrUnsupportedType = errors.New("unsupported resource type")

// Content is the normalized form of a resource. Headings are keyword
// candidates found in the raw data and are only set for notes.
type Content struct {
	Text     string
	Headings []string
}

// Blank reports whether there is no usable text.
func (c Content) Blank() bool {
	return strings.TrimSpace(c.Text) == ""
}

type Strategy interface {
	Normalize(ctx context.Context, resource store.Resource) (Content, error)
}

type StrategyFunc func(ctx context.Context, resource store.Resource) (Content, error)

func (f StrategyFunc) Normalize(ctx context.Context, resource store.Resource) (Content, error) {
	return f(ctx, resource)
}

type Normalizer struct {
	strategies map[store.ResourceType]Strategy
}

// New wires the built-in strategies for the four resource types.
func New(source files.Source, wiki *WikiClient) *Normalizer {
	n := &Normalizer{strategies: make(map[store.ResourceType]Strategy)}
	n.Register(store.ResourceMaterial, &materialStrategy{files: source})
	n.Register(store.ResourceTranscript, &transcriptStrategy{files: source})
	n.Register(store.ResourceNotes, StrategyFunc(normalizeNotes))
	n.Register(store.ResourceURL, &urlStrategy{wiki: wiki})
	return n
}

func (n *Normalizer) Register(kind store.ResourceType, strategy Strategy) {
	n.strategies[kind] = strategy
}

func (n *Normalizer) Normalize(ctx context.Context, resource store.Resource) (Content, error) {
	strategy, ok := n.strategies[resource.Type]
	if !ok {
		return Content{}, fmt.Errorf("%w: %q", ErrUnsupportedType, resource.Type)
	}
	return strategy.Normalize(ctx, resource)
}

func collapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
