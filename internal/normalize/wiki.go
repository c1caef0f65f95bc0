package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	nethtml "golang.org/x/net/html"

	"smartnotes/internal/store"
)

const DefaultWikiAPIURL = "https://en.wikipedia.org/w/api.php"

var (
	ErrDomainNotAllowed = errors.New("domain not allowed")
	ErrPageMissing      = errors.New("encyclopedia page missing")
)

// WikiClient fetches article extracts from the encyclopedia API.
type WikiClient struct {
	apiURL     string
	httpClient *http.Client
	converter  *converter.Converter
}

func NewWikiClient(apiURL string, httpClient *http.Client) *WikiClient {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DefaultWikiAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &WikiClient{apiURL: apiURL, httpClient: httpClient, converter: newTextConverter()}
}

// newTextConverter renders links as their text and drops images.
func newTextConverter() *converter.Converter {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
	conv.Register.RendererFor("a", converter.TagTypeInline, func(ctx converter.Context, w converter.Writer, n *nethtml.Node) converter.RenderStatus {
		ctx.RenderChildNodes(ctx, w, n)
		return converter.RenderSuccess
	}, converter.PriorityEarly)
	conv.Register.RendererFor("img", converter.TagTypeInline, func(converter.Context, converter.Writer, *nethtml.Node) converter.RenderStatus {
		return converter.RenderSuccess
	}, converter.PriorityEarly)
	return conv
}

// AllowedURL reports whether rawURL points at an encyclopedia article host.
func AllowedURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "wikipedia.org" || strings.HasSuffix(host, ".wikipedia.org")
}

// ArticleTitle returns the final path segment of an article URL.
func ArticleTitle(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	title := path.Base(u.Path)
	if title == "" || title == "/" || title == "." {
		return "", fmt.Errorf("no article title in %q", rawURL)
	}
	return title, nil
}

type extractResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// Extract fetches the article behind rawURL and returns it as plain text.
func (c *WikiClient) Extract(ctx context.Context, rawURL string) (string, error) {
	if !AllowedURL(rawURL) {
		return "", fmt.Errorf("%w: %s", ErrDomainNotAllowed, rawURL)
	}
	title, err := ArticleTitle(rawURL)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("format", "json")
	query.Set("action", "query")
	query.Set("prop", "extracts")
	query.Set("titles", title)
	query.Set("redirects", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "smartnotes-indexer/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch extract: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch extract: HTTP %d", resp.StatusCode)
	}

	var payload extractResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode extract: %w", err)
	}
	if _, missing := payload.Query.Pages["-1"]; missing || len(payload.Query.Pages) == 0 {
		return "", fmt.Errorf("%w: %s", ErrPageMissing, title)
	}

	var extract string
	for _, page := range payload.Query.Pages {
		extract = page.Extract
		break
	}
	text, err := c.converter.ConvertString(extract)
	if err != nil {
		return "", fmt.Errorf("convert extract: %w", err)
	}
	return strings.TrimSpace(text), nil
}

type urlStrategy struct {
	wiki *WikiClient
}

func (s *urlStrategy) Normalize(ctx context.Context, resource store.Resource) (Content, error) {
	if s.wiki == nil || !AllowedURL(resource.Data) {
		return Content{}, nil
	}
	text, err := s.wiki.Extract(ctx, resource.Data)
	if err != nil {
		log.Printf("normalize: url %d: %v", resource.ID, err)
		return Content{}, nil
	}
	return Content{Text: text}, nil
}
