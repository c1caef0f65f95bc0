package keywords

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Remote calls a keyphrase-model sidecar over HTTP.
type Remote struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	Text      string  `json:"text"`
	NgramMin  int     `json:"ngramMin"`
	NgramMax  int     `json:"ngramMax"`
	TopN      int     `json:"topN"`
	Diversity float64 `json:"diversity"`
}

type extractResponse struct {
	Keywords []struct {
		Phrase string  `json:"phrase"`
		Score  float64 `json:"score"`
	} `json:"keywords"`
}

func (r *Remote) Extract(ctx context.Context, text string) ([]string, error) {
	body, err := json.Marshal(extractRequest{
		Text:      text,
		NgramMin:  1,
		NgramMax:  2,
		TopN:      MaxPhrases,
		Diversity: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("encode extract request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call keyphrase service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("keyphrase service: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode extract response: %w", err)
	}

	phrases := make([]string, 0, len(payload.Keywords))
	for _, keyword := range payload.Keywords {
		phrases = append(phrases, keyword.Phrase)
	}
	return capDistinct(phrases), nil
}
