package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
)

// httpNERTagger is the production redaction.NERTagger: a thin client for
// the statistical tagging model server.
type httpNERTagger struct {
	baseURL    string
	httpClient *http.Client
}

// NewNERTagger constructs the tagger client.
func NewNERTagger(baseURL string) redaction.NERTagger {
	return &httpNERTagger{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *httpNERTagger) Tag(ctx context.Context, text string) ([]redaction.Span, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("ner client: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/tag", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner client: http do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ner client: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ner client: unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		Entities []struct {
			Kind  string  `json:"kind"`
			Start int     `json:"start"`
			End   int     `json:"end"`
			Score float64 `json:"score"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("ner client: unmarshal response: %w", err)
	}

	var spans []redaction.Span
	for _, e := range parsed.Entities {
		var kind redaction.Kind
		switch e.Kind {
		case "PERSON":
			kind = redaction.KindPerson
		case "LOCATION", "GPE":
			kind = redaction.KindLocation
		default:
			continue
		}
		spans = append(spans, redaction.Span{Kind: kind, Start: e.Start, End: e.End, Score: e.Score})
	}
	return spans, nil
}
