package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
)

// OCRWord is one recognized word with its pixel bounding box and the
// engine's confidence in [0, 100].
type OCRWord struct {
	Text   string  `json:"text"`
	Left   int     `json:"left"`
	Top    int     `json:"top"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Conf   float64 `json:"conf"`
}

// OCREngine recognizes words in a PNG-encoded image. The image pipeline
// prefers the local engine and falls back to the cloud engine when the
// local one fails.
type OCREngine interface {
	Name() string
	Recognize(ctx context.Context, png []byte) ([]OCRWord, error)
}

type httpOCREngine struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewLocalOCREngine points at the tesseract sidecar.
func NewLocalOCREngine(baseURL string) OCREngine {
	return &httpOCREngine{
		name:    "tesseract",
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// NewCloudOCREngine points at the hosted vision API fallback.
func NewCloudOCREngine(baseURL, apiKey string) OCREngine {
	return &httpOCREngine{
		name:    "cloud-vision",
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (e *httpOCREngine) Name() string { return e.name }

func (e *httpOCREngine) Recognize(ctx context.Context, png []byte) ([]OCRWord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/ocr", bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("ocr client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.CodeOCRFailed, fault.CategoryTransient, err, e.name+" request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.CodeOCRFailed, fault.CategoryTransient, err, e.name+": read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cat := fault.CategoryPermanent
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			cat = fault.CategoryTransient
		}
		return nil, fault.New(fault.CodeOCRFailed, cat, fmt.Sprintf("%s: HTTP %d", e.name, resp.StatusCode))
	}

	var body struct {
		Words []OCRWord `json:"words"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fault.Wrap(fault.CodeOCRFailed, fault.CategoryPermanent, err, e.name+": decode response")
	}
	return body.Words, nil
}
