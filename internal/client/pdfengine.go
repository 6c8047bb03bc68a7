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

// Rect is a rectangle in page coordinates (points).
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PDFInfo is the document summary used for classification and limits.
type PDFInfo struct {
	PageCount int    `json:"page_count"`
	Text      string `json:"text"`
}

// PageRedactions is the set of opaque-fill rectangles to burn into one page.
type PageRedactions struct {
	Page  int    `json:"page"`
	Rects []Rect `json:"rects"`
}

// PDFEngine delegates the primitive PDF operations (parse, search, redact,
// rasterize, assemble) to the rendering sidecar. The pipeline owns
// classification, limits, and the per-page loop; the engine only touches
// bytes.
type PDFEngine interface {
	// Info returns the page count and the concatenated text layer.
	Info(ctx context.Context, pdf []byte) (*PDFInfo, error)
	// SearchText returns the bounding rectangles of every occurrence of
	// each needle on the given zero-based page.
	SearchText(ctx context.Context, pdf []byte, page int, needles []string) ([]Rect, error)
	// ApplyRedactions burns opaque fills over the given rectangles,
	// removing the underlying text, and strips document metadata.
	ApplyRedactions(ctx context.Context, pdf []byte, redactions []PageRedactions) ([]byte, error)
	// RenderPage rasterizes one zero-based page to PNG at the given DPI.
	RenderPage(ctx context.Context, pdf []byte, page, dpi int) ([]byte, error)
	// AssembleFromImages builds a new document from PNG pages, in order.
	AssembleFromImages(ctx context.Context, pages [][]byte) ([]byte, error)
}

type httpPDFEngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewPDFEngine constructs the production engine client.
func NewPDFEngine(baseURL string) PDFEngine {
	return &httpPDFEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (e *httpPDFEngine) post(ctx context.Context, path string, body, dest interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("pdf engine: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("pdf engine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.CodeInternal, fault.CategoryTransient, err, "pdf engine unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Wrap(fault.CodeInternal, fault.CategoryTransient, err, "pdf engine: read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cat := fault.CategoryPermanent
		if resp.StatusCode >= 500 {
			cat = fault.CategoryTransient
		}
		return fault.New(fault.CodeInternal, cat, fmt.Sprintf("pdf engine: HTTP %d: %s", resp.StatusCode, raw))
	}
	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fault.Wrap(fault.CodeInternal, fault.CategoryPermanent, err, "pdf engine: decode response")
		}
	}
	return nil
}

func (e *httpPDFEngine) Info(ctx context.Context, pdf []byte) (*PDFInfo, error) {
	var info PDFInfo
	if err := e.post(ctx, "/info", map[string]interface{}{"pdf": pdf}, &info); err != nil {
		return nil, fmt.Errorf("Info: %w", err)
	}
	return &info, nil
}

func (e *httpPDFEngine) SearchText(ctx context.Context, pdf []byte, page int, needles []string) ([]Rect, error) {
	var resp struct {
		Rects []Rect `json:"rects"`
	}
	body := map[string]interface{}{"pdf": pdf, "page": page, "needles": needles}
	if err := e.post(ctx, "/search", body, &resp); err != nil {
		return nil, fmt.Errorf("SearchText: %w", err)
	}
	return resp.Rects, nil
}

func (e *httpPDFEngine) ApplyRedactions(ctx context.Context, pdf []byte, redactions []PageRedactions) ([]byte, error) {
	var resp struct {
		PDF []byte `json:"pdf"`
	}
	body := map[string]interface{}{"pdf": pdf, "redactions": redactions, "strip_metadata": true}
	if err := e.post(ctx, "/redact", body, &resp); err != nil {
		return nil, fmt.Errorf("ApplyRedactions: %w", err)
	}
	return resp.PDF, nil
}

func (e *httpPDFEngine) RenderPage(ctx context.Context, pdf []byte, page, dpi int) ([]byte, error) {
	var resp struct {
		PNG []byte `json:"png"`
	}
	body := map[string]interface{}{"pdf": pdf, "page": page, "dpi": dpi}
	if err := e.post(ctx, "/render", body, &resp); err != nil {
		return nil, fmt.Errorf("RenderPage: %w", err)
	}
	return resp.PNG, nil
}

func (e *httpPDFEngine) AssembleFromImages(ctx context.Context, pages [][]byte) ([]byte, error) {
	var resp struct {
		PDF []byte `json:"pdf"`
	}
	if err := e.post(ctx, "/assemble", map[string]interface{}{"pages": pages}, &resp); err != nil {
		return nil, fmt.Errorf("AssembleFromImages: %w", err)
	}
	return resp.PDF, nil
}
