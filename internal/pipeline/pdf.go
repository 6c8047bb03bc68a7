package pipeline

import (
	"context"
	"fmt"
	"unicode"

	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
)

const (
	// maxPDFPages and maxPDFBytes are the input limits; violations fail
	// the asset, not the run.
	maxPDFPages = 10
	maxPDFBytes = 10 << 20

	// textLayerThreshold is the non-whitespace character count above which
	// a document is treated as having a usable text layer.
	textLayerThreshold = 100

	// renderDPI is the rasterization resolution for scanned documents.
	renderDPI = 150
)

// PDF redaction methods.
const (
	MethodNative        = "native"
	MethodRasterRebuild = "raster_rebuild"
)

// PDFMeta is the RunAsset meta recorded for a sanitized PDF.
type PDFMeta struct {
	Pages    int    `json:"pages"`
	Method   string `json:"method"`
	PIICount int    `json:"pii_count"`
}

// PDFResult is a sanitized document ready for verification and upload.
type PDFResult struct {
	PDF  []byte
	Meta PDFMeta
}

// PDFPipeline redacts PDFs, natively when a text layer exists and by
// raster rebuild otherwise.
type PDFPipeline struct {
	engine   client.PDFEngine
	images   *ImagePipeline
	detector *redaction.Detector
	logger   *zap.Logger
}

// NewPDFPipeline constructs the pipeline.
func NewPDFPipeline(engine client.PDFEngine, images *ImagePipeline, detector *redaction.Detector, logger *zap.Logger) *PDFPipeline {
	return &PDFPipeline{engine: engine, images: images, detector: detector, logger: logger}
}

// Sanitize enforces input limits, classifies the document, and runs the
// matching redaction path.
func (p *PDFPipeline) Sanitize(ctx context.Context, data []byte, policy redaction.Policy) (*PDFResult, error) {
	if len(data) > maxPDFBytes {
		return nil, fault.New(fault.CodeAssetTooLarge, fault.CategoryPermanent,
			fmt.Sprintf("pdf is %d bytes, limit %d", len(data), maxPDFBytes))
	}

	info, err := p.engine.Info(ctx, data)
	if err != nil {
		return nil, err
	}
	if info.PageCount > maxPDFPages {
		return nil, fault.New(fault.CodePageLimitExceeded, fault.CategoryPermanent,
			fmt.Sprintf("pdf has %d pages, limit %d", info.PageCount, maxPDFPages))
	}

	if countNonWhitespace(info.Text) > textLayerThreshold {
		return p.redactNative(ctx, data, info, policy)
	}
	return p.rasterRebuild(ctx, data, info, policy)
}

// redactNative burns redaction annotations over every occurrence of every
// detected PII substring, page by page, then strips document metadata.
func (p *PDFPipeline) redactNative(ctx context.Context, data []byte, info *client.PDFInfo, policy redaction.Policy) (*PDFResult, error) {
	det, err := p.detector.Analyze(ctx, info.Text, policy)
	if err != nil {
		return nil, fault.Wrap(fault.CodeDetectorFailed, fault.CategoryInternal, err, "pdf text analysis")
	}

	needles := uniqueNeedles(info.Text, det.Spans)
	var redactions []client.PageRedactions
	if len(needles) > 0 {
		for page := 0; page < info.PageCount; page++ {
			rects, err := p.engine.SearchText(ctx, data, page, needles)
			if err != nil {
				return nil, err
			}
			if len(rects) > 0 {
				redactions = append(redactions, client.PageRedactions{Page: page, Rects: rects})
			}
		}
	}

	// Metadata is stripped even when nothing matched.
	out, err := p.engine.ApplyRedactions(ctx, data, redactions)
	if err != nil {
		return nil, err
	}

	return &PDFResult{
		PDF:  out,
		Meta: PDFMeta{Pages: info.PageCount, Method: MethodNative, PIICount: len(det.Spans)},
	}, nil
}

// rasterRebuild renders each page, sanitizes the raster through the image
// pipeline, and assembles a fresh document in page order.
func (p *PDFPipeline) rasterRebuild(ctx context.Context, data []byte, info *client.PDFInfo, policy redaction.Policy) (*PDFResult, error) {
	pages := make([][]byte, 0, info.PageCount)
	piiCount := 0
	for page := 0; page < info.PageCount; page++ {
		raster, err := p.engine.RenderPage(ctx, data, page, renderDPI)
		if err != nil {
			return nil, err
		}
		res, err := p.images.Sanitize(ctx, raster, policy)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		piiCount += res.Meta.PIICount
		pages = append(pages, res.PNG)
	}

	out, err := p.engine.AssembleFromImages(ctx, pages)
	if err != nil {
		return nil, err
	}

	return &PDFResult{
		PDF:  out,
		Meta: PDFMeta{Pages: info.PageCount, Method: MethodRasterRebuild, PIICount: piiCount},
	}, nil
}

func countNonWhitespace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// uniqueNeedles extracts the deduplicated original substrings for the
// detected spans.
func uniqueNeedles(text string, spans []redaction.Span) []string {
	seen := make(map[string]struct{}, len(spans))
	var needles []string
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.End <= s.Start {
			continue
		}
		needle := text[s.Start:s.End]
		if _, ok := seen[needle]; ok {
			continue
		}
		seen[needle] = struct{}{}
		needles = append(needles, needle)
	}
	return needles
}
