// Package pipeline sanitizes attachment media: OCR-driven pixel masking
// for images, native-annotation or raster-rebuild redaction for PDFs, and
// the leak verifier that gates every artifact before it can complete.
package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"

	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
)

// minWordConf is the OCR confidence floor; words below it are noise.
const minWordConf = 30

// wordRange records where one OCR word landed in the concatenated buffer.
type wordRange struct {
	word  client.OCRWord
	start int
	end   int
}

// ImageMeta is the RunAsset meta recorded for a sanitized image.
type ImageMeta struct {
	OCREngine     string            `json:"ocr_engine"`
	WordCount     int               `json:"word_count"`
	PIICount      int               `json:"pii_count"`
	MaskedRegions int               `json:"masked_regions"`
	Policy        redaction.MaskMode `json:"policy"`
}

// ImageResult is a sanitized raster ready for verification and upload.
type ImageResult struct {
	PNG  []byte
	Meta ImageMeta
}

// ImagePipeline masks PII in raster images.
type ImagePipeline struct {
	local    client.OCREngine
	cloud    client.OCREngine
	detector *redaction.Detector
	logger   *zap.Logger
}

// NewImagePipeline constructs the pipeline. cloud may be nil when no
// fallback engine is configured.
func NewImagePipeline(local, cloud client.OCREngine, detector *redaction.Detector, logger *zap.Logger) *ImagePipeline {
	return &ImagePipeline{local: local, cloud: cloud, detector: detector, logger: logger}
}

// Sanitize runs the full image path: decode, OCR, detect, map, mask,
// re-encode.
func (p *ImagePipeline) Sanitize(ctx context.Context, data []byte, policy redaction.Policy) (*ImageResult, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fault.Wrap(fault.CodeInternal, fault.CategoryPermanent, err, "undecodable image")
	}
	rgba := image.NewRGBA(src.Bounds())
	draw.Draw(rgba, rgba.Bounds(), src, src.Bounds().Min, draw.Src)

	// Re-encode before OCR so both engines always see PNG.
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, rgba); err != nil {
		return nil, fault.Wrap(fault.CodeInternal, fault.CategoryInternal, err, "png encode")
	}

	words, engine, err := recognizeWithFallback(ctx, p.local, p.cloud, pngBuf.Bytes(), p.logger)
	if err != nil {
		return nil, err
	}

	kept := filterWords(words)
	text, ranges := concatWords(kept)

	det, err := p.detector.Analyze(ctx, text, policy)
	if err != nil {
		return nil, fault.Wrap(fault.CodeDetectorFailed, fault.CategoryInternal, err, "image text analysis")
	}

	boxes := mapSpansToBoxes(det.Spans, ranges)
	for _, box := range boxes {
		region := padClamp(box, maskPadding, rgba.Bounds())
		switch policy.Mask {
		case redaction.MaskSolid:
			applySolidMask(rgba, region)
		default:
			applyBlurMask(rgba, region, blurRadius)
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, rgba); err != nil {
		return nil, fault.Wrap(fault.CodeInternal, fault.CategoryInternal, err, "png encode")
	}

	return &ImageResult{
		PNG: out.Bytes(),
		Meta: ImageMeta{
			OCREngine:     engine,
			WordCount:     len(kept),
			PIICount:      len(det.Spans),
			MaskedRegions: len(boxes),
			Policy:        policy.Mask,
		},
	}, nil
}

// recognizeWithFallback tries the local engine first, then the cloud
// engine. Both failing is OCR_FAILED.
func recognizeWithFallback(ctx context.Context, local, cloud client.OCREngine, png []byte, logger *zap.Logger) ([]client.OCRWord, string, error) {
	words, err := local.Recognize(ctx, png)
	if err == nil {
		return words, local.Name(), nil
	}
	if cloud == nil {
		return nil, "", fault.Wrap(fault.CodeOCRFailed, fault.CategoryOf(err), err, "local OCR failed, no fallback configured")
	}
	logger.Warn("local OCR failed, falling back to cloud engine", zap.Error(err))

	words, cloudErr := cloud.Recognize(ctx, png)
	if cloudErr != nil {
		return nil, "", fault.Wrap(fault.CodeOCRFailed, fault.CategoryOf(cloudErr), cloudErr, "both OCR engines failed")
	}
	return words, cloud.Name(), nil
}

// filterWords drops words below the confidence floor or with empty text.
func filterWords(words []client.OCRWord) []client.OCRWord {
	var kept []client.OCRWord
	for _, w := range words {
		if w.Conf >= minWordConf && w.Text != "" {
			kept = append(kept, w)
		}
	}
	return kept
}

// concatWords joins words with single spaces and records each word's byte
// range in the joined buffer.
func concatWords(words []client.OCRWord) (string, []wordRange) {
	var (
		buf    bytes.Buffer
		ranges = make([]wordRange, 0, len(words))
	)
	for i, w := range words {
		if i > 0 {
			buf.WriteByte(' ')
		}
		start := buf.Len()
		buf.WriteString(w.Text)
		ranges = append(ranges, wordRange{word: w, start: start, end: buf.Len()})
	}
	return buf.String(), ranges
}

// mapSpansToBoxes maps each PII span to the boxes of every word whose byte
// range intersects it. Intersection, not substring lookup: a span covering
// only part of a word, or straddling two words, still hits both.
func mapSpansToBoxes(spans []redaction.Span, ranges []wordRange) []image.Rectangle {
	var boxes []image.Rectangle
	for _, s := range spans {
		for _, wr := range ranges {
			if s.Start < wr.end && s.End > wr.start {
				w := wr.word
				boxes = append(boxes, image.Rect(w.Left, w.Top, w.Left+w.Width, w.Top+w.Height))
			}
		}
	}
	return boxes
}
