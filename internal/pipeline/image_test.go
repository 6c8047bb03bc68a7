package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
)

type stubOCR struct {
	name  string
	words []client.OCRWord
	err   error
	calls int
}

func (s *stubOCR) Name() string { return s.name }

func (s *stubOCR) Recognize(_ context.Context, _ []byte) ([]client.OCRWord, error) {
	s.calls++
	return s.words, s.err
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFilterWordsDropsLowConfidence(t *testing.T) {
	words := []client.OCRWord{
		{Text: "hello", Conf: 90},
		{Text: "noise", Conf: 12},
		{Text: "", Conf: 95},
		{Text: "world", Conf: 30},
	}
	kept := filterWords(words)
	require.Len(t, kept, 2)
	assert.Equal(t, "hello", kept[0].Text)
	assert.Equal(t, "world", kept[1].Text)
}

func TestConcatWordsRanges(t *testing.T) {
	words := []client.OCRWord{
		{Text: "contact"},
		{Text: "me:"},
		{Text: "a@b.io"},
	}
	text, ranges := concatWords(words)
	require.Equal(t, "contact me: a@b.io", text)
	require.Len(t, ranges, 3)
	for _, wr := range ranges {
		assert.Equal(t, wr.word.Text, text[wr.start:wr.end])
	}
}

func TestMapSpansToBoxesIntersection(t *testing.T) {
	words := []client.OCRWord{
		{Text: "alpha", Left: 0, Top: 0, Width: 50, Height: 10},  // bytes 0..5
		{Text: "beta", Left: 60, Top: 0, Width: 40, Height: 10},  // bytes 6..10
		{Text: "gamma", Left: 110, Top: 0, Width: 50, Height: 10}, // bytes 11..16
	}
	_, ranges := concatWords(words)

	// Span straddling the end of "alpha" and all of "beta" maps both boxes.
	boxes := mapSpansToBoxes([]redaction.Span{{Start: 3, End: 10}}, ranges)
	require.Len(t, boxes, 2)
	assert.Equal(t, image.Rect(0, 0, 50, 10), boxes[0])
	assert.Equal(t, image.Rect(60, 0, 100, 10), boxes[1])

	// Span covering only part of one word still maps it.
	boxes = mapSpansToBoxes([]redaction.Span{{Start: 12, End: 14}}, ranges)
	require.Len(t, boxes, 1)
	assert.Equal(t, image.Rect(110, 0, 160, 10), boxes[0])

	// Span landing on the joining space maps nothing.
	boxes = mapSpansToBoxes([]redaction.Span{{Start: 5, End: 6}}, ranges)
	assert.Empty(t, boxes)
}

func TestImagePipelineSanitizeMasksEmail(t *testing.T) {
	local := &stubOCR{name: "tesseract", words: []client.OCRWord{
		{Text: "Reach", Left: 10, Top: 10, Width: 30, Height: 12, Conf: 92},
		{Text: "john.doe@example.com", Left: 50, Top: 10, Width: 120, Height: 12, Conf: 95},
	}}
	detector := redaction.NewDetector(nil, zaptest.NewLogger(t))
	p := NewImagePipeline(local, nil, detector, zaptest.NewLogger(t))

	policy := redaction.DefaultPolicy()
	policy.Mask = redaction.MaskSolid

	res, err := p.Sanitize(context.Background(), encodePNG(t, whiteImage(200, 40)), policy)
	require.NoError(t, err)

	assert.Equal(t, "tesseract", res.Meta.OCREngine)
	assert.Equal(t, 2, res.Meta.WordCount)
	assert.Equal(t, 1, res.Meta.PIICount)
	assert.Equal(t, 1, res.Meta.MaskedRegions)

	out, err := png.Decode(bytes.NewReader(res.PNG))
	require.NoError(t, err)
	rgba := out.(*image.RGBA)

	// Inside the email box, black. The non-PII word stays white.
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, rgba.RGBAAt(100, 16))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, rgba.RGBAAt(15, 16))
}

func TestImagePipelineCloudFallback(t *testing.T) {
	local := &stubOCR{name: "tesseract", err: errors.New("tesseract crashed")}
	cloud := &stubOCR{name: "cloud-vision", words: []client.OCRWord{
		{Text: "nothing", Left: 5, Top: 5, Width: 40, Height: 10, Conf: 88},
	}}
	detector := redaction.NewDetector(nil, zaptest.NewLogger(t))
	p := NewImagePipeline(local, cloud, detector, zaptest.NewLogger(t))

	res, err := p.Sanitize(context.Background(), encodePNG(t, whiteImage(80, 30)), redaction.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, "cloud-vision", res.Meta.OCREngine)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, cloud.calls)
}

func TestImagePipelineBothEnginesFail(t *testing.T) {
	local := &stubOCR{name: "tesseract", err: errors.New("crash")}
	cloud := &stubOCR{name: "cloud-vision", err: errors.New("quota")}
	detector := redaction.NewDetector(nil, zaptest.NewLogger(t))
	p := NewImagePipeline(local, cloud, detector, zaptest.NewLogger(t))

	_, err := p.Sanitize(context.Background(), encodePNG(t, whiteImage(80, 30)), redaction.DefaultPolicy())
	require.Error(t, err)
	assert.Equal(t, fault.CodeOCRFailed, fault.CodeOf(err))
}

func TestImagePipelineUndecodableInput(t *testing.T) {
	detector := redaction.NewDetector(nil, zaptest.NewLogger(t))
	p := NewImagePipeline(&stubOCR{name: "tesseract"}, nil, detector, zaptest.NewLogger(t))

	_, err := p.Sanitize(context.Background(), []byte("not an image"), redaction.DefaultPolicy())
	require.Error(t, err)
	assert.Equal(t, fault.CategoryPermanent, fault.CategoryOf(err))
}
