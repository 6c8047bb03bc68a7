package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
)

func newVerifier(t *testing.T, local client.OCREngine, engine client.PDFEngine) *Verifier {
	t.Helper()
	logger := zaptest.NewLogger(t)
	detector := redaction.NewDetector(nil, logger)
	return NewVerifier(local, nil, engine, detector, logger)
}

func TestVerifyTextCleanPasses(t *testing.T) {
	v := newVerifier(t, &stubOCR{name: "tesseract"}, &fakePDFEngine{})

	res, err := v.Verify(context.Background(), []byte("Contact [EMAIL_REDACTED] for help."), ArtifactText, redaction.DefaultPolicy())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Residuals)
}

func TestVerifyTextResidualFails(t *testing.T) {
	v := newVerifier(t, &stubOCR{name: "tesseract"}, &fakePDFEngine{})

	res, err := v.Verify(context.Background(), []byte("leaked: john.doe@example.com"), ArtifactText, redaction.DefaultPolicy())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Residuals, 1)
	assert.Equal(t, redaction.KindEmail, res.Residuals[0].Kind)
}

func TestVerifyImageReOCRCatchesLeak(t *testing.T) {
	// The OCR read of the "sanitized" image still contains an email, so the
	// mask must have missed it.
	local := &stubOCR{name: "tesseract", words: []client.OCRWord{
		{Text: "john.doe@example.com", Left: 5, Top: 5, Width: 100, Height: 12, Conf: 91},
	}}
	v := newVerifier(t, local, &fakePDFEngine{})

	res, err := v.Verify(context.Background(), encodePNG(t, whiteImage(120, 30)), ArtifactImage, redaction.DefaultPolicy())
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestVerifyImageCleanPasses(t *testing.T) {
	local := &stubOCR{name: "tesseract", words: []client.OCRWord{
		{Text: "nothing", Left: 5, Top: 5, Width: 40, Height: 12, Conf: 91},
		{Text: "here", Left: 50, Top: 5, Width: 30, Height: 12, Conf: 88},
	}}
	v := newVerifier(t, local, &fakePDFEngine{})

	res, err := v.Verify(context.Background(), encodePNG(t, whiteImage(120, 30)), ArtifactImage, redaction.DefaultPolicy())
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestVerifyPDFUsesTextLayer(t *testing.T) {
	engine := &fakePDFEngine{
		infoFn: func(context.Context, []byte) (*client.PDFInfo, error) {
			return &client.PDFInfo{PageCount: 1, Text: "call +1-555-123-4567 now"}, nil
		},
	}
	v := newVerifier(t, &stubOCR{name: "tesseract"}, engine)

	res, err := v.Verify(context.Background(), []byte("%PDF-"), ArtifactPDF, redaction.DefaultPolicy())
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestVerifyDisabledKindIgnored(t *testing.T) {
	v := newVerifier(t, &stubOCR{name: "tesseract"}, &fakePDFEngine{})

	policy := redaction.DefaultPolicy()
	policy.EnabledKinds = []redaction.Kind{redaction.KindPhone}

	res, err := v.Verify(context.Background(), []byte("mail john.doe@example.com"), ArtifactText, redaction.DefaultPolicy())
	require.NoError(t, err)
	assert.False(t, res.Passed)

	res, err = v.Verify(context.Background(), []byte("mail john.doe@example.com"), ArtifactText, policy)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestVerifyUnknownKind(t *testing.T) {
	v := newVerifier(t, &stubOCR{name: "tesseract"}, &fakePDFEngine{})

	_, err := v.Verify(context.Background(), []byte("x"), "mystery", redaction.DefaultPolicy())
	require.Error(t, err)
}
