package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
)

// Artifact kinds accepted by the verifier.
const (
	ArtifactText  = "redacted_text"
	ArtifactImage = "redacted_image"
	ArtifactPDF   = "redacted_pdf"
)

// Verification is the gate decision for one artifact.
type Verification struct {
	Passed    bool
	Residuals []redaction.Span
}

// Verifier re-extracts text from a produced artifact and runs the full
// detector over it. The same code path serves ingress and egress scans, so
// no producer can shortcut the gate.
type Verifier struct {
	local    client.OCREngine
	cloud    client.OCREngine
	engine   client.PDFEngine
	detector *redaction.Detector
	logger   *zap.Logger
}

// NewVerifier constructs the verifier.
func NewVerifier(local, cloud client.OCREngine, engine client.PDFEngine, detector *redaction.Detector, logger *zap.Logger) *Verifier {
	return &Verifier{local: local, cloud: cloud, engine: engine, detector: detector, logger: logger}
}

// Verify scans one artifact. Any detected span of an enabled kind fails
// the artifact.
func (v *Verifier) Verify(ctx context.Context, artifact []byte, kind string, policy redaction.Policy) (*Verification, error) {
	var text string
	switch kind {
	case ArtifactText:
		text = string(artifact)
	case ArtifactImage:
		words, _, err := recognizeWithFallback(ctx, v.local, v.cloud, artifact, v.logger)
		if err != nil {
			return nil, err
		}
		text, _ = concatWords(filterWords(words))
	case ArtifactPDF:
		info, err := v.engine.Info(ctx, artifact)
		if err != nil {
			return nil, err
		}
		text = info.Text
	default:
		return nil, fault.New(fault.CodeInternal, fault.CategoryInternal, "unknown artifact kind "+kind)
	}

	det, err := v.detector.Analyze(ctx, text, policy)
	if err != nil {
		return nil, fault.Wrap(fault.CodeDetectorFailed, fault.CategoryInternal, err, "verification scan")
	}

	var residuals []redaction.Span
	for _, s := range det.Spans {
		if policy.KindEnabled(s.Kind) {
			residuals = append(residuals, s)
		}
	}
	if len(residuals) > 0 {
		v.logger.Warn("leak verification failed",
			zap.String("kind", kind),
			zap.Int("residual_spans", len(residuals)),
		)
		return &Verification{Passed: false, Residuals: residuals}, nil
	}
	return &Verification{Passed: true}, nil
}
