package redaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubTagger tags fixed names and places by substring lookup.
type stubTagger struct {
	names  []string
	places []string
	err    error
}

func (s *stubTagger) Tag(_ context.Context, text string) ([]Span, error) {
	if s.err != nil {
		return nil, s.err
	}
	var spans []Span
	for _, n := range s.names {
		if i := strings.Index(text, n); i >= 0 {
			spans = append(spans, Span{Kind: KindPerson, Start: i, End: i + len(n), Score: 0.85})
		}
	}
	for _, p := range s.places {
		if i := strings.Index(text, p); i >= 0 {
			spans = append(spans, Span{Kind: KindLocation, Start: i, End: i + len(p), Score: 0.85})
		}
	}
	return spans, nil
}

const multiKindInput = "Contact John Doe at john.doe@example.com, phone +1-555-123-4567, card 4532-1234-5678-9012, bearer eyJabc.eyJdef.sigXYZ"

func TestAnalyzeMultiKind(t *testing.T) {
	d := NewDetector(&stubTagger{names: []string{"John Doe"}}, zaptest.NewLogger(t))
	policy := DefaultPolicy()

	res, err := d.Analyze(context.Background(), multiKindInput, policy)
	require.NoError(t, err)

	counts := CountsByKind(res.Spans)
	assert.Equal(t, 1, counts[KindPerson])
	assert.Equal(t, 1, counts[KindEmail])
	assert.Equal(t, 1, counts[KindPhone])
	assert.Equal(t, 1, counts[KindCreditCard])
	assert.Equal(t, 1, counts[KindAPIKey])

	red := Redact(multiKindInput, res.Spans, policy)
	for _, token := range []string{
		"[NAME_REDACTED]", "[EMAIL_REDACTED]", "[PHONE_REDACTED]",
		"[CREDIT_CARD_REDACTED]", "[API_KEY_REDACTED]",
	} {
		assert.Contains(t, red.RedactedText, token)
	}
	for _, original := range []string{
		"John Doe", "john.doe@example.com", "+1-555-123-4567",
		"4532-1234-5678-9012", "eyJabc.eyJdef.sigXYZ",
	} {
		assert.NotContains(t, red.RedactedText, original)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	d := NewDetector(&stubTagger{names: []string{"John Doe"}}, zaptest.NewLogger(t))
	policy := DefaultPolicy()

	first, err := d.Analyze(context.Background(), multiKindInput, policy)
	require.NoError(t, err)
	second, err := d.Analyze(context.Background(), multiKindInput, policy)
	require.NoError(t, err)

	assert.Equal(t, first.Spans, second.Spans)
	assert.Equal(t, first.LowConfidence, second.LowConfidence)
}

func TestAnalyzeOutputSortedAndNonOverlapping(t *testing.T) {
	d := NewDetector(&stubTagger{names: []string{"John Doe"}}, zaptest.NewLogger(t))

	res, err := d.Analyze(context.Background(), multiKindInput, DefaultPolicy())
	require.NoError(t, err)
	require.NotEmpty(t, res.Spans)

	for i := 1; i < len(res.Spans); i++ {
		assert.GreaterOrEqual(t, res.Spans[i].Start, res.Spans[i-1].End)
	}
}

func TestNERFailureKeepsPatternResults(t *testing.T) {
	d := NewDetector(&stubTagger{err: errors.New("tagger down")}, zaptest.NewLogger(t))

	res, err := d.Analyze(context.Background(), "mail me at a.b@example.com", DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 1, CountsByKind(res.Spans)[KindEmail])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "pattern-only")
}

func TestNilTaggerWarns(t *testing.T) {
	d := NewDetector(nil, zaptest.NewLogger(t))

	res, err := d.Analyze(context.Background(), "a.b@example.com", DefaultPolicy())
	require.NoError(t, err)
	assert.Len(t, res.Spans, 1)
	assert.NotEmpty(t, res.Warnings)
}

func TestConfidenceThresholdDiscards(t *testing.T) {
	d := NewDetector(nil, zaptest.NewLogger(t))
	// hex_key scores 0.65: kept at default threshold, flagged low-confidence,
	// discarded entirely at 0.7.
	text := "trace id deadbeefdeadbeefdeadbeefdeadbeef"

	policy := DefaultPolicy()
	res, err := d.Analyze(context.Background(), text, policy)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Len(t, res.LowConfidence, 1)

	policy.ConfidenceThreshold = 0.7
	res, err = d.Analyze(context.Background(), text, policy)
	require.NoError(t, err)
	assert.Empty(t, res.Spans)
}

func TestRegionalIDsBehindFlag(t *testing.T) {
	d := NewDetector(nil, zaptest.NewLogger(t))
	text := "tax id ABCDE1234F on file"

	res, err := d.Analyze(context.Background(), text, DefaultPolicy())
	require.NoError(t, err)
	assert.Empty(t, res.Spans)

	policy := DefaultPolicy()
	policy.EnableRegionalIDs = true
	res, err = d.Analyze(context.Background(), text, policy)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, KindNationalIDA, res.Spans[0].Kind)
}

func TestMergeHigherScoreWins(t *testing.T) {
	merged := mergeSpans([]Span{
		{Kind: KindAPIKey, Start: 0, End: 27, Score: 0.9},
		{Kind: KindAPIKey, Start: 7, End: 27, Score: 0.95},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, 7, merged[0].Start)
	assert.Equal(t, 0.95, merged[0].Score)
}

func TestMergeTieGoesToEarlierRegisteredKind(t *testing.T) {
	merged := mergeSpans([]Span{
		{Kind: KindCreditCard, Start: 0, End: 12, Score: 0.85},
		{Kind: KindPhone, Start: 0, End: 12, Score: 0.85},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, KindPhone, merged[0].Kind)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	d := NewDetector(nil, zaptest.NewLogger(t))

	res, err := d.Analyze(context.Background(), "   \n\t ", DefaultPolicy())
	require.NoError(t, err)
	assert.Empty(t, res.Spans)
	assert.Empty(t, res.Warnings)
}
