// Package redaction implements PII detection and text redaction: a
// deterministic regex pattern bank per entity kind, an optional statistical
// NER layer for names and locations, overlap merging, and positional
// placeholder replacement with a lossless diff transcript.
package redaction

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Span is a half-open byte range [Start, End) over the analyzed buffer.
type Span struct {
	Kind  Kind    `json:"kind"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
}

// NERTagger produces PERSON / LOCATION spans from statistical tagging.
// The production implementation is an HTTP client against a model server.
type NERTagger interface {
	Tag(ctx context.Context, text string) ([]Span, error)
}

// patternRule is one regex in the bank with its base confidence score.
// group selects the submatch whose range becomes the span (0 = whole match).
type patternRule struct {
	kind  Kind
	name  string
	re    *regexp.Regexp
	score float64
	group int
}

var patternBank = []patternRule{
	// Email (RFC 5322 subset).
	{KindEmail, "email", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), 0.9, 0},

	// Phone numbers in the common punctuations.
	{KindPhone, "phone_intl_dashed", regexp.MustCompile(`\+1-\d{3}-\d{3}-\d{4}\b`), 0.9, 0},
	{KindPhone, "phone_parens", regexp.MustCompile(`\(\d{3}\)\s*\d{3}-\d{4}\b`), 0.9, 0},
	{KindPhone, "phone_dots", regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{4}\b`), 0.85, 0},
	{KindPhone, "phone_spaces", regexp.MustCompile(`\b\d{3}\s\d{3}\s\d{4}\b`), 0.85, 0},
	{KindPhone, "phone_international", regexp.MustCompile(`\+\d{1,3}\s?\d{2,4}\s?\d{4,5}\s?\d{4,5}\b`), 0.85, 0},
	{KindPhone, "phone_generic", regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`), 0.8, 0},

	// Credit cards.
	{KindCreditCard, "cc_dashed", regexp.MustCompile(`\b\d{4}-\d{4}-\d{4}-\d{4}\b`), 0.85, 0},
	{KindCreditCard, "cc_spaced", regexp.MustCompile(`\b\d{4}\s\d{4}\s\d{4}\s\d{4}\b`), 0.85, 0},
	{KindCreditCard, "cc_partial", regexp.MustCompile(`(?:ending\s+in|last\s+\d+\s+digits?[:\s]+)(\d{4}(?:-\d{4})?)`), 0.9, 1},

	// API keys and tokens.
	{KindAPIKey, "jwt_token", regexp.MustCompile(`\beyJ[A-Za-z0-9\-._~+/]+=*\.eyJ[A-Za-z0-9\-._~+/]+=*\.[A-Za-z0-9\-._~+/]+=*`), 0.95, 0},
	{KindAPIKey, "bearer_token", regexp.MustCompile(`\b[Bb]earer\s+[A-Za-z0-9\-._~+/]+=*`), 0.9, 0},
	{KindAPIKey, "api_key_assign", regexp.MustCompile(`(?i)(?:api[_\-]?key|apikey|api[_\-]?token)\s*[=:]\s*['"]?[A-Za-z0-9\-._~+/]{20,}['"]?`), 0.85, 0},
	{KindAPIKey, "auth_header", regexp.MustCompile(`(?i)(?:authorization|x-api-key)\s*:\s*[A-Za-z0-9\-._~+/]{20,}`), 0.85, 0},
	{KindAPIKey, "hex_key", regexp.MustCompile(`\b[a-fA-F0-9]{32,}\b`), 0.65, 0},
	{KindAPIKey, "long_random", regexp.MustCompile(`\b[A-Za-z0-9]{40,}\b`), 0.6, 0},

	// Regional tax identifiers, behind Policy.EnableRegionalIDs.
	{KindNationalIDA, "national_id_a", regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`), 0.9, 0},
	{KindNationalIDB, "national_id_b", regexp.MustCompile(`\b[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][0-9][Z][0-9A-Z]\b`), 0.9, 0},
}

// Result is the detector's output for one buffer.
type Result struct {
	// Spans is non-overlapping and sorted by Start.
	Spans []Span
	// LowConfidence lists kept spans scoring below the warn threshold.
	LowConfidence []Span
	// Warnings carries diagnostic notes (e.g. NER layer unavailable).
	Warnings []string
}

// Detector runs the pattern bank and the NER layer over a text buffer.
type Detector struct {
	ner    NERTagger
	logger *zap.Logger
}

// NewDetector constructs a Detector. ner may be nil, in which case PERSON
// and LOCATION detection is unavailable and every analysis carries a warning.
func NewDetector(ner NERTagger, logger *zap.Logger) *Detector {
	return &Detector{ner: ner, logger: logger}
}

// Analyze scans text and returns the merged, thresholded span set.
// Equal input produces equal output: candidate collection, merge order, and
// tie-breaking are all fully determined.
func (d *Detector) Analyze(ctx context.Context, text string, policy Policy) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, nil
	}

	var candidates []Span
	for _, rule := range patternBank {
		if !policy.KindEnabled(rule.kind) {
			continue
		}
		for _, m := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*rule.group], m[2*rule.group+1]
			if start < 0 || end <= start {
				continue
			}
			candidates = append(candidates, Span{Kind: rule.kind, Start: start, End: end, Score: rule.score})
		}
	}

	var warnings []string
	if d.ner == nil {
		warnings = append(warnings, "NER layer unavailable; PERSON/LOCATION detection skipped")
	} else if policy.KindEnabled(KindPerson) || policy.KindEnabled(KindLocation) {
		nerSpans, err := d.ner.Tag(ctx, text)
		if err != nil {
			// Pattern detections must survive a NER outage.
			d.logger.Warn("NER tagging failed, continuing with pattern results", zap.Error(err))
			warnings = append(warnings, "NER tagging failed; results are pattern-only")
		} else {
			for _, s := range nerSpans {
				if (s.Kind == KindPerson || s.Kind == KindLocation) && policy.KindEnabled(s.Kind) &&
					s.Start >= 0 && s.End <= len(text) && s.End > s.Start {
					candidates = append(candidates, s)
				}
			}
		}
	}

	kept := candidates[:0]
	for _, s := range candidates {
		if s.Score >= policy.ConfidenceThreshold {
			kept = append(kept, s)
		}
	}

	merged := mergeSpans(kept)

	var low []Span
	for _, s := range merged {
		if s.Score < policy.WarnThreshold {
			low = append(low, s)
		}
	}

	return Result{Spans: merged, LowConfidence: low, Warnings: warnings}, nil
}

// mergeSpans resolves overlaps: the higher score wins, ties go to the
// earlier-registered kind. The survivors are non-overlapping and sorted by
// Start.
func mergeSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return kindRank[a.Kind] < kindRank[b.Kind]
	})

	out := []Span{sorted[0]}
	for _, s := range sorted[1:] {
		cur := &out[len(out)-1]
		if s.Start >= cur.End {
			out = append(out, s)
			continue
		}
		if betterSpan(s, *cur) {
			*cur = s
		}
	}
	return out
}

func betterSpan(a, b Span) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return kindRank[a.Kind] < kindRank[b.Kind]
}

// CountsByKind tallies spans per kind.
func CountsByKind(spans []Span) map[Kind]int {
	counts := make(map[Kind]int)
	for _, s := range spans {
		counts[s.Kind]++
	}
	return counts
}

// Excerpt renders a span range for logs without leaking content.
func Excerpt(s Span) string {
	return fmt.Sprintf("%s[%d:%d)", s.Kind, s.Start, s.End)
}
