package redaction

import "sort"

// SegmentType labels a diff transcript entry.
type SegmentType string

const (
	SegmentUnchanged SegmentType = "unchanged"
	SegmentRedacted  SegmentType = "redacted"
)

// Segment is one entry of the lossless diff transcript. Concatenating all
// segment texts in order reproduces the redacted text exactly.
type Segment struct {
	Type SegmentType `json:"type"`
	Kind Kind        `json:"kind,omitempty"`
	Text string      `json:"text"`
}

// RedactionResult is the redactor's output.
type RedactionResult struct {
	RedactedText string       `json:"redacted_text"`
	Segments     []Segment    `json:"diff_segments"`
	Counts       map[Kind]int `json:"counts_by_kind"`
}

// Redact replaces each span with its kind's placeholder token. Replacement
// is positional: spans are applied in start order and the output is the
// alternation of unchanged and redacted segments. Output is byte-identical
// for identical (text, spans, policy); running Redact over its own output
// with a fresh detection changes nothing, because placeholders match no
// pattern.
func Redact(text string, spans []Span, policy Policy) RedactionResult {
	if len(spans) == 0 {
		res := RedactionResult{RedactedText: text, Counts: map[Kind]int{}}
		if text != "" {
			res.Segments = []Segment{{Type: SegmentUnchanged, Text: text}}
		}
		return res
	}

	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var (
		segments []Segment
		out      []byte
		counts   = make(map[Kind]int)
		last     = 0
	)
	for _, s := range sorted {
		if s.Start < last || s.End > len(text) {
			// Overlapping or out-of-range spans indicate a detector bug
			// upstream; skip rather than corrupt the output.
			continue
		}
		if s.Start > last {
			unchanged := text[last:s.Start]
			segments = append(segments, Segment{Type: SegmentUnchanged, Text: unchanged})
			out = append(out, unchanged...)
		}
		token := policy.Template(s.Kind)
		segments = append(segments, Segment{Type: SegmentRedacted, Kind: s.Kind, Text: token})
		out = append(out, token...)
		counts[s.Kind]++
		last = s.End
	}
	if last < len(text) {
		tail := text[last:]
		segments = append(segments, Segment{Type: SegmentUnchanged, Text: tail})
		out = append(out, tail...)
	}

	return RedactionResult{RedactedText: string(out), Segments: segments, Counts: counts}
}
