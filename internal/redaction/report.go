package redaction

// SpanWarning points at a low-confidence detection without carrying its
// content.
type SpanWarning struct {
	Kind  Kind    `json:"kind"`
	Score float64 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
}

// Report summarizes one run's text redaction for reviewers and for the
// export payload. It carries counts and offsets only, never ticket content.
type Report struct {
	TotalDetections    int          `json:"total_detections"`
	Counts             map[Kind]int `json:"entity_counts"`
	LowConfidenceCount int          `json:"low_confidence_count"`
	LowConfidence      []SpanWarning `json:"low_confidence_warnings,omitempty"`
	Warnings           []string     `json:"warnings,omitempty"`
}

// BuildReport folds a detection result and its redaction into a Report.
func BuildReport(det Result, red RedactionResult) Report {
	rep := Report{
		TotalDetections:    len(det.Spans),
		Counts:             red.Counts,
		LowConfidenceCount: len(det.LowConfidence),
		Warnings:           det.Warnings,
	}
	for _, s := range det.LowConfidence {
		rep.LowConfidence = append(rep.LowConfidence, SpanWarning{
			Kind: s.Kind, Score: s.Score, Start: s.Start, End: s.End,
		})
	}
	return rep
}
