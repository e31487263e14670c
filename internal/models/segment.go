package models

import "time"

// AdSegment is one parsed advertisement occurrence within a report.
// Segments are immutable once produced; ordering follows the document order
// of the source report.
type AdSegment struct {
	// Text is the raw multi-line block from the report, with identifier
	// tokens already normalized to the display filename.
	Text string `json:"text"`
	// StartSeconds is the (possibly synthesized) start offset, >= 0.
	StartSeconds float64 `json:"start_seconds"`
	// DurationSeconds is 0 when the block carried no recognizable duration.
	DurationSeconds float64 `json:"duration_seconds"`
	// Score is the parsed quality score in [0,1]; HasScore is false when the
	// block carried none.
	Score    float64 `json:"score"`
	HasScore bool    `json:"has_score"`
}

// ReportDocument is the parsed report plus its aggregates, produced once per
// completed job and never mutated afterwards.
type ReportDocument struct {
	SourceFile  string      `json:"source_file"`
	GeneratedAt time.Time   `json:"generated_at"`
	Segments    []AdSegment `json:"segments"`

	SegmentCount int `json:"segment_count"`
	// MeanDuration averages segments with DurationSeconds > 0.
	MeanDuration float64 `json:"mean_duration"`
	// MeanScore averages segments with a parsed score.
	MeanScore float64 `json:"mean_score"`
}
