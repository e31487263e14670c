package report

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"advision/internal/models"
)

// Grammar v1 of the analysis report. Blocks are separated by blank lines;
// inside a block the labels below are recognized. Blocks matching nothing
// are kept verbatim with duration 0 so no report content is ever lost.
var (
	blockSplitRe = regexp.MustCompile(`\n[ \t]*\n`)
	// hex/uuid-ish identifier followed by a media extension, e.g. the
	// server-assigned "abc123-def.mp4" names in report text.
	mediaTokenRe = regexp.MustCompile(`\b[0-9a-fA-F][0-9a-fA-F-]{5,}\.(?:mp4|avi|mov|mkv|webm)\b`)
	durationRe   = regexp.MustCompile(`(?i)duration:\s*([0-9]+(?:\.[0-9]+)?)\s*sec`)
	startRe      = regexp.MustCompile(`(?i)start:\s*([0-9]+(?:\.[0-9]+)?)\s*sec`)
	scoreRe      = regexp.MustCompile(`(?i)score:?\s*([0-9]+(?:\.[0-9]+)?)`)
)

// Synthetic timeline constants, used when the report carries no explicit
// start times: the first ad is assumed at 2s, consecutive ads are separated
// by a fixed 4s gap.
const (
	syntheticFirstStart = 2.0
	syntheticGap        = 4.0
)

// Parse converts raw report text into ordered segments. Identifier tokens in
// the text are replaced with displayFilename so the rendered report matches
// the file the caller actually uploaded. Parse never fails; malformed blocks
// come back verbatim.
func Parse(raw, displayFilename string) []models.AdSegment {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	var segments []models.AdSegment
	cursor := syntheticFirstStart

	for _, block := range blockSplitRe.Split(raw, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if displayFilename != "" {
			block = mediaTokenRe.ReplaceAllString(block, displayFilename)
		}

		seg := models.AdSegment{Text: block}
		if m := durationRe.FindStringSubmatch(block); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 {
				seg.DurationSeconds = v
			}
		}
		if m := scoreRe.FindStringSubmatch(block); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 1 {
				seg.Score = v
				seg.HasScore = true
			}
		}
		if m := startRe.FindStringSubmatch(block); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 {
				seg.StartSeconds = v
			}
		} else {
			seg.StartSeconds = cursor
		}
		// The cursor always trails the last emitted segment, explicit or not.
		cursor = seg.StartSeconds + seg.DurationSeconds + syntheticGap

		segments = append(segments, seg)
	}
	return segments
}

// Summarize assembles the immutable report document with its aggregates.
// Means skip segments without the relevant value so an empty or unparsed
// report never divides by zero.
func Summarize(segments []models.AdSegment, sourceFile string, now time.Time) models.ReportDocument {
	doc := models.ReportDocument{
		SourceFile:   sourceFile,
		GeneratedAt:  now,
		Segments:     segments,
		SegmentCount: len(segments),
	}

	var durSum float64
	var durN int
	var scoreSum float64
	var scoreN int
	for _, s := range segments {
		if s.DurationSeconds > 0 {
			durSum += s.DurationSeconds
			durN++
		}
		if s.HasScore {
			scoreSum += s.Score
			scoreN++
		}
	}
	if durN > 0 {
		doc.MeanDuration = durSum / float64(durN)
	}
	if scoreN > 0 {
		doc.MeanScore = scoreSum / float64(scoreN)
	}
	return doc
}
