package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"advision/internal/config"
	"advision/internal/models"
)

// Layout constants in millimetres on an A4 portrait page.
const (
	pageMarginLeft  = 20.0
	pageMarginTop   = 20.0
	bottomMargin    = 25.0
	trackWidth      = 170.0
	barHeight       = 5.0
	chartBarHeight  = 4.0
	chartMaxWidth   = 120.0
	// Minimum bar width as a fraction of the track, so near-zero durations
	// still produce a visible mark.
	minVisibleFrac = 0.012
)

// Quality tiers for the timeline bars. Segments without a parsed score use
// the neutral grey tier rather than being shown as poor.
const (
	tierGoodThreshold = 0.6
	tierWarnThreshold = 0.3
)

// Builder renders a parsed report into the paginated PDF artifact.
type Builder struct {
	assumedDuration float64
	fontPath        string
	logger          *zap.Logger
}

func NewBuilder(cfg config.ReportConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		assumedDuration: cfg.AssumedVideoDurationSec,
		fontPath:        cfg.FontPath,
		logger:          logger,
	}
}

// ArtifactName strips the source extension and appends the report suffix.
func ArtifactName(sourceFile string) string {
	base := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	return base + "_advision_report.pdf"
}

// XLSXArtifactName names the companion spreadsheet export.
func XLSXArtifactName(sourceFile string) string {
	base := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	return base + "_segments.xlsx"
}

// Build renders the document. A missing or unreadable configured font
// degrades to the built-in typeface; already-parsed data is never lost to a
// styling failure.
func (b *Builder) Build(doc models.ReportDocument, fileSize int64) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMarginLeft, pageMarginTop, pageMarginLeft)

	family := "Helvetica"
	if b.fontPath != "" {
		if _, err := os.Stat(b.fontPath); err != nil {
			b.logger.Warn("report font unavailable, using built-in typeface",
				zap.String("font", b.fontPath), zap.Error(err))
		} else {
			pdf.AddUTF8Font("report", "", b.fontPath)
			if pdf.Err() {
				b.logger.Warn("report font rejected, using built-in typeface",
					zap.String("font", b.fontPath))
				pdf = gofpdf.New("P", "mm", "A4", "")
				pdf.SetMargins(pageMarginLeft, pageMarginTop, pageMarginLeft)
			} else {
				family = "report"
			}
		}
	}

	b.cover(pdf, family, doc)
	b.metadata(pdf, family, doc, fileSize)
	b.statistics(pdf, family, doc)
	for i, seg := range doc.Segments {
		b.segment(pdf, family, i+1, seg)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Builder) cover(pdf *gofpdf.Fpdf, family string, doc models.ReportDocument) {
	pdf.AddPage()
	pdf.SetY(80)
	pdf.SetFont(family, "B", 26)
	pdf.CellFormat(0, 14, "Ad Quality Report", "", 1, "C", false, 0, "")
	pdf.Ln(6)
	pdf.SetFont(family, "", 14)
	pdf.CellFormat(0, 8, doc.SourceFile, "", 1, "C", false, 0, "")
	pdf.Ln(2)
	pdf.SetFont(family, "", 11)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 6, doc.GeneratedAt.Format("2006-01-02 15:04"), "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func (b *Builder) metadata(pdf *gofpdf.Fpdf, family string, doc models.ReportDocument, fileSize int64) {
	pdf.AddPage()
	b.heading(pdf, family, "Source")

	rows := [][2]string{
		{"File", doc.SourceFile},
		{"Size", fmt.Sprintf("%.1f MiB", float64(fileSize)/(1<<20))},
		{"Generated", doc.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Assumed video duration", fmt.Sprintf("%.0f sec", b.assumedDuration)},
	}
	pdf.SetFont(family, "", 11)
	for _, row := range rows {
		pdf.SetFont(family, "B", 11)
		pdf.CellFormat(60, 7, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont(family, "", 11)
		pdf.CellFormat(0, 7, row[1], "", 1, "L", false, 0, "")
	}
}

func (b *Builder) statistics(pdf *gofpdf.Fpdf, family string, doc models.ReportDocument) {
	pdf.Ln(6)
	b.heading(pdf, family, "Statistics")

	pdf.SetFont(family, "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Detected ad segments: %d", doc.SegmentCount), "", 1, "L", false, 0, "")
	if doc.MeanDuration > 0 {
		pdf.CellFormat(0, 7, fmt.Sprintf("Mean duration: %.1f sec", doc.MeanDuration), "", 1, "L", false, 0, "")
	}
	if doc.MeanScore > 0 {
		pdf.CellFormat(0, 7, fmt.Sprintf("Mean quality score: %.2f", doc.MeanScore), "", 1, "L", false, 0, "")
	}

	maxScore := 0.0
	for _, s := range doc.Segments {
		if s.HasScore && s.Score > maxScore {
			maxScore = s.Score
		}
	}
	if maxScore == 0 {
		pdf.SetFont(family, "I", 10)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, 7, "No quality scores present in this report.", "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		return
	}

	pdf.Ln(2)
	for i, s := range doc.Segments {
		if !s.HasScore {
			continue
		}
		b.ensureSpace(pdf, chartBarHeight+3)
		pdf.SetFont(family, "", 9)
		pdf.CellFormat(28, chartBarHeight+1, fmt.Sprintf("Segment %d", i+1), "", 0, "L", false, 0, "")
		r, g, bl := tierColor(s.Score, true)
		pdf.SetFillColor(r, g, bl)
		pdf.Rect(pdf.GetX(), pdf.GetY()+0.5, chartMaxWidth*(s.Score/maxScore), chartBarHeight, "F")
		pdf.SetFont(family, "", 8)
		pdf.SetX(pdf.GetX() + chartMaxWidth + 2)
		pdf.CellFormat(0, chartBarHeight+1, fmt.Sprintf("%.2f", s.Score), "", 1, "L", false, 0, "")
	}
}

func (b *Builder) segment(pdf *gofpdf.Fpdf, family string, index int, seg models.AdSegment) {
	lines := strings.Count(seg.Text, "\n") + 1
	needed := 14 + float64(lines)*5
	if seg.DurationSeconds > 0 {
		needed += barHeight + 8
	}
	b.ensureSpace(pdf, needed)

	pdf.Ln(4)
	b.heading(pdf, family, fmt.Sprintf("Segment %d", index))

	pdf.SetFont(family, "", 10)
	pdf.MultiCell(trackWidth, 5, seg.Text, "", "L", false)

	if seg.DurationSeconds <= 0 {
		return
	}

	pdf.Ln(2)
	y := pdf.GetY()
	// Track background, then the positioned bar.
	pdf.SetFillColor(232, 232, 232)
	pdf.Rect(pageMarginLeft, y, trackWidth, barHeight, "F")
	x, w := timelineBar(seg.StartSeconds, seg.DurationSeconds, b.assumedDuration, trackWidth)
	r, g, bl := tierColor(seg.Score, seg.HasScore)
	pdf.SetFillColor(r, g, bl)
	pdf.Rect(pageMarginLeft+x, y, w, barHeight, "F")

	pdf.SetY(y + barHeight + 1)
	pdf.SetFont(family, "", 8)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 5,
		fmt.Sprintf("%.1fs - %.1fs of assumed %.0fs", seg.StartSeconds, seg.StartSeconds+seg.DurationSeconds, b.assumedDuration),
		"", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func (b *Builder) heading(pdf *gofpdf.Fpdf, family, text string) {
	pdf.SetFont(family, "B", 14)
	pdf.CellFormat(0, 9, text, "", 1, "L", false, 0, "")
	pdf.Ln(1)
}

// ensureSpace starts a new page once the layout cursor would cross the
// bottom margin.
func (b *Builder) ensureSpace(pdf *gofpdf.Fpdf, needed float64) {
	_, pageH := pdf.GetPageSize()
	if pdf.GetY()+needed > pageH-bottomMargin {
		pdf.AddPage()
	}
}

// timelineBar positions a segment on the track. The bar keeps a minimum
// visible width and is clamped inside the track even when the segment runs
// past the assumed video length.
func timelineBar(start, duration, assumed, track float64) (x, w float64) {
	if assumed <= 0 {
		return 0, track * minVisibleFrac
	}
	x = start / assumed * track
	w = duration / assumed * track
	if min := track * minVisibleFrac; w < min {
		w = min
	}
	if w > track {
		w = track
	}
	if x < 0 {
		x = 0
	}
	if x+w > track {
		x = track - w
	}
	return x, w
}

// tierColor maps a quality score to the three-tier palette; unscored
// segments get the neutral grey.
func tierColor(score float64, hasScore bool) (r, g, b int) {
	switch {
	case !hasScore:
		return 150, 150, 150
	case score >= tierGoodThreshold:
		return 46, 160, 67
	case score >= tierWarnThreshold:
		return 227, 160, 8
	default:
		return 207, 34, 46
	}
}
