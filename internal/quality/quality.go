// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package quality decides whether a captured PDF actually contains the
// page it claims to. Three stages run in order: a byte-size blank check,
// a vision-model score of the viewport screenshot, and a text-layer
// analysis of the PDF itself. The first failing stage classifies the
// capture; later stages never run.
package quality

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/llm"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
)

// DefaultThreshold is the visual score below which a capture fails.
const DefaultThreshold = 50

// Byte floors below which a capture cannot plausibly hold a rendered
// page. A missing screenshot is tolerated (the screenshot step is
// non-fatal during capture); a tiny one is not.
const (
	minPDFBytes        = 5000
	minScreenshotBytes = 15000
)

// Report summarizes a verification run. Score is -1 when the visual
// stage was skipped or answered unusably.
type Report struct {
	Score     int           `json:"score"`
	Reasoning string        `json:"reasoning,omitempty"`
	Synthetic bool          `json:"synthetic,omitempty"`
	Content   ContentReport `json:"-"`
}

// Verifier runs the three-stage check. A nil llm client disables the
// visual stage.
type Verifier struct {
	llm       *llm.Client
	model     string
	threshold int
	patterns  *PatternsHolder
	logger    zerolog.Logger
}

func NewVerifier(client *llm.Client, model string, threshold int, patterns *PatternsHolder) *Verifier {
	if patterns == nil {
		patterns = NewPatternsHolder("")
	}
	return &Verifier{
		llm:       client,
		model:     model,
		threshold: threshold,
		patterns:  patterns,
		logger:    log.WithComponent("quality"),
	}
}

// Verify checks a capture and returns a failure.Classification error when
// any stage rejects it. The returned report is populated as far as the
// run got.
func (v *Verifier) Verify(ctx context.Context, pdfData, screenshot []byte) (Report, error) {
	report := Report{Score: -1}

	if reason := blankReason(len(pdfData), len(screenshot)); reason != "" {
		metrics.QualityVerdictsTotal.WithLabelValues("blank", "fail").Inc()
		return report, failure.New(failure.KindBlankPage, "%s", reason)
	}
	metrics.QualityVerdictsTotal.WithLabelValues("blank", "pass").Inc()

	if v.llm == nil || len(screenshot) == 0 {
		metrics.QualityVerdictsTotal.WithLabelValues("visual", "skipped").Inc()
	} else {
		verdict := v.scoreScreenshot(ctx, screenshot)
		report.Score = verdict.Score
		report.Reasoning = verdict.Reasoning
		report.Synthetic = verdict.Synthetic
		switch {
		case verdict.Synthetic:
			metrics.QualityVerdictsTotal.WithLabelValues("visual", "skipped").Inc()
		case verdict.Score < v.threshold:
			metrics.QualityVerdictsTotal.WithLabelValues("visual", "fail").Inc()
			reason := verdict.Reasoning
			if reason == "" {
				reason = fmt.Sprintf("visual score %d below threshold %d", verdict.Score, v.threshold)
			}
			return report, failure.New(verdict.Kind(), "%s", reason)
		default:
			metrics.QualityVerdictsTotal.WithLabelValues("visual", "pass").Inc()
		}
	}

	content := AnalyzePDF(pdfData, v.patterns.Current())
	report.Content = content
	switch {
	case content.Skipped:
		metrics.QualityVerdictsTotal.WithLabelValues("content", "skipped").Inc()
	case !content.Passed:
		metrics.QualityVerdictsTotal.WithLabelValues("content", "fail").Inc()
		return report, failure.New(content.Kind, "%s", content.Reason)
	default:
		metrics.QualityVerdictsTotal.WithLabelValues("content", "pass").Inc()
	}

	v.logger.Debug().
		Int("score", report.Score).
		Int("chars", content.CharCount).
		Msg("capture verified")
	return report, nil
}

// blankReason applies the byte floors. The screenshot floor only applies
// when a screenshot exists at all.
func blankReason(pdfSize, screenshotSize int) string {
	switch {
	case pdfSize < minPDFBytes:
		return fmt.Sprintf("pdf is only %d bytes", pdfSize)
	case screenshotSize > 0 && screenshotSize < minScreenshotBytes:
		return fmt.Sprintf("screenshot is only %d bytes", screenshotSize)
	}
	return ""
}
