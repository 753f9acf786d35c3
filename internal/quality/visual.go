// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package quality

import (
	"context"
	"strings"

	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/jsonx"
	"github.com/ManuGH/papercast/internal/llm"
)

const scorePrompt = `You are reviewing a screenshot of the top of a web page (roughly the first 800px) that was captured as a PDF for offline reading. Rate how well the main content is visible.

Respond with JSON only, no other text:
{"score": <0-100>, "issue": <"blank_page"|"paywall"|"bot_detected"|"login_required"|"error_page"|null>, "reasoning": "<one sentence>"}

Scoring guide:
- 90-100: headline and body text clearly visible
- 50-89: content visible behind minor overlays or clutter
- 0-49: content hidden, replaced, or missing

Only the top of the page is shown. Do not lower the score or report an issue because the content appears cut off at the bottom.`

// VisualVerdict is the vision model's assessment of a capture screenshot.
// Synthetic verdicts stand in for a model that was unreachable or answered
// with something unparseable; they pass so that model downtime never
// blocks conversions.
type VisualVerdict struct {
	Score     int    `json:"score"`
	Issue     string `json:"issue,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// Kind maps the reported issue to a failure kind for verdicts below the
// threshold.
func (v VisualVerdict) Kind() failure.Kind {
	if k := failure.Kind(v.Issue); k.Valid() {
		return k
	}
	return failure.KindQualityFailed
}

type rawVerdict struct {
	Score     float64 `json:"score"`
	Issue     string  `json:"issue"`
	Reasoning string  `json:"reasoning"`
}

// parseVerdict decodes a model reply. Strict parse first, then the first
// JSON object containing a "score" key anywhere in the reply. The second
// return is false when no verdict could be recovered; an object without a
// score key is no verdict at all.
func parseVerdict(reply string) (VisualVerdict, bool) {
	var raw rawVerdict
	if err := jsonx.ExtractWithKey(reply, "score", &raw); err != nil {
		return VisualVerdict{}, false
	}

	score := int(raw.Score)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return VisualVerdict{Score: score, Issue: raw.Issue, Reasoning: raw.Reasoning}, true
}

// scoreScreenshot asks the vision model to judge the capture. Transport
// failures and unparseable replies degrade to a synthetic passing verdict.
func (v *Verifier) scoreScreenshot(ctx context.Context, screenshot []byte) VisualVerdict {
	reply, err := v.llm.Chat(ctx, v.model, []llm.Message{{
		Role:    "user",
		Content: scorePrompt,
		Images:  [][]byte{screenshot},
	}}, &llm.Options{Temperature: 0.1, NumPredict: 256})
	if err != nil {
		v.logger.Warn().Err(err).Msg("vision model unavailable, passing capture unverified")
		return VisualVerdict{Score: -1, Reasoning: "vision model unavailable", Synthetic: true}
	}

	verdict, ok := parseVerdict(reply)
	if !ok {
		v.logger.Warn().Str("reply", snippet(reply, 200)).Msg("unparseable vision reply, passing capture unverified")
		return VisualVerdict{Score: -1, Reasoning: "unparseable vision reply", Synthetic: true}
	}
	v.logger.Debug().
		Int("score", verdict.Score).
		Str("issue", verdict.Issue).
		Msg("visual verdict")
	return verdict
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
