// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package quality

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/ManuGH/papercast/internal/failure"
)

// Truncation thresholds. A near-empty document, a huge document that
// yields almost no text, and a multi-page document whose text density is
// implausibly low all indicate a capture that rendered chrome but not the
// article body.
const (
	minChars           = 500
	largePDFBytes      = 500 * 1024
	largePDFMinChars   = 1000
	sparseCharsPerKB   = 5
	sparseMaxChars     = 3000
	sparseCharsPerPage = 400
)

// ContentReport is the outcome of text-layer analysis of a captured PDF.
// Skipped means the parser could not read the document and no checks ran.
type ContentReport struct {
	Passed     bool
	Skipped    bool
	Kind       failure.Kind
	Reason     string
	PageCount  int
	CharCount  int
	CharsPerKB float64
}

// AnalyzePDF extracts the text layer and applies the content checks in
// order: error page, paywall, truncation. A PDF the parser cannot read
// passes; text extraction is best-effort and a parser limitation must not
// fail an otherwise good capture.
func AnalyzePDF(data []byte, pats Patterns) ContentReport {
	text, pages, err := extractText(data)
	if err != nil {
		return ContentReport{
			Passed:  true,
			Skipped: true,
			Reason:  fmt.Sprintf("text extraction unavailable (%v), content checks skipped", err),
		}
	}
	return classifyContent(len(data), pages, collapseWhitespace(text), pats)
}

// classifyContent applies the rule table to already-extracted text.
func classifyContent(pdfSize, pages int, text string, pats Patterns) ContentReport {
	chars := utf8.RuneCountInString(text)
	perKB := float64(chars) / (float64(pdfSize) / 1024)
	report := ContentReport{
		PageCount:  pages,
		CharCount:  chars,
		CharsPerKB: perKB,
	}
	lower := strings.ToLower(text)

	if chars < 2000 {
		for _, re := range pats.ErrorPage {
			if re.MatchString(lower) {
				report.Kind = failure.KindErrorPage
				report.Reason = fmt.Sprintf("error page phrase %q with only %d chars", re.String(), chars)
				return report
			}
		}
	}

	for _, re := range pats.Paywall {
		if re.MatchString(lower) {
			report.Kind = failure.KindPaywall
			report.Reason = fmt.Sprintf("paywall phrase %q detected", re.String())
			return report
		}
	}

	switch {
	case chars < minChars:
		report.Kind = failure.KindTruncated
		report.Reason = fmt.Sprintf("only %d chars of text extracted", chars)
	case pdfSize > largePDFBytes && chars < largePDFMinChars:
		report.Kind = failure.KindTruncated
		report.Reason = fmt.Sprintf("%d KB document but only %d chars of text", pdfSize/1024, chars)
	case pages > 1 && perKB < sparseCharsPerKB && chars < sparseMaxChars && chars/pages < sparseCharsPerPage:
		report.Kind = failure.KindTruncated
		report.Reason = fmt.Sprintf("%d pages yet only %.1f chars/KB and %d chars/page", pages, perKB, chars/pages)
	default:
		report.Passed = true
	}
	return report
}

// extractText pulls the plain-text layer via the pdf reader. The library
// panics on some malformed inputs, so the whole call is fenced.
func extractText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	pages = reader.NumPage()

	var sb strings.Builder
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", pages, err
	}
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", pages, err
	}
	return sb.String(), pages, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
