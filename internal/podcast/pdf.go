// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package podcast

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/papercast/internal/model"
)

const (
	pdfMargin    = 50.0
	bodyFontSize = 11.0
	bodyLineHt   = 16.0
)

// transcriptDoc bundles everything the renderer needs for one episode.
type transcriptDoc struct {
	Meta       *model.PodcastMetadata
	Notes      model.ShowNotes
	Transcript string
	SourceURL  string
}

// renderPDF lays the transcript out as a Letter document: header block,
// show notes with clickable links, separator, then the body.
func renderPDF(doc transcriptDoc) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetTitle(doc.Meta.PodcastName+" - "+doc.Meta.Episode.Title, true)
	if doc.Meta.ArtistName != "" {
		pdf.SetAuthor(doc.Meta.ArtistName, true)
	}
	pdf.SetSubject(doc.SourceURL, true)
	pdf.SetCreator("papercast", true)
	pdf.SetProducer("papercast", true)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	enc := func(s string) string { return tr(sanitizeText(s)) }

	pageW, _ := pdf.GetPageSize()
	textW := pageW - 2*pdfMargin

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(textW, 22, enc(doc.Meta.PodcastName), "", "L", false)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.MultiCell(textW, 18, enc(doc.Meta.Episode.Title), "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	for _, line := range metadataLines(doc.Meta) {
		pdf.MultiCell(textW, 14, enc(line), "", "L", false)
	}
	if doc.SourceURL != "" {
		pdf.WriteLinkString(14, enc(doc.SourceURL), doc.SourceURL)
		pdf.Ln(14)
	}
	pdf.SetTextColor(0, 0, 0)

	if doc.Notes.Summary != "" || len(doc.Notes.Links) > 0 {
		pdf.Ln(10)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(textW, 16, "Show Notes", "", "L", false)
		pdf.SetFont("Helvetica", "", 10)
		if doc.Notes.Summary != "" {
			pdf.MultiCell(textW, 14, enc(doc.Notes.Summary), "", "L", false)
		}
		for _, link := range doc.Notes.Links {
			// The bullet skips sanitizing: cp1252 encodes it, Latin-1 does not.
			pdf.Write(14, tr("  • "))
			pdf.WriteLinkString(14, enc(link.Text), link.URL)
			pdf.Ln(14)
		}
	}

	pdf.Ln(12)
	y := pdf.GetY()
	pdf.SetDrawColor(180, 180, 180)
	pdf.Line(pdfMargin, y, pageW-pdfMargin, y)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", bodyFontSize)
	for _, para := range strings.Split(doc.Transcript, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pdf.MultiCell(textW, bodyLineHt, enc(para), "", "L", false)
		pdf.Ln(8)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render transcript pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// metadataLines builds the header byline. Empty fields are skipped.
func metadataLines(meta *model.PodcastMetadata) []string {
	var lines []string
	if meta.ArtistName != "" {
		lines = append(lines, "Hosted by "+meta.ArtistName)
	}
	if meta.Genre != "" {
		lines = append(lines, meta.Genre)
	}
	if d := formatDuration(meta.Episode.DurationMs); d != "" {
		lines = append(lines, "Duration: "+d)
	}
	if !meta.Episode.ReleasedAt.IsZero() {
		lines = append(lines, "Released: "+meta.Episode.ReleasedAt.Format("January 2, 2006"))
	}
	return lines
}

// formatDuration renders milliseconds as "1h 23m", "23m" or "42s".
func formatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

// latin1Replacements maps typographic characters onto their closest ASCII
// form before encoding. Zero-width characters map to nothing.
var latin1Replacements = map[rune]string{
	'‘': "'", '’': "'", '‚': "'",
	'“': `"`, '”': `"`, '„': `"`,
	'–': "-", '—': "-", '−': "-",
	'…': "...",
	'\u00A0': " ",
	'\u200B': "", '\u200C': "", '\u200D': "", '\u2060': "", '\uFEFF': "", '\u00AD': "",
}

// sanitizeText reduces arbitrary UTF-8 to what the core PDF fonts encode:
// typographic punctuation becomes ASCII, accented letters decompose to
// their base letter, everything else outside Latin-1 is dropped.
func sanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if rep, ok := latin1Replacements[r]; ok {
			b.WriteString(rep)
			continue
		}
		if r <= 0xFF {
			if r == '\n' || r == '\t' || (r >= 0x20 && r < 0x7F) || (r > 0x9F) {
				b.WriteRune(r)
			}
			continue
		}
		for _, d := range norm.NFKD.String(string(r)) {
			if rep, ok := latin1Replacements[d]; ok {
				b.WriteString(rep)
				continue
			}
			if unicode.Is(unicode.Mn, d) || d > 0xFF || d < 0x20 || (d >= 0x7F && d <= 0x9F) {
				continue
			}
			b.WriteRune(d)
		}
	}
	return b.String()
}
