// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enrich

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Metadata is what the enricher scrapes off a bookmark's page.
type Metadata struct {
	Title       string
	Description string
	Author      string
	Publisher   string
	Image       string
	PublishedAt *time.Time
}

// Extract pulls article metadata out of an HTML document: Open Graph first,
// Twitter Card and plain meta tags as fallback, JSON-LD Article blocks for
// whatever is still missing, then <title> and the first h1.
func Extract(r io.Reader) (Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("parse html: %w", err)
	}

	m := Metadata{
		Title:       metaContent(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`),
		Description: metaContent(doc, `meta[property="og:description"]`, `meta[name="twitter:description"]`, `meta[name="description"]`),
		Author:      metaContent(doc, `meta[name="author"]`),
		Publisher:   metaContent(doc, `meta[property="og:site_name"]`),
		Image:       metaContent(doc, `meta[property="og:image"]`),
	}
	if ts := metaContent(doc, `meta[property="article:published_time"]`); ts != "" {
		m.PublishedAt = parseTime(ts)
	}

	applyJSONLD(doc, &m)

	if m.Title == "" {
		m.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if m.Title == "" {
		m.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return m, nil
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}

// parseTime accepts the timestamp shapes that show up in the wild: RFC3339
// with or without sub-second precision, and bare dates.
func parseTime(value string) *time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed
		}
	}
	return nil
}

// ldNode is one JSON-LD object. Sites wrap articles in arrays or @graph
// envelopes, and @type and author come in several shapes, so everything
// stays raw until probed.
type ldNode struct {
	Type          json.RawMessage `json:"@type"`
	Graph         []ldNode        `json:"@graph"`
	Headline      string          `json:"headline"`
	Author        json.RawMessage `json:"author"`
	DatePublished string          `json:"datePublished"`
}

var articleTypes = map[string]bool{
	"Article":     true,
	"NewsArticle": true,
	"BlogPosting": true,
	"TechArticle": true,
}

func (n ldNode) isArticle() bool {
	var single string
	if err := json.Unmarshal(n.Type, &single); err == nil {
		return articleTypes[single]
	}
	var many []string
	if err := json.Unmarshal(n.Type, &many); err == nil {
		for _, t := range many {
			if articleTypes[t] {
				return true
			}
		}
	}
	return false
}

func (n ldNode) authorName() string {
	if len(n.Author) == 0 {
		return ""
	}
	var name struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(n.Author, &name); err == nil && name.Name != "" {
		return strings.TrimSpace(name.Name)
	}
	var names []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(n.Author, &names); err == nil && len(names) > 0 {
		return strings.TrimSpace(names[0].Name)
	}
	var plain string
	if err := json.Unmarshal(n.Author, &plain); err == nil {
		return strings.TrimSpace(plain)
	}
	return ""
}

// applyJSONLD fills the gaps the meta tags left from the first Article node
// found in any JSON-LD script block.
func applyJSONLD(doc *goquery.Document, m *Metadata) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		article, ok := findArticle([]byte(s.Text()))
		if !ok {
			return true
		}
		if m.Title == "" {
			m.Title = strings.TrimSpace(article.Headline)
		}
		if m.Author == "" {
			m.Author = article.authorName()
		}
		if m.PublishedAt == nil && article.DatePublished != "" {
			m.PublishedAt = parseTime(article.DatePublished)
		}
		return false
	})
}

func findArticle(raw []byte) (ldNode, bool) {
	var nodes []ldNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		var single ldNode
		if err := json.Unmarshal(raw, &single); err != nil {
			return ldNode{}, false
		}
		nodes = []ldNode{single}
	}
	for _, n := range nodes {
		if n.isArticle() {
			return n, true
		}
		for _, g := range n.Graph {
			if g.isArticle() {
				return g, true
			}
		}
	}
	return ldNode{}, false
}
