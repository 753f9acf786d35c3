// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package podcast

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/ManuGH/papercast/internal/model"
)

const (
	notesTimeout  = 30 * time.Second
	summaryMaxLen = 2000
	maxNotesLinks = 20
)

// showNotes fetches the podcast feed and extracts the episode's notes.
// Notes are decoration: any failure yields empty notes and a warning, never
// a job failure.
func (w *Worker) showNotes(ctx context.Context, logger zerolog.Logger, meta *model.PodcastMetadata) model.ShowNotes {
	if meta.FeedURL == "" {
		return model.ShowNotes{}
	}
	ctx, cancel := context.WithTimeout(ctx, notesTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.FeedURL, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("show notes skipped")
		return model.ShowNotes{}
	}
	if w.ua != "" {
		req.Header.Set("User-Agent", w.ua)
	}
	res, err := w.http.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("show notes skipped")
		return model.ShowNotes{}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		logger.Warn().Int("status", res.StatusCode).Msg("show notes skipped")
		return model.ShowNotes{}
	}

	feed, err := gofeed.NewParser().Parse(res.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("show notes skipped")
		return model.ShowNotes{}
	}
	item := matchEpisodeItem(feed, meta.Episode)
	if item == nil {
		logger.Debug().Msg("episode not found in feed")
		return model.ShowNotes{}
	}
	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	return notesFromHTML(body)
}

// matchEpisodeItem finds the feed item for the episode: GUID first, then
// case-insensitive trimmed title.
func matchEpisodeItem(feed *gofeed.Feed, ep model.PodcastEpisode) *gofeed.Item {
	if ep.GUID != "" {
		for _, item := range feed.Items {
			if item.GUID == ep.GUID {
				return item
			}
		}
	}
	title := strings.ToLower(strings.TrimSpace(ep.Title))
	if title == "" {
		return nil
	}
	for _, item := range feed.Items {
		if strings.ToLower(strings.TrimSpace(item.Title)) == title {
			return item
		}
	}
	return nil
}

// notesFromHTML flattens an episode description: visible text becomes the
// summary, anchors become the link list.
func notesFromHTML(raw string) model.ShowNotes {
	if strings.TrimSpace(raw) == "" {
		return model.ShowNotes{}
	}
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return model.ShowNotes{Summary: capSummary(collapseWhitespace(raw))}
	}

	var (
		text  strings.Builder
		links []model.Link
		seen  = map[string]bool{}
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text.WriteString(n.Data)
			text.WriteByte(' ')
		case html.ElementNode:
			if n.Data == "a" && len(links) < maxNotesLinks {
				if l, ok := linkFromAnchor(n); ok && !seen[l.URL] {
					seen[l.URL] = true
					links = append(links, l)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return model.ShowNotes{
		Summary: capSummary(collapseWhitespace(text.String())),
		Links:   links,
	}
}

func linkFromAnchor(n *html.Node) (model.Link, bool) {
	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = strings.TrimSpace(attr.Val)
			break
		}
	}
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "mailto:") {
		return model.Link{}, false
	}
	text := collapseWhitespace(anchorText(n))
	if text == "" {
		text = href
	}
	return model.Link{Text: text, URL: href}, true
}

func anchorText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// capSummary cuts at the length limit without splitting a rune.
func capSummary(s string) string {
	if len(s) <= summaryMaxLen {
		return s
	}
	cut := summaryMaxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
