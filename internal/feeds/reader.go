// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/urlx"
)

// Reader polls the RSS read-later feed. Saved pages arrive as plain items;
// saved videos arrive with a transcript PDF attached as an enclosure of type
// application/pdf.
type Reader struct {
	url    string
	ua     string
	http   *http.Client
	parser *gofeed.Parser
	logger zerolog.Logger
}

func NewReader(feedURL string, opts SourceOptions) *Reader {
	return &Reader{
		url:    feedURL,
		ua:     opts.UserAgent,
		http:   opts.client(),
		parser: gofeed.NewParser(),
		logger: log.WithComponent("feeds").With().Str(log.FieldSource, string(model.SourceReader)).Logger(),
	}
}

func (r *Reader) Name() model.Source { return model.SourceReader }

// Fetch issues one conditional GET and maps every parseable item. Items the
// feed mangled are skipped with a warning so one broken entry never sinks
// the batch.
func (r *Reader) Fetch(ctx context.Context, cached Validators, _ SeenFunc) (Result, error) {
	req, err := newGet(ctx, r.url, r.ua, cached)
	if err != nil {
		return Result{}, err
	}
	res, err := r.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch reader feed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotModified {
		return Result{Validators: cached, NotModified: true}, nil
	}
	if res.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("reader feed returned %d", res.StatusCode)
	}

	feed, err := r.parser.Parse(res.Body)
	if err != nil {
		return Result{}, fmt.Errorf("parse reader feed: %w", err)
	}

	out := Result{Validators: responseValidators(res)}
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		item, err := r.mapItem(it)
		if err != nil {
			r.logger.Warn().Err(err).Str(log.FieldURL, it.Link).Msg("skipping malformed feed item")
			metrics.FeedItemsTotal.WithLabelValues(string(model.SourceReader), "invalid").Inc()
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (r *Reader) mapItem(it *gofeed.Item) (model.BookmarkItem, error) {
	link := strings.TrimSpace(it.Link)
	if link == "" {
		return model.BookmarkItem{}, fmt.Errorf("item %q has no link", it.Title)
	}
	canonical, err := urlx.Canonical(link)
	if err != nil {
		return model.BookmarkItem{}, err
	}

	guid := strings.TrimSpace(it.GUID)
	if guid == "" {
		guid = link
	}

	item := model.BookmarkItem{
		Source:       model.SourceReader,
		URL:          link,
		CanonicalURL: canonical,
		GUID:         guid,
		Title:        strings.TrimSpace(it.Title),
		Description:  strings.TrimSpace(it.Description),
		PublishedAt:  it.PublishedParsed,
		// Read-later feeds publish items when the user saves them, so the
		// pub date doubles as the bookmark time.
		BookmarkedAt: it.PublishedParsed,
		Tags:         it.Categories,
	}
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		item.Author = strings.TrimSpace(it.Authors[0].Name)
	}

	if len(it.Enclosures) > 0 && it.Enclosures[0] != nil {
		enc := it.Enclosures[0]
		length, _ := strconv.ParseInt(enc.Length, 10, 64)
		item.Enclosure = &model.Enclosure{URL: enc.URL, Length: length, Type: enc.Type}
		switch {
		case enc.Type == "application/pdf":
			item.MediaType = model.MediaTranscript
		case strings.HasPrefix(enc.Type, "video/"):
			item.MediaType = model.MediaVideo
		}
	}
	return item, nil
}
