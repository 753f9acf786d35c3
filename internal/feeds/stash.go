// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/urlx"
)

// Stash polls the bookmark-manager JSON API. The configured URL carries the
// access token as a query parameter; it is stripped from the request URL and
// sent as a Bearer header instead. Pagination walks nextCursor until a page
// contains an already-seen guid or the page cap is hit.
type Stash struct {
	api    *url.URL
	token  string
	ua     string
	http   *http.Client
	logger zerolog.Logger
}

func NewStash(apiURL string, opts SourceOptions) (*Stash, error) {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil {
		return nil, fmt.Errorf("parse stash url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("stash url must be absolute: %q", apiURL)
	}
	q := u.Query()
	token := q.Get("token")
	q.Del("token")
	u.RawQuery = q.Encode()
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/v1/bookmarks"
	}
	return &Stash{
		api:    u,
		token:  token,
		ua:     opts.UserAgent,
		http:   opts.client(),
		logger: log.WithComponent("feeds").With().Str(log.FieldSource, string(model.SourceStash)).Logger(),
	}, nil
}

func (s *Stash) Name() model.Source { return model.SourceStash }

// assetURL is the download endpoint for a stored asset. It doubles as the
// canonical URL of asset bookmarks: assets have no web page of their own.
func (s *Stash) assetURL(assetID string) string {
	return s.api.Scheme + "://" + s.api.Host + "/api/assets/" + assetID
}

func (s *Stash) pageURL(cursor string) string {
	u := *s.api
	q := u.Query()
	q.Set("limit", strconv.Itoa(pageLimit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type stashPage struct {
	Bookmarks  []stashBookmark `json:"bookmarks"`
	NextCursor string          `json:"nextCursor"`
}

type stashBookmark struct {
	ID        string       `json:"id"`
	CreatedAt *time.Time   `json:"createdAt"`
	Title     string       `json:"title"`
	Note      string       `json:"note"`
	Tags      []stashTag   `json:"tags"`
	Content   stashContent `json:"content"`
}

type stashTag struct {
	Name string `json:"name"`
}

type stashContent struct {
	Type          string     `json:"type"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Author        string     `json:"author"`
	Publisher     string     `json:"publisher"`
	DatePublished *time.Time `json:"datePublished"`
	AssetType     string     `json:"assetType"`
	AssetID       string     `json:"assetId"`
	FileName      string     `json:"fileName"`
	SourceURL     string     `json:"sourceUrl"`
}

// Fetch walks the bookmark pages newest-first. All fetched items are
// returned, including the page that contained known ground; per-item dedup
// happens downstream.
func (s *Stash) Fetch(ctx context.Context, cached Validators, seen SeenFunc) (Result, error) {
	var out Result
	cursor := ""
	for page := 0; page < maxPages; page++ {
		cond := Validators{}
		if page == 0 {
			cond = cached
		}
		pg, validators, notModified, err := s.fetchPage(ctx, cursor, cond)
		if err != nil {
			return Result{}, fmt.Errorf("stash page %d: %w", page+1, err)
		}
		if page == 0 {
			if notModified {
				return Result{Validators: cached, NotModified: true}, nil
			}
			out.Validators = validators
		}

		caughtUp := false
		for _, bm := range pg.Bookmarks {
			if seen != nil && bm.ID != "" {
				known, err := seen(ctx, bm.ID)
				if err != nil {
					s.logger.Warn().Err(err).Msg("guid lookup failed, stopping after this page")
					caughtUp = true
				} else if known {
					caughtUp = true
				}
			}
			if item, ok := s.mapBookmark(bm); ok {
				out.Items = append(out.Items, item)
			}
		}

		if caughtUp || pg.NextCursor == "" {
			return out, nil
		}
		cursor = pg.NextCursor
	}

	s.logger.Warn().Int("pages", maxPages).Msg("page cap reached before catching up")
	return out, nil
}

func (s *Stash) fetchPage(ctx context.Context, cursor string, cond Validators) (stashPage, Validators, bool, error) {
	req, err := newGet(ctx, s.pageURL(cursor), s.ua, cond)
	if err != nil {
		return stashPage{}, Validators{}, false, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	res, err := s.http.Do(req)
	if err != nil {
		return stashPage{}, Validators{}, false, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotModified {
		return stashPage{}, Validators{}, true, nil
	}
	if res.StatusCode != http.StatusOK {
		return stashPage{}, Validators{}, false, fmt.Errorf("stash returned %d", res.StatusCode)
	}

	var pg stashPage
	if err := json.NewDecoder(res.Body).Decode(&pg); err != nil {
		return stashPage{}, Validators{}, false, fmt.Errorf("decode page: %w", err)
	}
	return pg, responseValidators(res), false, nil
}

// mapBookmark turns one API record into a BookmarkItem. Link bookmarks point
// at the saved page; asset bookmarks point at the asset download endpoint
// and never go through enrichment. Content types this pipeline cannot turn
// into an artifact (text notes, images) are skipped.
func (s *Stash) mapBookmark(bm stashBookmark) (model.BookmarkItem, bool) {
	source := string(model.SourceStash)
	if bm.ID == "" {
		s.logger.Warn().Msg("skipping bookmark without id")
		metrics.FeedItemsTotal.WithLabelValues(source, "invalid").Inc()
		return model.BookmarkItem{}, false
	}

	item := model.BookmarkItem{
		Source:       model.SourceStash,
		GUID:         bm.ID,
		Title:        strings.TrimSpace(firstNonEmpty(bm.Title, bm.Content.Title)),
		Description:  strings.TrimSpace(firstNonEmpty(bm.Content.Description, bm.Note)),
		Author:       strings.TrimSpace(bm.Content.Author),
		Publisher:    strings.TrimSpace(bm.Content.Publisher),
		PublishedAt:  bm.Content.DatePublished,
		BookmarkedAt: bm.CreatedAt,
	}
	for _, t := range bm.Tags {
		if t.Name != "" {
			item.Tags = append(item.Tags, t.Name)
		}
	}

	switch {
	case bm.Content.Type == "link":
		link := strings.TrimSpace(bm.Content.URL)
		if link == "" {
			s.logger.Warn().Str("guid", bm.ID).Msg("skipping link bookmark without url")
			metrics.FeedItemsTotal.WithLabelValues(source, "invalid").Inc()
			return model.BookmarkItem{}, false
		}
		canonical, err := urlx.Canonical(link)
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldURL, link).Msg("skipping bookmark with unusable url")
			metrics.FeedItemsTotal.WithLabelValues(source, "invalid").Inc()
			return model.BookmarkItem{}, false
		}
		item.URL = link
		item.CanonicalURL = canonical

	case bm.Content.Type == "asset" && bm.Content.AssetType == "pdf":
		if !s.fillAsset(&item, bm, model.MediaPDF, "application/pdf") {
			return model.BookmarkItem{}, false
		}

	case bm.Content.Type == "asset" && bm.Content.AssetType == "video":
		if !s.fillAsset(&item, bm, model.MediaVideo, "") {
			return model.BookmarkItem{}, false
		}

	default:
		s.logger.Debug().Str("guid", bm.ID).Str("type", bm.Content.Type).Msg("bookmark type not convertible, skipped")
		metrics.FeedItemsTotal.WithLabelValues(source, "skipped").Inc()
		return model.BookmarkItem{}, false
	}
	return item, true
}

func (s *Stash) fillAsset(item *model.BookmarkItem, bm stashBookmark, mt model.MediaType, encType string) bool {
	if bm.Content.AssetID == "" {
		s.logger.Warn().Str("guid", bm.ID).Msg("skipping asset bookmark without asset id")
		metrics.FeedItemsTotal.WithLabelValues(string(model.SourceStash), "invalid").Inc()
		return false
	}
	u := s.assetURL(bm.Content.AssetID)
	item.URL = u
	item.CanonicalURL = u
	item.AssetID = bm.Content.AssetID
	item.MediaType = mt
	item.Enclosure = &model.Enclosure{URL: u, Type: encType}
	if item.Title == "" {
		item.Title = strings.TrimSpace(bm.Content.FileName)
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
