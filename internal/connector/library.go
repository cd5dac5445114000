// SPDX-License-Identifier: MIT

package connector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

type seriesPayload struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Seasons []struct {
		SeasonNumber int  `json:"seasonNumber"`
		Monitored    bool `json:"monitored"`
		Statistics   *struct {
			EpisodeCount      int        `json:"episodeCount"`
			EpisodeFileCount  int        `json:"episodeFileCount"`
			TotalEpisodeCount int        `json:"totalEpisodeCount"`
			NextAiring        *time.Time `json:"nextAiring"`
		} `json:"statistics"`
	} `json:"seasons"`
}

type episodePayload struct {
	ID            int64      `json:"id"`
	SeriesID      int64      `json:"seriesId"`
	SeasonNumber  int        `json:"seasonNumber"`
	EpisodeNumber int        `json:"episodeNumber"`
	Title         string     `json:"title"`
	AirDateUTC    *time.Time `json:"airDateUtc"`
	Monitored     bool       `json:"monitored"`
	HasFile       bool       `json:"hasFile"`
}

type moviePayload struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Monitored bool   `json:"monitored"`
	HasFile   bool   `json:"hasFile"`
}

func (s seriesPayload) toSeries() Series {
	out := Series{ID: s.ID, Title: normTitle(s.Title), Year: s.Year}
	for _, season := range s.Seasons {
		stats := SeasonStats{SeasonNumber: season.SeasonNumber, Monitored: season.Monitored}
		if season.Statistics != nil {
			stats.EpisodeCount = season.Statistics.EpisodeCount
			stats.EpisodeFileCount = season.Statistics.EpisodeFileCount
			stats.TotalEpisodeCount = season.Statistics.TotalEpisodeCount
			if season.Statistics.NextAiring != nil {
				stats.NextAiring = *season.Statistics.NextAiring
			}
		}
		out.Seasons = append(out.Seasons, stats)
	}
	return out
}

func (e episodePayload) toItem(year int) Item {
	item := Item{
		Kind:          KindEpisode,
		UpstreamID:    e.ID,
		SeriesID:      e.SeriesID,
		SeasonNumber:  e.SeasonNumber,
		EpisodeNumber: e.EpisodeNumber,
		Title:         normTitle(e.Title),
		Year:          year,
		Monitored:     e.Monitored,
		HasFile:       e.HasFile,
	}
	if e.AirDateUTC != nil {
		item.AirDate = *e.AirDateUTC
	}
	return item
}

func (m moviePayload) toItem() Item {
	return Item{
		Kind:       KindMovie,
		UpstreamID: m.ID,
		Title:      normTitle(m.Title),
		Year:       m.Year,
		Monitored:  m.Monitored,
		HasFile:    m.HasFile,
	}
}

// Series lists the upstream series with season statistics. Series-based
// variants only.
func (c *Client) Series(ctx context.Context) ([]Series, error) {
	if !c.typ.SeriesBased() {
		return nil, &APIError{Sentinel: ErrUnsupported, Operation: "series", Message: fmt.Sprintf("connector type %q", c.typ)}
	}
	var payload []seriesPayload
	if err := c.getJSON(ctx, c.api("/series"), nil, "series", &payload); err != nil {
		return nil, err
	}
	out := make([]Series, 0, len(payload))
	for _, s := range payload {
		out = append(out, s.toSeries())
	}
	return out, nil
}

// EpisodesBySeries lists all episodes of one series.
func (c *Client) EpisodesBySeries(ctx context.Context, seriesID int64) ([]Item, error) {
	if !c.typ.SeriesBased() {
		return nil, &APIError{Sentinel: ErrUnsupported, Operation: "episodes", Message: fmt.Sprintf("connector type %q", c.typ)}
	}
	query := url.Values{"seriesId": {strconv.FormatInt(seriesID, 10)}}
	var payload []episodePayload
	if err := c.getJSON(ctx, c.api("/episode"), query, "episodes", &payload); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(payload))
	for _, e := range payload {
		out = append(out, e.toItem(0))
	}
	return out, nil
}

// Movies lists the upstream movie library. Radarr only.
func (c *Client) Movies(ctx context.Context) ([]Item, error) {
	if c.typ != TypeRadarr {
		return nil, &APIError{Sentinel: ErrUnsupported, Operation: "movies", Message: fmt.Sprintf("connector type %q", c.typ)}
	}
	var payload []moviePayload
	if err := c.getJSON(ctx, c.api("/movie"), nil, "movies", &payload); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(payload))
	for _, m := range payload {
		out = append(out, m.toItem())
	}
	return out, nil
}

type pagedRecords[T any] struct {
	Page         int `json:"page"`
	PageSize     int `json:"pageSize"`
	TotalRecords int `json:"totalRecords"`
	Records      []T `json:"records"`
}

// wanted pages through a wanted/* endpoint until all records are fetched.
func wanted[T any](ctx context.Context, c *Client, endpoint, op string) ([]T, error) {
	var out []T
	for page := 1; ; page++ {
		query := url.Values{
			"page":     {strconv.Itoa(page)},
			"pageSize": {strconv.Itoa(wantedPageSize)},
		}
		var payload pagedRecords[T]
		if err := c.getJSON(ctx, c.api(endpoint), query, op, &payload); err != nil {
			return nil, err
		}
		out = append(out, payload.Records...)
		if len(payload.Records) == 0 || len(out) >= payload.TotalRecords {
			return out, nil
		}
	}
}

// WantedMissing returns every monitored item upstream reports as missing.
func (c *Client) WantedMissing(ctx context.Context) ([]Item, error) {
	if err := c.guardSearchable("wantedMissing"); err != nil {
		return nil, err
	}
	if c.typ.SeriesBased() {
		records, err := wanted[episodePayload](ctx, c, "/wanted/missing", "wantedMissing")
		if err != nil {
			return nil, err
		}
		out := make([]Item, 0, len(records))
		for _, e := range records {
			out = append(out, e.toItem(0))
		}
		return out, nil
	}
	records, err := wanted[moviePayload](ctx, c, "/wanted/missing", "wantedMissing")
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(records))
	for _, m := range records {
		out = append(out, m.toItem())
	}
	return out, nil
}

// WantedCutoff returns every item whose file sits below the quality cutoff.
func (c *Client) WantedCutoff(ctx context.Context) ([]Item, error) {
	if err := c.guardSearchable("wantedCutoff"); err != nil {
		return nil, err
	}
	mark := func(items []Item) []Item {
		for i := range items {
			items[i].HasFile = true
			items[i].QualityCutoffNotMet = true
		}
		return items
	}
	if c.typ.SeriesBased() {
		records, err := wanted[episodePayload](ctx, c, "/wanted/cutoff", "wantedCutoff")
		if err != nil {
			return nil, err
		}
		out := make([]Item, 0, len(records))
		for _, e := range records {
			out = append(out, e.toItem(0))
		}
		return mark(out), nil
	}
	records, err := wanted[moviePayload](ctx, c, "/wanted/cutoff", "wantedCutoff")
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(records))
	for _, m := range records {
		out = append(out, m.toItem())
	}
	return mark(out), nil
}

// FullLibrary fetches the complete content inventory: every episode of every
// series (or every movie), with quality-cutoff flags folded in from the
// wanted listing. This is the expensive call full-reconciliation sweeps make.
func (c *Client) FullLibrary(ctx context.Context) ([]Item, error) {
	if err := c.guardSearchable("fullLibrary"); err != nil {
		return nil, err
	}

	cutoff, err := c.WantedCutoff(ctx)
	if err != nil {
		return nil, err
	}
	cutoffIDs := make(map[int64]bool, len(cutoff))
	for _, item := range cutoff {
		cutoffIDs[item.UpstreamID] = true
	}

	if c.typ == TypeRadarr {
		items, err := c.Movies(ctx)
		if err != nil {
			return nil, err
		}
		for i := range items {
			items[i].QualityCutoffNotMet = cutoffIDs[items[i].UpstreamID]
		}
		return items, nil
	}

	series, err := c.Series(ctx)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, s := range series {
		episodes, err := c.EpisodesBySeries(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		for i := range episodes {
			episodes[i].Year = s.Year
			episodes[i].QualityCutoffNotMet = cutoffIDs[episodes[i].UpstreamID]
		}
		items = append(items, episodes...)
	}
	return items, nil
}

// LibrarySince returns the current open gaps and upgrade candidates. The
// upstream surface has no modified-since filter, so incremental sweeps work
// from the wanted listings, which the mirror upserts idempotently; since is
// recorded for observability only.
func (c *Client) LibrarySince(ctx context.Context, since time.Time) ([]Item, error) {
	if err := c.guardSearchable("librarySince"); err != nil {
		return nil, err
	}
	logger := c.loggerFor(ctx)
	logger.Debug().
		Str("event", "connector.library_since").
		Time("since", since).
		Msg("fetching wanted listings")

	missing, err := c.WantedMissing(ctx)
	if err != nil {
		return nil, err
	}
	cutoff, err := c.WantedCutoff(ctx)
	if err != nil {
		return nil, err
	}
	return append(missing, cutoff...), nil
}
