// SPDX-License-Identifier: MIT

package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type commandPayload struct {
	ID     int64      `json:"id"`
	Name   string     `json:"name"`
	Status string     `json:"status"`
	Queued *time.Time `json:"queued"`
	Ended  *time.Time `json:"ended"`
}

func (p commandPayload) toResult() *CommandResult {
	out := &CommandResult{ID: p.ID, Name: p.Name, State: mapCommandState(p.Status)}
	if p.Queued != nil {
		out.Queued = *p.Queued
	}
	if p.Ended != nil {
		out.Ended = *p.Ended
	}
	return out
}

// mapCommandState folds the upstream's wider status vocabulary into the four
// states the tracker distinguishes.
func mapCommandState(status string) CommandState {
	switch status {
	case "queued":
		return CommandQueued
	case "started", "running":
		return CommandStarted
	case "completed":
		return CommandCompleted
	default:
		// failed, aborted, cancelled, orphaned
		return CommandFailed
	}
}

// PostCommand dispatches one search command and returns the upstream command
// id the tracker correlates on.
func (c *Client) PostCommand(ctx context.Context, cmd SearchCommand) (int64, error) {
	if err := c.guardSearchable("postCommand"); err != nil {
		return 0, err
	}

	body := map[string]interface{}{"name": string(cmd.Kind)}
	switch cmd.Kind {
	case SearchEpisodes:
		if len(cmd.EpisodeIDs) == 0 {
			return 0, &APIError{Sentinel: ErrUnsupported, Operation: "postCommand", Message: "EpisodeSearch without episode ids"}
		}
		body["episodeIds"] = cmd.EpisodeIDs
	case SearchSeason:
		if cmd.SeriesID == 0 {
			return 0, &APIError{Sentinel: ErrUnsupported, Operation: "postCommand", Message: "SeasonSearch without series id"}
		}
		body["seriesId"] = cmd.SeriesID
		body["seasonNumber"] = cmd.SeasonNumber
	case SearchMovies:
		if len(cmd.MovieIDs) == 0 {
			return 0, &APIError{Sentinel: ErrUnsupported, Operation: "postCommand", Message: "MoviesSearch without movie ids"}
		}
		body["movieIds"] = cmd.MovieIDs
	default:
		return 0, &APIError{Sentinel: ErrUnsupported, Operation: "postCommand", Message: fmt.Sprintf("unknown search kind %q", cmd.Kind)}
	}

	data, err := c.do(ctx, http.MethodPost, c.api("/command"), nil, body, "postCommand")
	if err != nil {
		return 0, err
	}
	var payload commandPayload
	if err := unmarshalPayload(data, &payload, "postCommand"); err != nil {
		return 0, err
	}
	return payload.ID, nil
}

// Command fetches the current state of a dispatched command.
func (c *Client) Command(ctx context.Context, id int64) (*CommandResult, error) {
	var payload commandPayload
	path := c.api("/command/" + strconv.FormatInt(id, 10))
	if err := c.getJSON(ctx, path, nil, "command", &payload); err != nil {
		return nil, err
	}
	return payload.toResult(), nil
}

// Queue returns the upstream download queue. The tracker consults it to see
// whether a search produced a grab before the command completes.
func (c *Client) Queue(ctx context.Context) ([]QueueItem, error) {
	if err := c.guardSearchable("queue"); err != nil {
		return nil, err
	}
	query := url.Values{
		"page":     {"1"},
		"pageSize": {strconv.Itoa(queuePageSize)},
	}
	var payload pagedRecords[struct {
		ID        int64  `json:"id"`
		EpisodeID int64  `json:"episodeId"`
		MovieID   int64  `json:"movieId"`
		Status    string `json:"status"`
	}]
	if err := c.getJSON(ctx, c.api("/queue"), query, "queue", &payload); err != nil {
		return nil, err
	}
	out := make([]QueueItem, 0, len(payload.Records))
	for _, r := range payload.Records {
		out = append(out, QueueItem{ID: r.ID, EpisodeID: r.EpisodeID, MovieID: r.MovieID, Status: r.Status})
	}
	return out, nil
}
