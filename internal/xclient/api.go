package xclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"perch/internal/model"
)

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	reqURL := c.baseURL + endpoint + "?" + encodeQuery(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	c.oauth1Sign(req, params)
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Status: resp.StatusCode, Endpoint: endpoint}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("api %s status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AuthError marks a credential failure; the process treats it as fatal.
type AuthError struct {
	Status   int
	Endpoint string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("api %s auth failure (status %d)", e.Endpoint, e.Status)
}

var timelineEndpoints = map[model.TimelineKind]string{
	model.TimelineUser:      "/statuses/user_timeline.json",
	model.TimelineMentions:  "/statuses/mentions_timeline.json",
	model.TimelineFavorites: "/favorites/list.json",
}

// TimelinePage fetches one page of a timeline bounded by since_id/max_id.
// Empty bounds are omitted from the request.
func (c *Client) TimelinePage(ctx context.Context, kind model.TimelineKind, userID, sinceID, maxID string, count int) ([]*model.Post, error) {
	endpoint, ok := timelineEndpoints[kind]
	if !ok {
		return nil, fmt.Errorf("unknown timeline kind %q", kind)
	}
	params := map[string]string{
		"count":      strconv.Itoa(count),
		"tweet_mode": "extended",
	}
	if kind != model.TimelineMentions {
		params["user_id"] = userID
	}
	if sinceID != "" {
		params["since_id"] = sinceID
	}
	if maxID != "" {
		params["max_id"] = maxID
	}
	var out []*model.Post
	if err := c.get(ctx, endpoint, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LookupPosts batch-resolves up to 100 post IDs.
func (c *Client) LookupPosts(ctx context.Context, ids []string) ([]*model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > 100 {
		ids = ids[:100]
	}
	params := map[string]string{
		"id":         strings.Join(ids, ","),
		"tweet_mode": "extended",
		"map":        "false",
	}
	var out []*model.Post
	if err := c.get(ctx, "/statuses/lookup.json", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var setEndpoints = map[model.SetKind]string{
	model.SetFollowing: "/friends/ids.json",
	model.SetFollower:  "/followers/ids.json",
	model.SetBlocked:   "/blocks/ids.json",
	model.SetMuted:     "/mutes/users/ids.json",
}

// MemberIDs walks a cursor-paginated ID listing to a full membership set.
func (c *Client) MemberIDs(ctx context.Context, kind model.SetKind, userID string) ([]string, error) {
	endpoint, ok := setEndpoints[kind]
	if !ok {
		return nil, fmt.Errorf("unknown set kind %q", kind)
	}
	cursor := "-1"
	var out []string
	for cursor != "0" {
		params := map[string]string{
			"stringify_ids": "true",
			"cursor":        cursor,
		}
		if kind == model.SetFollowing || kind == model.SetFollower {
			params["user_id"] = userID
		}
		var page struct {
			IDs        []string `json:"ids"`
			NextCursor string   `json:"next_cursor_str"`
		}
		if err := c.get(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}
		out = append(out, page.IDs...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// Verify checks the credentials and returns the authenticated profile.
func (c *Client) Verify(ctx context.Context) (model.Profile, error) {
	var out model.Profile
	params := map[string]string{"skip_status": "true"}
	if err := c.get(ctx, "/account/verify_credentials.json", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
