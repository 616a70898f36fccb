package stream

import (
	"encoding/json"

	"perch/internal/model"
)

// Event kinds delivered by the user stream.
const (
	KindFriends    = "friends"
	KindFollow     = "follow"
	KindUnfollow   = "unfollow"
	KindBlock      = "block"
	KindUnblock    = "unblock"
	KindMute       = "mute"
	KindUnmute     = "unmute"
	KindFavorite   = "favorite"
	KindUnfavorite = "unfavorite"
	KindQuoted     = "quoted_tweet"
	KindDelete     = "delete"
	KindStatus     = "status"
)

// Event is one upstream streaming event as a tagged union.
type Event struct {
	Kind        string
	FriendIDs   []string
	Source      model.Profile
	Target      model.Profile
	Post        *model.Post
	PostID      string
	UserID      string
	TimestampMS string
}

// parseEvent decodes one frame of the user stream. The stream multiplexes
// several shapes on one connection: a friends seed list, named events with
// source/target, delete notices, and bare statuses.
func parseEvent(data []byte) (Event, bool) {
	var probe struct {
		Friends []json.Number `json:"friends"`
		Event   string        `json:"event"`
		Delete  *struct {
			Status struct {
				ID          string `json:"id_str"`
				UserID      string `json:"user_id_str"`
				TimestampMS string `json:"timestamp_ms"`
			} `json:"status"`
		} `json:"delete"`
		ID string `json:"id_str"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Event{}, false
	}

	switch {
	case probe.Friends != nil:
		ids := make([]string, 0, len(probe.Friends))
		for _, n := range probe.Friends {
			ids = append(ids, n.String())
		}
		return Event{Kind: KindFriends, FriendIDs: ids}, true

	case probe.Delete != nil:
		return Event{
			Kind:        KindDelete,
			PostID:      probe.Delete.Status.ID,
			UserID:      probe.Delete.Status.UserID,
			TimestampMS: probe.Delete.Status.TimestampMS,
		}, true

	case probe.Event != "":
		var ev struct {
			Event        string        `json:"event"`
			Source       model.Profile `json:"source"`
			Target       model.Profile `json:"target"`
			TargetObject *model.Post   `json:"target_object"`
			TimestampMS  string        `json:"timestamp_ms"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return Event{}, false
		}
		return Event{
			Kind:        ev.Event,
			Source:      ev.Source,
			Target:      ev.Target,
			Post:        ev.TargetObject,
			TimestampMS: ev.TimestampMS,
		}, true

	case probe.ID != "":
		var p model.Post
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, false
		}
		return Event{Kind: KindStatus, Post: &p}, true
	}
	return Event{}, false
}
