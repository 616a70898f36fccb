package model

import (
	"sort"
	"sync"
)

// Profile is the raw author object as delivered upstream. It stays generic so
// material-change detection can look at every field the API happens to send.
type Profile map[string]any

// ID returns the profile's string ID, falling back to the numeric id field.
func (p Profile) ID() string {
	if p == nil {
		return ""
	}
	if s, ok := p["id_str"].(string); ok && s != "" {
		return s
	}
	if s, ok := p["id"].(string); ok {
		return s
	}
	return ""
}

// Stub returns the minimal placeholder form of the profile.
func (p Profile) Stub() Profile {
	return Profile{"id_str": p.ID()}
}

// IsStub reports whether the profile carries nothing beyond its identity.
func (p Profile) IsStub() bool {
	for k := range p {
		if k != "id" && k != "id_str" {
			return false
		}
	}
	return true
}

// Mention is one @-mention inside a post's entities.
type Mention struct {
	ID     string `json:"id_str,omitempty"`
	Handle string `json:"screen_name,omitempty"`
}

// Entities holds the subset of upstream entities the engine reads.
type Entities struct {
	Mentions []Mention `json:"user_mentions,omitempty"`
}

// ExtendedPost carries the untruncated payload merged in during normalization.
type ExtendedPost struct {
	FullText string    `json:"full_text,omitempty"`
	Entities *Entities `json:"entities,omitempty"`
}

// Post mirrors the upstream v1.1 status fields the engine reads. IDs and
// millisecond timestamps stay as decimal strings end to end.
type Post struct {
	ID          string        `json:"id_str"`
	Text        string        `json:"text,omitempty"`
	FullText    string        `json:"full_text,omitempty"`
	Truncated   bool          `json:"truncated,omitempty"`
	CreatedAt   string        `json:"created_at,omitempty"`
	TimestampMS string        `json:"timestamp_ms,omitempty"`
	Author      Profile       `json:"user,omitempty"`
	Extended    *ExtendedPost `json:"extended_tweet,omitempty"`
	Repost      *Post         `json:"retweeted_status,omitempty"`
	Quoted      *Post         `json:"quoted_status,omitempty"`
	ReplyToID   string        `json:"in_reply_to_status_id_str,omitempty"`
	ReplyToUser string        `json:"in_reply_to_user_id_str,omitempty"`
	Entities    *Entities     `json:"entities,omitempty"`
}

// AuthorID returns the post author's ID, empty for nil posts.
func (p *Post) AuthorID() string {
	if p == nil {
		return ""
	}
	return p.Author.ID()
}

// Mentions returns the post's mention entities, nil when absent.
func (p *Post) Mentions() []Mention {
	if p == nil || p.Entities == nil {
		return nil
	}
	return p.Entities.Mentions
}

// Record output types.
const (
	RecUserTweet  = "user_tweet"
	RecOtherTweet = "other_tweet"
	RecFavorite   = "favorite"
	RecUnfavorite = "unfavorite"
	RecDelete     = "delete"
	RecUser       = "user"
	RecUserSet    = "user_set"
	RecConfig     = "config"
	RecDisplay    = "log:display"
)

// Record is one classified output envelope handed to the storage collaborator
// (or, for log types, to the supervision channel).
type Record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// FavoriteData is the payload of favorite/unfavorite records.
type FavoriteData struct {
	PostID      string `json:"id_str"`
	AuthorID    string `json:"author_id,omitempty"`
	TimestampMS string `json:"timestamp_ms"`
}

// DeleteData is the payload of delete records.
type DeleteData struct {
	PostID      string `json:"id_str"`
	AuthorID    string `json:"user_id_str,omitempty"`
	TimestampMS string `json:"timestamp_ms,omitempty"`
}

// UserSetData is the payload of user_set records: a full replacement of one
// membership set.
type UserSetData struct {
	Kind SetKind  `json:"kind"`
	IDs  []string `json:"ids"`
}

// SetKind names one of the four membership sets.
type SetKind string

const (
	SetFollowing SetKind = "following"
	SetFollower  SetKind = "follower"
	SetBlocked   SetKind = "blocked"
	SetMuted     SetKind = "muted"
)

// SetKinds lists all membership sets in refresh order.
var SetKinds = []SetKind{SetFollowing, SetFollower, SetBlocked, SetMuted}

// Sets holds the four membership sets. Guarded internally: the stream handler
// mutates while backfill goroutines read.
type Sets struct {
	mu   sync.RWMutex
	sets map[SetKind]map[string]struct{}
}

func NewSets() *Sets {
	s := &Sets{sets: make(map[SetKind]map[string]struct{}, len(SetKinds))}
	for _, k := range SetKinds {
		s.sets[k] = make(map[string]struct{})
	}
	return s
}

// Replace swaps the whole set, as on a refresh or a friends seed event.
func (s *Sets) Replace(kind SetKind, ids []string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = struct{}{}
		}
	}
	s.mu.Lock()
	s.sets[kind] = m
	s.mu.Unlock()
}

func (s *Sets) Add(kind SetKind, id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.sets[kind][id] = struct{}{}
	s.mu.Unlock()
}

func (s *Sets) Remove(kind SetKind, id string) {
	s.mu.Lock()
	delete(s.sets[kind], id)
	s.mu.Unlock()
}

func (s *Sets) Has(kind SetKind, id string) bool {
	s.mu.RLock()
	_, ok := s.sets[kind][id]
	s.mu.RUnlock()
	return ok
}

// IDs returns the set's members in stable order.
func (s *Sets) IDs(kind SetKind) []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.sets[kind]))
	for id := range s.sets[kind] {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// TimelineKind names one of the three backfilled REST timelines.
type TimelineKind string

const (
	TimelineUser      TimelineKind = "user"
	TimelineMentions  TimelineKind = "mentions"
	TimelineFavorites TimelineKind = "favorites"
)

// TimelineKinds lists the backfilled timelines.
var TimelineKinds = []TimelineKind{TimelineUser, TimelineMentions, TimelineFavorites}

// Cursor bounds a timeline's ingested range. MaxID only ever advances;
// SinceID is written once, the first time the timeline is fetched, and
// anchors the beginning of tracked history.
type Cursor struct {
	SinceID string `json:"since_id"`
	MaxID   string `json:"max_id"`
}
