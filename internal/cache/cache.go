package cache

import (
	"sync"

	"perch/internal/ident"
	"perch/internal/model"
)

type profileEntry struct {
	profile model.Profile
	// updateTime is the millisecond timestamp of the post the snapshot was
	// split from, as a decimal string.
	updateTime string
}

// Cache holds recently-seen profiles and posts to suppress redundant
// downstream writes. Growth between end-of-cycle evictions is unbounded by
// design; eviction after a completed refresh bounds it to roughly one
// cycle's worth of activity.
type Cache struct {
	mu       sync.Mutex
	profiles map[string]profileEntry
	posts    map[string]*model.Post
}

func New() *Cache {
	return &Cache{
		profiles: make(map[string]profileEntry),
		posts:    make(map[string]*model.Post),
	}
}

// SetProfile unconditionally overwrites the cached snapshot.
func (c *Cache) SetProfile(id string, p model.Profile, updateTime string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.profiles[id] = profileEntry{profile: p, updateTime: updateTime}
	c.mu.Unlock()
}

// UpdatePost inserts the post when absent, or when force is set (deletion
// tombstones). Reports whether a downstream write is newly warranted.
func (c *Cache) UpdatePost(p *model.Post, force bool) bool {
	if p == nil || p.ID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.posts[p.ID]; ok && !force {
		return false
	}
	c.posts[p.ID] = p
	return true
}

// HasPost reports whether the post is cached.
func (c *Cache) HasPost(id string) bool {
	c.mu.Lock()
	_, ok := c.posts[id]
	c.mu.Unlock()
	return ok
}

// UpdateProfile splits the embedded author out of the post, leaving only the
// ID stub behind. When the enclosing post is newer than the cached snapshot
// and the profile is materially different, the cache is updated and the new
// profile returned for emission; otherwise nothing is returned and the
// profile is not re-emitted.
func (c *Cache) UpdateProfile(p *model.Post) (model.Profile, bool) {
	if p == nil || p.Author == nil {
		return nil, false
	}
	author := p.Author
	id := author.ID()
	if id == "" || author.IsStub() {
		return nil, false
	}
	p.Author = author.Stub()
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.profiles[id]
	if ok && ident.CompareID(p.TimestampMS, prev.updateTime) <= 0 {
		return nil, false
	}
	if ok && ident.EqualProfile(prev.profile, author) {
		return nil, false
	}
	c.profiles[id] = profileEntry{profile: author, updateTime: p.TimestampMS}
	return author, true
}

// Evict drops cached posts strictly older than cutoff. An empty cutoff
// evicts nothing.
func (c *Cache) Evict(cutoff string) {
	if cutoff == "" {
		return
	}
	c.mu.Lock()
	for id := range c.posts {
		if ident.CompareID(id, cutoff) < 0 {
			delete(c.posts, id)
		}
	}
	c.mu.Unlock()
}

// PostCount reports the cached post population for stats logging.
func (c *Cache) PostCount() int {
	c.mu.Lock()
	n := len(c.posts)
	c.mu.Unlock()
	return n
}
