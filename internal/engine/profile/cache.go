// Package profile keeps a small in-memory cache of display profiles so
// authenticated reads do not hit the store on every request.
package profile

import (
	"sync"
	"time"

	"idsync/internal/platform/models"
)

type Profile struct {
	User         *models.User         `json:"user"`
	Organization *models.Organization `json:"organization"`
}

type cached struct {
	profile  *Profile
	cachedAt time.Time
}

type Cache struct {
	store sync.Map // map[user uuid]*cached
	ttl   time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{ttl: ttl}
}

func (c *Cache) Get(userUUID string) (*Profile, bool) {
	val, ok := c.store.Load(userUUID)
	if !ok {
		return nil, false
	}

	entry := val.(*cached)
	if time.Since(entry.cachedAt) > c.ttl {
		c.store.Delete(userUUID)
		return nil, false
	}

	return entry.profile, true
}

func (c *Cache) Set(userUUID string, p *Profile) {
	c.store.Store(userUUID, &cached{profile: p, cachedAt: time.Now()})
}

// Invalidate drops a user's cached profile. Wired as a user-update
// observer so reconciliations evict stale entries.
func (c *Cache) Invalidate(userUUID string) {
	c.store.Delete(userUUID)
}
