package bus

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DedupeCache remembers event keys for a TTL. When full, the least recently
// seen key is forgotten first.
type DedupeCache struct {
	mu   sync.Mutex
	seen *lru.Cache[string, time.Time]
	ttl  time.Duration
	now  func() time.Time
}

func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if maxSize <= 0 {
		maxSize = DefaultDedupeMax
	}
	seen, _ := lru.New[string, time.Time](maxSize) // only fails for size <= 0
	return &DedupeCache{seen: seen, ttl: ttl, now: time.Now}
}

// IsDuplicate reports whether key was seen within the TTL and records it
// otherwise. A redelivery inside the window does not extend it.
func (d *DedupeCache) IsDuplicate(key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.seen.Get(key); ok && now.Sub(at) <= d.ttl {
		return true
	}
	d.seen.Add(key, now)
	return false
}

// Len returns the number of remembered keys, expired ones included.
func (d *DedupeCache) Len() int {
	return d.seen.Len()
}
