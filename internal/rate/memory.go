package rate

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter es la misma ventana fija que RedisLimiter pero in-process,
// para despliegues sin Redis.
type MemoryLimiter struct {
	prefix string
	max    int64
	window time.Duration

	mu   sync.Mutex
	data *gocache.Cache
}

func NewMemoryLimiter(prefix string, max int, window time.Duration) *MemoryLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &MemoryLimiter{
		prefix: prefix,
		max:    int64(max),
		window: window,
		data:   gocache.New(window, 2*window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	k, ttl := windowKey(l.prefix, key, l.window, time.Now().UTC())

	// El mutex hace atómica la pareja Add/Increment.
	l.mu.Lock()
	var hits int64
	if err := l.data.Add(k, int64(1), l.window); err == nil {
		hits = 1
	} else {
		hits, _ = l.data.IncrementInt64(k, 1)
	}
	l.mu.Unlock()

	return verdict(hits, l.max, ttl), nil
}
