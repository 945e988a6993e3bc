// Package rate implementa rate limiting de ventana fija para los puntos
// calientes del panel: el login de admin y las vistas públicas por token.
package rate

import (
	"context"
	"strconv"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Result describe el veredicto para un hit.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration // solo con Allowed == false
	WindowTTL   time.Duration
	CurrentHits int64
}

// Limiter decide si un hit identificado por key entra en la ventana.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// New elige backend según haya Redis disponible o no: con client nil se usa
// la ventana fija en memoria (suficiente para una instancia única).
func New(client *rdb.Client, prefix string, max int, window time.Duration) Limiter {
	if client == nil {
		return NewMemoryLimiter(prefix, max, window)
	}
	return NewRedisLimiter(client, prefix, max, window)
}

// windowKey bucketiza key en la ventana fija que contiene a now, y retorna
// también cuánto falta para que esa ventana cierre.
func windowKey(prefix, key string, window time.Duration, now time.Time) (string, time.Duration) {
	start := now.Truncate(window)
	k := prefix + strings.ReplaceAll(key, " ", "_") + ":" + strconv.FormatInt(start.Unix(), 10)
	return k, start.Add(window).Sub(now)
}

// verdict arma el Result común a ambos backends.
func verdict(hits, max int64, ttl time.Duration) Result {
	res := Result{
		Allowed:     hits <= max,
		Remaining:   max - hits,
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res
}

// RedisLimiter cuenta hits con INCR+EXPIRE sobre el Redis compartido.
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k, ttl := windowKey(l.prefix, key, l.window, time.Now().UTC())

	hits, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Result{}, err
	}
	if hits == 1 {
		// Primer hit de la ventana: la key expira cuando la ventana cierra.
		_ = l.client.Expire(ctx, k, ttl).Err()
	}
	return verdict(hits, l.max, ttl), nil
}
