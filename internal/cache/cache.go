// Package cache provee un cache clave/valor con dos backends: memoria
// (el default en un homelab de un solo nodo) y Redis (si el stack ya trae
// uno). Lo consumen el snapshot de estado del poller, el contador
// anti-replay de TOTP y el rate limiting.
package cache

import (
	"context"
	"errors"
	"time"
)

// Client define las operaciones de cache que usa la aplicación.
type Client interface {
	// Get retorna el valor de key, o ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor. Con ttl 0 la key no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete borra la key; borrar una key inexistente no es error.
	Delete(ctx context.Context, key string) error

	// Ping verifica que el backend responde.
	Ping(ctx context.Context) error

	Close() error
}

// ErrNotFound señala una key inexistente o expirada.
var ErrNotFound = errors.New("cache: clave inexistente")

// IsNotFound es azúcar sobre errors.Is para el caso común.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Config describe el backend a usar.
type Config struct {
	Driver   string // "memory" | "redis"
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string // prefijo para todas las keys
}

// New crea el cliente según cfg.Driver. Un driver desconocido o vacío cae
// a memoria: la app siempre arranca aunque la config esté a medias.
func New(cfg Config) (Client, error) {
	if cfg.Driver == "redis" {
		return NewRedis(cfg)
	}
	return NewMemory(cfg.Prefix), nil
}
