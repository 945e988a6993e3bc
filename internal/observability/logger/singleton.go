package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init construye el logger del proceso. Idempotente: la primera llamada
// gana, así los tests pueden inicializarlo sin pisarse entre sí.
func Init(cfg Config) {
	once.Do(func() { instance = build(cfg) })
}

// L retorna el logger global. Si nadie llamó Init todavía, arranca uno de
// desarrollo para no perder los logs tempranos.
func L() *zap.Logger {
	if instance == nil {
		Init(Config{Env: "development", Level: "info"})
	}
	return instance
}

// Named retorna un logger hijo etiquetado con el nombre del componente.
func Named(name string) *zap.Logger { return L().Named(name) }

// Sync vuelca los buffers pendientes; va en defer al final de main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
