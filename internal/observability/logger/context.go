package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext cuelga un logger del contexto. El middleware HTTP lo usa para
// propagar el logger del request con el request_id ya incluido.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From recupera el logger del contexto, o el global si no hay ninguno:
// el caller no necesita saber si el middleware corrió o no.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return L()
}
