package logger

import "go.uber.org/zap"

// Campos tipados para las claves que se repiten por todo el código: así
// el nombre queda estable en los dashboards aunque cambie el caller.

// HTTP.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }

// Dominio.
func FriendID(v string) zap.Field    { return zap.String("friend_id", v) }
func FriendName(v string) zap.Field  { return zap.String("friend_name", v) }
func ServiceID(v string) zap.Field   { return zap.String("service_id", v) }
func ServiceSlug(v string) zap.Field { return zap.String("service_slug", v) }
func Action(v string) zap.Field      { return zap.String("action", v) }
func SessionKind(v string) zap.Field { return zap.String("session_kind", v) }

// Diagnóstico.
func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

// Genéricos, para claves de un solo uso.
func ID(v string) zap.Field             { return zap.String("id", v) }
func Count(v int) zap.Field             { return zap.Int("count", v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
