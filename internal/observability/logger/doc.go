// Package logger centraliza el zap.Logger del proceso.
//
// Hay una sola instancia global: Init una vez en main, L() o Named(...)
// después. El middleware HTTP cuelga del contexto un logger que ya trae
// el request_id; From(ctx) lo recupera en cualquier capa sin acoplarse
// al middleware.
//
//	logger.Init(logger.Config{
//	    Env:   cfg.App.Env,                      // "development" | "production"
//	    Level: os.Getenv("HOMEPAGE_LOG_LEVEL"),  // debug | info | warn | error
//	})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Info("cuenta aprovisionada", logger.FriendID(id), logger.ServiceSlug(slug))
//
// En producción emite JSON a stdout; en desarrollo, consola con colores.
package logger
