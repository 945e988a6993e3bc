// Package app arma el contenedor de dependencias: store, cache, registry de
// integraciones, reconciler, dispatcher y los servicios de sesión y enlace.
// Todo el cableado vive aquí para que main y los tests compongan igual.
package app

import (
	"context"
	"fmt"

	rdb "github.com/redis/go-redis/v9"

	"github.com/nelsonblaha/homepage/internal/activity"
	"github.com/nelsonblaha/homepage/internal/bridge"
	"github.com/nelsonblaha/homepage/internal/cache"
	"github.com/nelsonblaha/homepage/internal/config"
	"github.com/nelsonblaha/homepage/internal/dispatch"
	"github.com/nelsonblaha/homepage/internal/email"
	"github.com/nelsonblaha/homepage/internal/friendauth"
	"github.com/nelsonblaha/homepage/internal/htpasswd"
	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/integrations/jellyfin"
	"github.com/nelsonblaha/homepage/internal/integrations/jitsi"
	"github.com/nelsonblaha/homepage/internal/integrations/mattermost"
	"github.com/nelsonblaha/homepage/internal/integrations/nextcloud"
	"github.com/nelsonblaha/homepage/internal/integrations/ombi"
	"github.com/nelsonblaha/homepage/internal/integrations/overseerr"
	"github.com/nelsonblaha/homepage/internal/integrations/plex"
	"github.com/nelsonblaha/homepage/internal/metrics"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/poller"
	"github.com/nelsonblaha/homepage/internal/rate"
	"github.com/nelsonblaha/homepage/internal/reconcile"
	"github.com/nelsonblaha/homepage/internal/sessions"
	"github.com/nelsonblaha/homepage/internal/store/core"
	"github.com/nelsonblaha/homepage/internal/store/pg"
	"github.com/nelsonblaha/homepage/internal/util"
)

// Container es el contenedor DI simple que usan los handlers.
type Container struct {
	Cfg      *config.Config
	Store    core.Repository
	Cache    cache.Client
	Registry *integrations.Registry

	Sessions   *sessions.Service
	FriendAuth *friendauth.Service
	Reconciler *reconcile.Reconciler
	Dispatcher *dispatch.Dispatcher
	Bridge     *bridge.Signer
	Poller     *poller.Poller
	Activity   *activity.Recorder
	Notifier   *email.Notifier // nil cuando no hay SMTP

	LoginLimiter rate.Limiter
	ViewLimiter  rate.Limiter

	pgStore *pg.Store
}

// PG expone el store concreto para métricas del pool y migraciones.
func (c *Container) PG() *pg.Store { return c.pgStore }

// Close libera store y cache. Idempotente.
func (c *Container) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}

// Build cablea el contenedor completo a partir de la config.
func Build(ctx context.Context, cfg *config.Config) (*Container, error) {
	log := logger.Named("app")

	store, err := pg.New(ctx, cfg.Storage.Postgres.DSN, pg.Config{
		MaxConns:        cfg.Storage.Postgres.MaxConns,
		MinConns:        cfg.Storage.Postgres.MinConns,
		MaxConnLifetime: cfg.Storage.Postgres.MaxConnLifetime,
		MaxConnIdleTime: cfg.Storage.Postgres.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("app: store: %w", err)
	}

	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("app: cache: %w", err)
	}

	registry := buildRegistry(cfg)
	log.Info("integraciones configuradas", logger.Any("slugs", registry.Slugs()))

	var reloader htpasswd.Reloader = htpasswd.NopReloader{}
	if len(cfg.BasicAuth.ReloadCmd) > 0 {
		reloader = htpasswd.CommandReloader{Argv: cfg.BasicAuth.ReloadCmd}
	}
	basic := htpasswd.New(cfg.BasicAuth.Dir, reloader)

	reconciler := reconcile.New(store, registry, basic, 0)
	signer := bridge.NewSigner(cfg.Bridge.Secret, config.Dur(cfg.Bridge.TTL))
	dispatcher := dispatch.New(store, registry, signer, cfg)

	sessionSvc := sessions.New(store, config.Dur(cfg.Session.TTL), config.Dur(cfg.Session.RememberTTL))
	friendAuth := friendauth.New(store, cacheClient)
	recorder := activity.NewRecorder(store)

	var statusPoller *poller.Poller
	if cfg.Status.Enabled {
		statusPoller = poller.New(store, registry, cacheClient,
			config.Dur(cfg.Status.Interval), config.Dur(cfg.Status.Timeout), cfg.Status.Concurrency)
	}

	var notifier *email.Notifier
	if cfg.SMTP.Enabled && cfg.SMTP.Host != "" {
		sender := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		sender.TLSMode = cfg.SMTP.TLSMode
		notifier = email.NewNotifier(sender, cfg.SMTP.NotifyTo, cfg.BaseURL())
		log.Info("notificaciones por email activas",
			logger.String("to", util.MaskEmail(cfg.SMTP.NotifyTo)))
	}

	// Con Redis de backend los contadores sobreviven reinicios; en memoria
	// bastan para frenar la adivinación de tokens en una sola instancia.
	var redisClient *rdb.Client
	if withRedis, ok := cacheClient.(interface{ Redis() *rdb.Client }); ok {
		redisClient = withRedis.Redis()
	}
	var loginLimiter, viewLimiter rate.Limiter
	if cfg.Rate.Enabled {
		loginLimiter = rate.New(redisClient, "rl:login:", cfg.Rate.Login.Limit, config.Dur(cfg.Rate.Login.Window))
		viewLimiter = rate.New(redisClient, "rl:view:", cfg.Rate.View.Limit, config.Dur(cfg.Rate.View.Window))
	}

	if err := metrics.Register(nil); err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	return &Container{
		Cfg:          cfg,
		Store:        store,
		Cache:        cacheClient,
		Registry:     registry,
		Sessions:     sessionSvc,
		FriendAuth:   friendAuth,
		Reconciler:   reconciler,
		Dispatcher:   dispatcher,
		Bridge:       signer,
		Poller:       statusPoller,
		Activity:     recorder,
		Notifier:     notifier,
		LoginLimiter: loginLimiter,
		ViewLimiter:  viewLimiter,
		pgStore:      store,
	}, nil
}

// buildRegistry instancia solo los adapters con URL configurada: un bloque
// vacío deja la integración fuera y el registry la reporta como no disponible.
func buildRegistry(cfg *config.Config) *integrations.Registry {
	var adapters []integrations.Adapter

	emailDomain := cfg.Domain.Base

	if c := cfg.Integrations.Ombi; c.URL != "" {
		adapters = append(adapters, ombi.New(c.URL, c.APIKey))
	}
	if c := cfg.Integrations.Jellyfin; c.URL != "" {
		adapters = append(adapters, jellyfin.New(c.URL, c.APIKey))
	}
	if c := cfg.Integrations.Overseerr; c.URL != "" {
		adapters = append(adapters, overseerr.New(c.URL, c.APIKey, emailDomain))
	}
	if c := cfg.Integrations.Mattermost; c.URL != "" {
		adapters = append(adapters, mattermost.New(c.URL, c.Token, c.TeamID, emailDomain))
	}
	if c := cfg.Integrations.Nextcloud; c.URL != "" {
		adapters = append(adapters, nextcloud.New(c.URL, c.AdminUser, c.AdminPass))
	}
	if c := cfg.Integrations.Plex; c.URL != "" {
		adapters = append(adapters, plex.New(c.URL, c.Token))
	}
	if c := cfg.Integrations.Jitsi; c.URL != "" {
		adapters = append(adapters, jitsi.New(c.URL, c.StatsURL))
	}
	return integrations.NewRegistry(adapters...)
}
