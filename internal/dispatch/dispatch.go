// Package dispatch decide cómo entra un amigo a un servicio concedido:
// redirect plano, puente de localStorage, cookie en el dominio padre o
// credenciales en pantalla. Es una máquina de estados por request sobre
// (identidad válida, grant presente, estrategia del servicio).
package dispatch

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/nelsonblaha/homepage/internal/bridge"
	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/metrics"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// Kind clasifica la decisión; la capa HTTP la traduce a respuesta.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindRedirect        Kind = "redirect"
	KindBridge          Kind = "bridge"
	KindCookie          Kind = "cookie"
	KindCredentials     Kind = "credentials"
)

// Credentials son las credenciales almacenadas que se muestran en pantalla.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Decision es el contrato con la capa de presentación: redirect, cookie,
// puente o credenciales; nunca detalles internos de los adapters.
type Decision struct {
	Kind        Kind
	Reason      string
	RedirectURL string
	Cookie      *integrations.CookieGrant
	Credentials *Credentials
	// Fallback marca una degradación: la integración falló en pleno
	// dispatch y se muestran las credenciales almacenadas en su lugar.
	Fallback bool
}

// URLs resuelve la URL pública de un servicio por subdominio.
type URLs interface {
	ServiceURL(subdomain string) string
}

// Dispatcher resuelve decisiones de acceso. No guarda estado por request.
type Dispatcher struct {
	repo     core.Repository
	registry *integrations.Registry
	signer   *bridge.Signer
	urls     URLs
	log      *zap.Logger
}

func New(repo core.Repository, registry *integrations.Registry, signer *bridge.Signer, urls URLs) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		registry: registry,
		signer:   signer,
		urls:     urls,
		log:      logger.Named("dispatch"),
	}
}

// DispatchToken resuelve al amigo por su token de enlace y despacha.
// Token desconocido o enlace caducado terminan en unauthenticated.
func (d *Dispatcher) DispatchToken(ctx context.Context, token, target string) (Decision, error) {
	if token == "" {
		return Decision{Kind: KindUnauthenticated, Reason: "token ausente"}, nil
	}
	friend, err := d.repo.GetFriendByToken(ctx, token)
	if errors.Is(err, core.ErrNotFound) {
		return Decision{Kind: KindUnauthenticated, Reason: "token desconocido"}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return d.Dispatch(ctx, friend, target)
}

// Dispatch decide el acceso de un amigo ya identificado a un servicio,
// referido por subdominio o por id. friend == nil es unauthenticated.
func (d *Dispatcher) Dispatch(ctx context.Context, friend *core.Friend, target string) (Decision, error) {
	if friend == nil {
		return Decision{Kind: KindUnauthenticated, Reason: "sesión inválida"}, nil
	}
	if friend.ExpiresAt != nil && time.Now().After(*friend.ExpiresAt) {
		return Decision{Kind: KindUnauthenticated, Reason: "enlace caducado"}, nil
	}

	svc, err := d.repo.GetServiceBySubdomain(ctx, target)
	if errors.Is(err, core.ErrNotFound) {
		svc, err = d.repo.GetServiceByID(ctx, target)
	}
	if errors.Is(err, core.ErrNotFound) {
		return Decision{Kind: KindForbidden, Reason: "servicio desconocido"}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	grant, err := d.repo.GetGrant(ctx, friend.ID, svc.ID)
	if errors.Is(err, core.ErrNotFound) {
		return Decision{Kind: KindForbidden, Reason: "sin acceso al servicio"}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	strategy := integrations.Strategy(grant.Strategy)
	if strategy == "" {
		strategy = d.registry.StrategyFor(svc.Integration)
	}
	dest := d.urls.ServiceURL(svc.Subdomain)

	switch strategy {
	case integrations.StrategyTokenInjection:
		return d.bridgeDecision(ctx, svc, grant, dest), nil
	case integrations.StrategyCookieProxy:
		return d.cookieDecision(ctx, svc, grant, dest), nil
	case integrations.StrategyCredentialDisplay:
		return credentialDecision(grant, false, ""), nil
	default:
		// basic (el edge proxy reta por su cuenta), external_pin y none.
		return Decision{Kind: KindRedirect, RedirectURL: dest}, nil
	}
}

// bridgeDecision hace login contra la integración y embala el artefacto en
// un payload firmado que consume la página puente del subdominio destino.
func (d *Dispatcher) bridgeDecision(ctx context.Context, svc *core.Service, grant *core.Grant, dest string) Decision {
	slug := svc.Integration
	adapter, ok := d.registry.AdapterFor(slug)
	if !ok {
		return credentialDecision(grant, true, "integración sin configurar")
	}
	auth, ok := adapter.(integrations.TokenAuthenticator)
	if !ok || grant.Username == "" || grant.Password == "" {
		return credentialDecision(grant, true, "sin credenciales para login automático")
	}

	start := time.Now()
	tg, err := auth.Login(ctx, grant.Username, grant.Password)
	metrics.RecordIntegrationOp(slug, "login", err, time.Since(start))
	if err != nil {
		d.log.Warn("login de integración falló, degradando a credenciales",
			logger.ServiceSlug(slug), logger.Err(err))
		return credentialDecision(grant, true, "el servicio rechazó el login automático")
	}

	signed, err := d.signer.Sign(bridge.Payload{
		Slug:         slug,
		Forward:      dest,
		LocalStorage: tg.LocalStorage,
	})
	if err != nil {
		return credentialDecision(grant, true, "no se pudo firmar el payload puente")
	}
	return Decision{
		Kind:        KindBridge,
		RedirectURL: dest + "auth-setup/" + slug + "?payload=" + url.QueryEscape(signed),
	}
}

// cookieDecision hace login y devuelve la cookie de sesión del servicio para
// fijarla en el dominio padre compartido antes de redirigir.
func (d *Dispatcher) cookieDecision(ctx context.Context, svc *core.Service, grant *core.Grant, dest string) Decision {
	slug := svc.Integration
	adapter, ok := d.registry.AdapterFor(slug)
	if !ok {
		return credentialDecision(grant, true, "integración sin configurar")
	}
	auth, ok := adapter.(integrations.CookieAuthenticator)
	if !ok || grant.Username == "" || grant.Password == "" {
		return credentialDecision(grant, true, "sin credenciales para login automático")
	}

	start := time.Now()
	cg, err := auth.Login(ctx, grant.Username, grant.Password)
	metrics.RecordIntegrationOp(slug, "login", err, time.Since(start))
	if err != nil {
		d.log.Warn("login de integración falló, degradando a credenciales",
			logger.ServiceSlug(slug), logger.Err(err))
		return credentialDecision(grant, true, "el servicio rechazó el login automático")
	}
	return Decision{Kind: KindCookie, Cookie: &cg, RedirectURL: dest}
}

// credentialDecision arma la respuesta de credenciales en pantalla. Con
// fallback=true marca una degradación; si no hay nada almacenado, la
// decisión viaja igual con Reason para que la superficie lo explique.
func credentialDecision(grant *core.Grant, fallback bool, reason string) Decision {
	dec := Decision{Kind: KindCredentials, Fallback: fallback, Reason: reason}
	if grant.Username != "" || grant.Password != "" {
		dec.Credentials = &Credentials{Username: grant.Username, Password: grant.Password}
	}
	return dec
}
