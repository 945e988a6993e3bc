// Package activity registra eventos de uso en el store para el panel de
// administración. El registro es best-effort: un fallo al insertar se
// loguea y se descarta, nunca interrumpe la operación que lo originó.
package activity

import (
	"context"

	"go.uber.org/zap"

	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// Acciones conocidas. Los listados del panel filtran por estos valores.
const (
	ActionPageView       = "page_view"       // el amigo abrió su página
	ActionServiceClick   = "service_click"   // el amigo pulsó un servicio
	ActionAuthLogin      = "auth_login"      // el amigo se verificó (contraseña/TOTP)
	ActionCredentialView = "credential_view" // el amigo consultó sus credenciales
	ActionGrant          = "grant"           // alta de acceso a un servicio
	ActionRevoke         = "revoke"          // baja de acceso a un servicio
	ActionRequestCreated = "request_created" // el amigo pidió acceso
	ActionRequestDecided = "request_decided" // el operador aprobó o denegó
)

// Recorder escribe entradas de actividad. Un Recorder nil es válido y
// descarta todo, para que los llamadores no tengan que comprobarlo.
type Recorder struct {
	repo core.Repository
	log  *zap.Logger
}

func NewRecorder(repo core.Repository) *Recorder {
	return &Recorder{repo: repo, log: logger.L().Named("activity")}
}

// Record inserta una entrada. friendID y serviceID vacíos se guardan como
// NULL. Nunca devuelve error: la actividad es secundaria al flujo principal.
func (r *Recorder) Record(ctx context.Context, action string, friendID, serviceID, detail string) {
	if r == nil || r.repo == nil {
		return
	}
	e := &core.ActivityEntry{Action: action, Detail: detail}
	if friendID != "" {
		e.FriendID = &friendID
	}
	if serviceID != "" {
		e.ServiceID = &serviceID
	}
	if err := r.repo.InsertActivity(ctx, e); err != nil {
		r.log.Warn("no se pudo registrar actividad",
			logger.Action(action), logger.FriendID(friendID), logger.Err(err))
	}
}

// PageView anota que un amigo abrió su página.
func (r *Recorder) PageView(ctx context.Context, friendID string) {
	r.Record(ctx, ActionPageView, friendID, "", "")
}

// ServiceClick anota que un amigo siguió el enlace de un servicio.
func (r *Recorder) ServiceClick(ctx context.Context, friendID, serviceID string) {
	r.Record(ctx, ActionServiceClick, friendID, serviceID, "")
}

// AuthLogin anota una verificación correcta del enlace.
func (r *Recorder) AuthLogin(ctx context.Context, friendID, detail string) {
	r.Record(ctx, ActionAuthLogin, friendID, "", detail)
}

// CredentialView anota que un amigo consultó credenciales de un servicio.
func (r *Recorder) CredentialView(ctx context.Context, friendID, serviceID string) {
	r.Record(ctx, ActionCredentialView, friendID, serviceID, "")
}
