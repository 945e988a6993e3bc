// Package reconcile aplica cambios en el conjunto de servicios concedidos a
// un amigo: crea y elimina cuentas en los servicios gestionados y mantiene
// las filas de grant en el store.
//
// La reconciliación no es transaccional entre servicios: cada id se procesa
// aislado y el resultado parcial es un estado final reportable. El operador
// siempre recibe la lista completa de outcomes, nunca un pass/fail global.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nelsonblaha/homepage/internal/credentials"
	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/metrics"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// Acciones reportadas en los outcomes.
const (
	ActionGrant  = "grant"
	ActionRevoke = "revoke"
)

// Outcome es el resultado por servicio de una pasada de reconciliación.
// El handler de admin lo devuelve tal cual como account_operations.
type Outcome struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name,omitempty"`
	Action      string `json:"action"` // grant|revoke
	Status      string `json:"status"` // active|error
	Warning     string `json:"warning,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BasicProvisioner gestiona credenciales basic-auth (archivos htpasswd).
type BasicProvisioner interface {
	Provision(ctx context.Context, friendName, subdomain string) (username, password string, err error)
	Revoke(ctx context.Context, subdomain, username string) error
}

// Reconciler calcula added/removed y aplica cada cambio contra el servicio
// externo que corresponda.
type Reconciler struct {
	repo     core.Repository
	registry *integrations.Registry
	basic    BasicProvisioner
	parallel int
	log      *zap.Logger

	// Serializa mutaciones de cuentas por slug de integración: dos altas
	// simultáneas contra el mismo servicio pueden chocar por username.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New crea un Reconciler. parallel <= 0 usa 4.
func New(repo core.Repository, registry *integrations.Registry, basic BasicProvisioner, parallel int) *Reconciler {
	if parallel <= 0 {
		parallel = 4
	}
	return &Reconciler{
		repo:     repo,
		registry: registry,
		basic:    basic,
		parallel: parallel,
		log:      logger.Named("reconcile"),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Reconciler) lockFor(slug string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.locks[slug]; ok {
		return m
	}
	m := &sync.Mutex{}
	r.locks[slug] = m
	return m
}

type task struct {
	serviceID string
	action    string
	grant     *core.Grant // solo para revoke
}

// Reconcile lleva los grants del amigo al conjunto newServiceIDs.
// added = new − old se aprovisiona; removed = old − new se revoca. Cada id
// se procesa aislado; los fallos quedan en su Outcome. Si ctx se cancela,
// las llamadas externas en vuelo terminan en un contexto desacoplado y sus
// resultados se descartan sin tocar el store.
func (r *Reconciler) Reconcile(ctx context.Context, friend *core.Friend, newServiceIDs []string) ([]Outcome, error) {
	current, err := r.repo.ListGrantsByFriend(ctx, friend.ID)
	if err != nil {
		return nil, err
	}
	services, err := r.repo.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*core.Service, len(services))
	for i := range services {
		byID[services[i].ID] = &services[i]
	}
	curByID := make(map[string]*core.Grant, len(current))
	for i := range current {
		curByID[current[i].ServiceID] = &current[i]
	}
	wanted := make(map[string]bool, len(newServiceIDs))

	var tasks []task
	for _, id := range newServiceIDs {
		if wanted[id] {
			continue // ids duplicados en la petición
		}
		wanted[id] = true
		if _, ok := curByID[id]; !ok {
			tasks = append(tasks, task{serviceID: id, action: ActionGrant})
		}
	}
	for i := range current {
		if !wanted[current[i].ServiceID] {
			tasks = append(tasks, task{serviceID: current[i].ServiceID, action: ActionRevoke, grant: &current[i]})
		}
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	results := make([]*Outcome, len(tasks))
	g := new(errgroup.Group)
	g.SetLimit(r.parallel)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			svc := byID[t.serviceID]

			// La llamada externa corre hasta el final aunque el request
			// muera a medias: mejor una cuenta huérfana que una a medio crear.
			detached := context.WithoutCancel(ctx)

			var out Outcome
			var apply func(context.Context) error
			switch t.action {
			case ActionGrant:
				out, apply = r.prepareGrant(detached, friend, svc, t.serviceID)
			case ActionRevoke:
				out, apply = r.prepareRevoke(detached, friend, svc, t.grant)
			}

			// Request abortado: el resultado se descarta, no se aplica.
			if ctx.Err() != nil {
				r.log.Warn("reconciliación abortada, resultado descartado",
					logger.FriendID(friend.ID),
					logger.ServiceID(t.serviceID),
					logger.Action(t.action))
				return nil
			}
			if err := apply(detached); err != nil {
				out.Status = core.GrantError
				out.Error = err.Error()
			}
			metrics.RecordProvisioning(out.Action, out.Status)
			r.logOutcome(friend, out)
			results[i] = &out
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]Outcome, 0, len(results))
	for _, res := range results {
		if res != nil {
			outcomes = append(outcomes, *res)
		}
	}
	return outcomes, nil
}

// prepareGrant resuelve la estrategia, hace la llamada externa y devuelve el
// outcome junto con la escritura diferida de la fila de grant. La fila se
// inserta también con estado error (el operador ve el detalle y reintenta).
func (r *Reconciler) prepareGrant(ctx context.Context, friend *core.Friend, svc *core.Service, serviceID string) (Outcome, func(context.Context) error) {
	out := Outcome{ServiceID: serviceID, Action: ActionGrant, Status: core.GrantActive}
	if svc == nil {
		out.Status = core.GrantError
		out.Error = "servicio desconocido"
		return out, func(context.Context) error { return nil }
	}
	out.ServiceName = svc.Name

	slug := svc.Integration
	strategy := r.registry.StrategyFor(slug)
	grant := &core.Grant{
		FriendID:  friend.ID,
		ServiceID: svc.ID,
		Strategy:  string(strategy),
		Status:    core.GrantActive,
	}

	switch strategy {
	case integrations.StrategyNone:
		// Enlace plano: solo la fila de grant.

	case integrations.StrategyBasic:
		mu := r.lockFor(slug)
		mu.Lock()
		username, password, err := r.basic.Provision(ctx, friend.Name, svc.Subdomain)
		mu.Unlock()
		if err != nil {
			grant.Status = core.GrantError
			grant.Detail = err.Error()
		} else {
			grant.Username = username
			grant.Password = password
		}

	default:
		adapter, ok := r.registry.AdapterFor(slug)
		if !ok {
			grant.Status = core.GrantError
			grant.Detail = integrations.NotConfigured(slug).Error()
			break
		}
		username := credentials.Username(friend.Name, svc.Subdomain)
		mu := r.lockFor(slug)
		mu.Lock()
		start := time.Now()
		acct, err := adapter.CreateAccount(ctx, username)
		metrics.RecordIntegrationOp(slug, "create", err, time.Since(start))
		mu.Unlock()
		if err != nil {
			grant.Status = core.GrantError
			grant.Detail = err.Error()
		} else {
			grant.ExternalID = acct.ExternalID
			grant.Username = acct.Username
			grant.Password = acct.Password
			if acct.AlreadyExisted {
				out.Warning = "la cuenta ya existía en el servicio; se reutiliza"
			}
		}
	}

	out.Status = grant.Status
	out.Error = grant.Detail
	return out, func(ctx context.Context) error { return r.repo.UpsertGrant(ctx, grant) }
}

// prepareRevoke deshace la cuenta externa si la hubo y devuelve la escritura
// diferida que borra la fila. La fila se borra aunque la llamada externa
// falle: una cuenta huérfana es preferible a un cambio de grants bloqueado.
func (r *Reconciler) prepareRevoke(ctx context.Context, friend *core.Friend, svc *core.Service, grant *core.Grant) (Outcome, func(context.Context) error) {
	out := Outcome{ServiceID: grant.ServiceID, Action: ActionRevoke, Status: core.GrantActive}
	var slug string
	if svc != nil {
		out.ServiceName = svc.Name
		slug = svc.Integration
	}

	strategy := integrations.Strategy(grant.Strategy)
	switch {
	case strategy == integrations.StrategyNone, strategy == "":
		// Nada externo que deshacer.

	case strategy == integrations.StrategyBasic:
		if svc != nil && grant.Username != "" {
			mu := r.lockFor(slug)
			mu.Lock()
			err := r.basic.Revoke(ctx, svc.Subdomain, grant.Username)
			mu.Unlock()
			if err != nil {
				out.Status = core.GrantError
				out.Error = err.Error()
			}
		}

	default:
		if grant.ExternalID == "" {
			break // la cuenta nunca llegó a crearse
		}
		adapter, ok := r.registry.AdapterFor(slug)
		if !ok {
			out.Warning = "integración sin configurar; la cuenta externa queda huérfana"
			break
		}
		mu := r.lockFor(slug)
		mu.Lock()
		start := time.Now()
		err := adapter.DeleteAccount(ctx, grant.ExternalID)
		metrics.RecordIntegrationOp(slug, "delete", err, time.Since(start))
		mu.Unlock()
		if err != nil {
			out.Status = core.GrantError
			out.Error = err.Error()
		}
	}

	return out, func(ctx context.Context) error { return r.repo.DeleteGrant(ctx, grant.FriendID, grant.ServiceID) }
}

func (r *Reconciler) logOutcome(friend *core.Friend, out Outcome) {
	fields := []zap.Field{
		logger.FriendID(friend.ID),
		logger.ServiceID(out.ServiceID),
		logger.Action(out.Action),
		logger.String("status", out.Status),
	}
	switch {
	case out.Status == core.GrantError:
		r.log.Warn("cambio de grant con error", append(fields, logger.String("error", out.Error))...)
	case out.Warning != "":
		r.log.Info("cambio de grant con aviso", append(fields, logger.String("warning", out.Warning))...)
	default:
		r.log.Info("cambio de grant aplicado", fields...)
	}
}
