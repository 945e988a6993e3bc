// Package poller sondea periódicamente el estado de los servicios
// publicados y deja el resultado en cache para el dashboard.
//
// La regla de decisión es la de un homelab detrás de un reverse proxy:
// 401 significa que el servicio está vivo pero protegido con basic auth,
// cualquier respuesta < 500 cuenta como arriba, y no contestar es abajo.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nelsonblaha/homepage/internal/cache"
	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/metrics"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// Estados posibles de un servicio.
const (
	StatusUp           = "up"
	StatusDown         = "down"
	StatusAuthRequired = "auth_required"
	StatusUnknown      = "unknown" // sin URL ni integración que sondear
)

// SnapshotKey es la clave de cache donde vive el último barrido.
const SnapshotKey = "status:snapshot"

// ServiceStatus es el resultado del sondeo de un servicio.
type ServiceStatus struct {
	ServiceID string `json:"service_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

// Snapshot agrupa un barrido completo con su marca de tiempo.
type Snapshot struct {
	CheckedAt time.Time       `json:"checked_at"`
	Services  []ServiceStatus `json:"services"`
}

// Poller ejecuta los barridos. Los servicios con integración configurada se
// sondean a través de su adapter; el resto con un GET a su URL pública.
type Poller struct {
	repo        core.Repository
	registry    *integrations.Registry
	cache       cache.Client
	client      *http.Client
	interval    time.Duration
	concurrency int
	log         *zap.Logger
	now         func() time.Time
}

func New(repo core.Repository, registry *integrations.Registry, c cache.Client, interval, timeout time.Duration, concurrency int) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Poller{
		repo:        repo,
		registry:    registry,
		cache:       c,
		client:      &http.Client{Timeout: timeout},
		interval:    interval,
		concurrency: concurrency,
		log:         logger.L().Named("poller"),
		now:         time.Now,
	}
}

// Run barre una vez al arrancar y después en cada tick hasta que el
// contexto se cancele.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("poller arrancado",
		logger.String("interval", p.interval.String()),
		logger.Int("concurrency", p.concurrency))

	if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("barrido inicial fallido", logger.Err(err))
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller detenido")
			return
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("barrido fallido", logger.Err(err))
			}
		}
	}
}

// Sweep sondea todos los servicios en paralelo acotado y cachea el snapshot.
func (p *Poller) Sweep(ctx context.Context) (Snapshot, error) {
	services, err := p.repo.ListServices(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("poller: listar servicios: %w", err)
	}

	results := make([]ServiceStatus, len(services))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, svc := range services {
		i, svc := i, svc
		g.Go(func() error {
			results[i] = p.probe(ctx, &svc)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // los probes nunca devuelven error

	snap := Snapshot{CheckedAt: p.now(), Services: results}
	if err := p.store(ctx, snap); err != nil {
		p.log.Warn("no se pudo cachear el snapshot", logger.Err(err))
	}
	return snap, nil
}

// Snapshot devuelve el último barrido cacheado; si aún no hay ninguno
// (arranque en frío) hace un barrido síncrono.
func (p *Poller) Snapshot(ctx context.Context) (Snapshot, error) {
	raw, err := p.cache.Get(ctx, SnapshotKey)
	if err != nil {
		if cache.IsNotFound(err) {
			return p.Sweep(ctx)
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return p.Sweep(ctx)
	}
	return snap, nil
}

func (p *Poller) store(ctx context.Context, snap Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	// El snapshot sobrevive dos barridos perdidos antes de caducar.
	return p.cache.Set(ctx, SnapshotKey, string(buf), 3*p.interval)
}

func (p *Poller) probe(ctx context.Context, svc *core.Service) ServiceStatus {
	st := ServiceStatus{ServiceID: svc.ID, Name: svc.Name}

	switch {
	case svc.Integration != "" && p.registry.Available(svc.Integration):
		a, _ := p.registry.AdapterFor(svc.Integration)
		s := a.CheckStatus(ctx)
		if s.Connected {
			st.Status = StatusUp
		} else {
			st.Status = StatusDown
		}
		st.Detail = s.Detail
	case svc.URL != "":
		st.Status, st.Detail = p.probeURL(ctx, svc.URL)
	default:
		st.Status = StatusUnknown
		st.Detail = "sin url que sondear"
	}

	metrics.RecordServiceStatus(svc.Name, st.Status == StatusUp || st.Status == StatusAuthRequired)
	return st
}

func (p *Poller) probeURL(ctx context.Context, rawURL string) (status, detail string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return StatusDown, "url inválida"
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return StatusDown, "sin respuesta"
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return StatusAuthRequired, ""
	case resp.StatusCode < 500:
		return StatusUp, ""
	default:
		return StatusDown, fmt.Sprintf("http %d", resp.StatusCode)
	}
}
