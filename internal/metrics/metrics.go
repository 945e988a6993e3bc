package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas de dominio (integraciones, aprovisionamiento, poller). Viven en un
// paquete propio para evitar ciclos de import entre reconcile, dispatch y HTTP.

var (
	IntegrationOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_ops_total",
		Help: "Llamadas a integraciones por slug, operación y resultado",
	}, []string{"slug", "op", "result"}) // op: create|delete|login|status; result: ok|error

	IntegrationOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integration_op_duration_seconds",
		Help:    "Duración de llamadas a integraciones",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"slug", "op"})

	ProvisioningTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_total",
		Help: "Resultados del reconciliador por acción y estado",
	}, []string{"action", "status"}) // action: grant|revoke; status: active|error

	HtpasswdReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "htpasswd_reloads_total",
		Help: "Recargas del edge proxy tras mutar archivos htpasswd",
	}, []string{"result"}) // result: ok|error

	ServiceUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "service_up",
		Help: "Estado del último sondeo por servicio (1 up, 0 down)",
	}, []string{"service"})

	SessionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_swept_total",
		Help: "Sesiones caducadas purgadas por el janitor",
	})
)

// Register registra las métricas de dominio en el registry dado (o el default
// si es nil), ignorando duplicados.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		IntegrationOps,
		IntegrationOpDuration,
		ProvisioningTotal,
		HtpasswdReloads,
		ServiceUp,
		SessionsSwept,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// RecordIntegrationOp registra una llamada a una integración.
func RecordIntegrationOp(slug, op string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	IntegrationOps.WithLabelValues(slug, op, result).Inc()
	IntegrationOpDuration.WithLabelValues(slug, op).Observe(duration.Seconds())
}

// RecordProvisioning registra el resultado de una operación del reconciliador.
func RecordProvisioning(action, status string) {
	ProvisioningTotal.WithLabelValues(action, status).Inc()
}

// RecordServiceStatus actualiza el gauge de estado de un servicio.
func RecordServiceStatus(service string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	ServiceUp.WithLabelValues(service).Set(v)
}
