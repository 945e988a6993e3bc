package email

import (
	"fmt"
	"html"

	"go.uber.org/zap"

	"github.com/nelsonblaha/homepage/internal/observability/logger"
)

// Notifier avisa al operador por email de los eventos que requieren su
// atención. Un *Notifier nil es válido: cada método comprueba el receptor,
// así el resto del código no necesita saber si hay SMTP configurado.
type Notifier struct {
	sender   Sender
	to       string
	panelURL string
	log      *zap.Logger
}

// NewNotifier crea el notifier. panelURL apunta al dashboard del operador y
// se incluye en los emails para resolver la petición con un clic.
func NewNotifier(sender Sender, to, panelURL string) *Notifier {
	if sender == nil || to == "" {
		return nil
	}
	return &Notifier{
		sender:   sender,
		to:       to,
		panelURL: panelURL,
		log:      logger.L().Named("notifier"),
	}
}

// AccessRequested se dispara cuando un amigo pide acceso a un servicio.
// Best-effort: el error se loguea y no se propaga, la petición ya quedó
// registrada en el store.
func (n *Notifier) AccessRequested(friendName, serviceName string) {
	if n == nil {
		return
	}
	subject := fmt.Sprintf("Petición de acceso: %s quiere usar %s", friendName, serviceName)
	text := fmt.Sprintf(
		"%s ha pedido acceso a %s.\n\nApruébala o deniégala desde el panel: %s\n",
		friendName, serviceName, n.panelURL,
	)
	htmlBody := fmt.Sprintf(
		`<p><strong>%s</strong> ha pedido acceso a <strong>%s</strong>.</p>`+
			`<p><a href="%s">Abrir el panel</a> para aprobarla o denegarla.</p>`,
		html.EscapeString(friendName), html.EscapeString(serviceName), n.panelURL,
	)

	if err := n.sender.Send(n.to, subject, htmlBody, text); err != nil {
		n.log.Warn("no se pudo notificar la petición de acceso",
			logger.FriendName(friendName), logger.Err(err))
		return
	}
	n.log.Info("petición de acceso notificada", logger.FriendName(friendName))
}

// GrantErrors se dispara cuando una reconciliación termina con errores que
// dejan cuentas a medias; el operador suele querer enterarse sin mirar logs.
func (n *Notifier) GrantErrors(friendName string, failures []string) {
	if n == nil || len(failures) == 0 {
		return
	}
	subject := fmt.Sprintf("Errores aprovisionando cuentas para %s", friendName)
	text := fmt.Sprintf("Al actualizar los accesos de %s fallaron:\n", friendName)
	htmlBody := fmt.Sprintf("<p>Al actualizar los accesos de <strong>%s</strong> fallaron:</p><ul>",
		html.EscapeString(friendName))
	for _, f := range failures {
		text += "  - " + f + "\n"
		htmlBody += "<li>" + html.EscapeString(f) + "</li>"
	}
	htmlBody += "</ul>"
	text += "\nRevisa el panel: " + n.panelURL + "\n"
	htmlBody += fmt.Sprintf(`<p><a href="%s">Abrir el panel</a></p>`, n.panelURL)

	if err := n.sender.Send(n.to, subject, htmlBody, text); err != nil {
		n.log.Warn("no se pudo notificar los errores de aprovisionamiento",
			logger.FriendName(friendName), logger.Err(err))
	}
}
