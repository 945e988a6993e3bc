// Package email envía las notificaciones SMTP del operador. Es opcional:
// sin configuración SMTP el Notifier es nil y todos sus métodos son no-op.
package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	mail "github.com/go-mail/mail"

	"github.com/nelsonblaha/homepage/internal/observability/logger"
)

// Sender envía un email con cuerpo HTML y texto plano como
// multipart/alternative.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// SMTPSender implementa Sender contra un servidor SMTP.
type SMTPSender struct {
	Host               string
	Port               int
	From               string
	Username           string
	Password           string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// NewSMTPSender crea un sender con TLSMode "auto" por defecto.
func NewSMTPSender(host string, port int, from, username, password string) *SMTPSender {
	return &SMTPSender{
		Host:     host,
		Port:     port,
		From:     from,
		Username: username,
		Password: password,
		TLSMode:  "auto",
	}
}

// Send entrega el mensaje. Los fallos se clasifican para el log (auth,
// tls, dial, timeout...) porque el SMTP de un homelab suele fallar por
// configuración y el código crudo no ayuda.
func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	log := logger.L().With(
		logger.Component("SMTPSender"),
		logger.String("host", s.Host),
		logger.Int("port", s.Port),
		logger.String("to", to),
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify, // solo dev
	}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si el servidor lo ofrece
	}

	if err := d.DialAndSend(m); err != nil {
		code, temporary := classifySMTPError(err)
		log.Error("fallo al enviar email",
			logger.Err(err),
			logger.String("diag", code),
			logger.Bool("temporary", temporary),
		)
		return fmt.Errorf("smtp send: %w", err)
	}

	log.Info("email enviado", logger.String("subject", subject))
	return nil
}

// classifySMTPError reduce un error SMTP a un código de diagnóstico y a si
// merece reintento.
func classifySMTPError(err error) (code string, temporary bool) {
	if err == nil {
		return "unknown", false
	}
	s := strings.ToLower(err.Error())

	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return "timeout", true
	}
	switch {
	case strings.Contains(s, "timeout"):
		return "timeout", true
	case strings.Contains(s, "connection refused"),
		strings.Contains(s, "no such host"),
		strings.Contains(s, "dial tcp"):
		return "dial", true
	case strings.Contains(s, "x509:"),
		strings.Contains(s, "tls") && (strings.Contains(s, "handshake") || strings.Contains(s, "certificate")):
		return "tls", false
	case strings.Contains(s, "535"),
		strings.Contains(s, "authentication failed"),
		strings.Contains(s, "username and password not accepted"):
		return "auth", false
	case strings.Contains(s, "451"), strings.Contains(s, "421"),
		strings.Contains(s, "rate limit"),
		strings.Contains(s, "try again later"):
		return "rate_limited", true
	case strings.Contains(s, "user unknown"),
		strings.Contains(s, "mailbox not found"):
		return "invalid_recipient", false
	}
	if _, ok := err.(net.Error); ok {
		return "network", true
	}
	return "unknown", false
}
