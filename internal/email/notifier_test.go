package email

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	to, subject, html, text string
	sends                   int
	err                     error
}

func (f *fakeSender) Send(to, subject, htmlBody, textBody string) error {
	f.sends++
	f.to, f.subject, f.html, f.text = to, subject, htmlBody, textBody
	return f.err
}

func TestNotifierNilCuandoNoHaySMTP(t *testing.T) {
	assert.Nil(t, NewNotifier(nil, "op@example.com", ""))
	assert.Nil(t, NewNotifier(&fakeSender{}, "", ""))

	// Y un nil explícito no rompe a los llamadores.
	var n *Notifier
	n.AccessRequested("Ana", "Fotos")
	n.GrantErrors("Ana", []string{"ombi: sin respuesta"})
}

func TestAccessRequested(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, "op@example.com", "https://panel.example.com")
	require.NotNil(t, n)

	n.AccessRequested("Ana <script>", "Fotos")

	assert.Equal(t, 1, s.sends)
	assert.Equal(t, "op@example.com", s.to)
	assert.Contains(t, s.subject, "Ana <script>")
	assert.Contains(t, s.text, "https://panel.example.com")
	// El HTML escapa el nombre del amigo.
	assert.NotContains(t, s.html, "<script>")
	assert.Contains(t, s.html, "&lt;script&gt;")
}

func TestGrantErrors(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, "op@example.com", "https://panel.example.com")

	n.GrantErrors("Ana", nil) // sin fallos no hay email
	assert.Equal(t, 0, s.sends)

	n.GrantErrors("Ana", []string{"ombi: sin respuesta", "jellyfin: 401"})
	require.Equal(t, 1, s.sends)
	assert.True(t, strings.Contains(s.text, "ombi: sin respuesta"))
	assert.True(t, strings.Contains(s.text, "jellyfin: 401"))
}

func TestAccessRequestedNoPropage(t *testing.T) {
	s := &fakeSender{err: errors.New("535 authentication failed")}
	n := NewNotifier(s, "op@example.com", "")
	n.AccessRequested("Ana", "Fotos") // solo log, sin pánico ni retorno
	assert.Equal(t, 1, s.sends)
}

func TestClassifySMTPError(t *testing.T) {
	cases := []struct {
		err       string
		code      string
		temporary bool
	}{
		{"dial tcp 10.0.0.2:587: connection refused", "dial", true},
		{"i/o timeout", "timeout", true},
		{"535 5.7.8 username and password not accepted", "auth", false},
		{"x509: certificate signed by unknown authority", "tls", false},
		{"421 try again later", "rate_limited", true},
		{"550 user unknown", "invalid_recipient", false},
		{"algo raro", "unknown", false},
	}
	for _, c := range cases {
		code, temp := classifySMTPError(errors.New(c.err))
		assert.Equal(t, c.code, code, c.err)
		assert.Equal(t, c.temporary, temp, c.err)
	}
}
