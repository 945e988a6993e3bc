// Package totp implementa el segundo factor opcional de los enlaces de
// amigo: códigos de 6 dígitos con HMAC-SHA1 y paso de 30s (RFC 6238).
// Los secretos se persisten en la columna totp_secret como base32 sin
// padding, así que toda la API trabaja sobre esa representación.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	secretLen = 20 // bytes de entropía antes de codificar
	digits    = 6
	stepSecs  = 30
	modulo    = 1_000_000 // 10^digits
)

var enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewSecret genera un secreto fresco, ya codificado tal como se guarda.
func NewSecret() (string, error) {
	buf := make([]byte, secretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return enc.EncodeToString(buf), nil
}

// AuthURL construye la URL otpauth:// que la app autenticadora lee del QR.
func AuthURL(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", strconv.Itoa(digits))
	q.Set("period", strconv.Itoa(stepSecs))
	return "otpauth://totp/" + label + "?" + q.Encode()
}

// Verify acepta code si coincide con algún período dentro de ±window
// pasos respecto de at. Un contador ya consumido (lastUsed) no vuelve a
// validar: un código interceptado no sirve dos veces dentro de la ventana.
// Retorna el contador aceptado para que el caller lo recuerde.
func Verify(secret, code string, at time.Time, window int, lastUsed *int64) (ok bool, counter int64) {
	code = strings.TrimSpace(code)
	if len(code) != digits {
		return false, 0
	}
	key, err := enc.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return false, 0
	}
	step := at.Unix() / stepSecs
	for c := step - int64(window); c <= step+int64(window); c++ {
		if c < 0 {
			continue
		}
		if lastUsed != nil && c <= *lastUsed {
			continue
		}
		if hotp(key, uint64(c)) == code {
			return true, c
		}
	}
	return false, 0
}

// hotp calcula el código RFC 4226 para un contador dado.
func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	off := int(sum[len(sum)-1] & 0x0f)
	code := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", digits, code%modulo)
}
