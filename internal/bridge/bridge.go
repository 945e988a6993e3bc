// Package bridge firma los payloads de mano-a-mano entre el dispatcher y la
// página puente servida en el subdominio del servicio. El payload viaja como
// query param, así que se firma (HS256) y caduca rápido: el navegador lo
// consume una vez y el puente escribe localStorage antes de reenviar.
package bridge

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// DefaultTTL es la vida útil de un payload puente.
const DefaultTTL = 60 * time.Second

// ErrInvalid cubre firma inválida, caducidad y claims malformados.
var ErrInvalid = errors.New("bridge: invalid payload")

// Payload es lo que el puente necesita para dejar la sesión lista:
// qué claves escribir en localStorage y a dónde reenviar después.
type Payload struct {
	Slug         string            // integración a la que pertenece el artefacto
	Forward      string            // URL destino tras escribir el storage
	LocalStorage map[string]string // claves que el puente escribe tal cual
}

// Signer firma y verifica payloads con un secreto compartido.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner crea un Signer. Con ttl <= 0 usa DefaultTTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Sign serializa el payload como JWT HS256 con exp corto.
func (s *Signer) Sign(p Payload) (string, error) {
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
		"slug": p.Slug,
	}
	if p.Forward != "" {
		claims["fwd"] = p.Forward
	}
	if len(p.LocalStorage) > 0 {
		claims["ls"] = p.LocalStorage
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	return tk.SignedString(s.secret)
}

// Verify valida firma y caducidad, y reconstruye el Payload.
func (s *Signer) Verify(token string) (Payload, error) {
	tok, err := jwtv5.Parse(token, func(t *jwtv5.Token) (any, error) {
		return s.secret, nil
	}, jwtv5.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return Payload{}, ErrInvalid
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return Payload{}, ErrInvalid
	}

	var p Payload
	p.Slug, _ = claims["slug"].(string)
	p.Forward, _ = claims["fwd"].(string)
	if raw, ok := claims["ls"].(map[string]any); ok {
		p.LocalStorage = make(map[string]string, len(raw))
		for k, v := range raw {
			if sv, ok := v.(string); ok {
				p.LocalStorage[k] = sv
			}
		}
	}
	if p.Slug == "" {
		return Payload{}, ErrInvalid
	}
	return p, nil
}
