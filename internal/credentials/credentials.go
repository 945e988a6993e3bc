// Package credentials genera nombres de usuario deterministas y passwords
// aleatorios para las cuentas que homepage crea en los servicios.
//
// El username es una función pura de (amigo, subdominio): re-aprovisionar
// al mismo amigo produce el mismo nombre, lo que permite detectar cuentas
// ya existentes en vez de duplicarlas.
package credentials

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// DefaultLength es la longitud de password si el caller no pide otra.
const DefaultLength = 24

// alphabet evita glifos ambiguos al transcribir a mano: fuera 0/O, 1/l/I
// y la o minúscula; los especiales son los que aceptan todos los servicios
// soportados.
const alphabet = "abcdefghijkmnpqrstuvwxyz" +
	"ABCDEFGHJKLMNPQRSTUVWXYZ" +
	"23456789" +
	"!@#$%^&*-_=+"

// Sanitize reduce un nombre a [a-z0-9]: minúsculas y fuera el resto.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Username construye el nombre determinista de la cuenta de un amigo en un
// servicio: <amigo>_<subdominio>, ambos saneados.
func Username(friendName, serviceSubdomain string) string {
	f := Sanitize(friendName)
	s := Sanitize(serviceSubdomain)
	if f == "" {
		f = "friend"
	}
	if s == "" {
		return f
	}
	return f + "_" + s
}

// LoginName es el nombre corto (sólo el amigo) que usan los servicios donde
// la cuenta no lleva sufijo de servicio.
func LoginName(friendName string) string {
	f := Sanitize(friendName)
	if f == "" {
		return "friend"
	}
	return f
}

// Email deriva la dirección sintética de un amigo bajo el dominio base.
func Email(friendName, baseDomain string) string {
	return fmt.Sprintf("%s@%s", LoginName(friendName), baseDomain)
}

// Password genera un password aleatorio de n caracteres (DefaultLength si
// n <= 0). Cada llamada devuelve un valor nuevo.
func Password(n int) (string, error) {
	if n <= 0 {
		n = DefaultLength
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("credentials: generando password: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
