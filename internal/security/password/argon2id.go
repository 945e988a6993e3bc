package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params parametriza argon2id.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	KeyLen      uint32
}

var Default = Params{Memory: 64 * 1024, Time: 3, Parallelism: 1, KeyLen: 32}

var b64 = base64.RawStdEncoding

// Hash produce un PHC string ($argon2id$v=19$m=...,t=...,p=...$salt$dk)
// con un salt fresco de 16 bytes.
func Hash(p Params, plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("password vacío")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism, b64.EncodeToString(salt), b64.EncodeToString(dk)), nil
}

// Verify rehace la derivación con los parámetros embebidos en el PHC y
// compara en tiempo constante. Un PHC ilegible cuenta como no-match.
func Verify(plain, phc string) bool {
	p, salt, dk, err := parsePHC(phc)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Parallelism, uint32(len(dk)))
	return subtle.ConstantTimeCompare(key, dk) == 1
}

func parsePHC(phc string) (Params, []byte, []byte, error) {
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("formato PHC inválido")
	}
	var v int
	if n, _ := fmt.Sscanf(parts[2], "v=%d", &v); n != 1 || v != 19 {
		return Params{}, nil, nil, fmt.Errorf("versión argon2 no soportada")
	}
	var m, t, par int
	if n, _ := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &par); n != 3 {
		return Params{}, nil, nil, fmt.Errorf("parámetros ilegibles")
	}
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, err
	}
	dk, err := b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, err
	}
	return Params{Memory: uint32(m), Time: uint32(t), Parallelism: uint8(par)}, salt, dk, nil
}
