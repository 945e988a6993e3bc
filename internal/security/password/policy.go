package password

import "fmt"

// LinkPolicy es el mínimo exigido al password opcional de un enlace de
// amigo: corto de recordar, largo de adivinar.
var LinkPolicy = Policy{MinLength: 8}

// Policy describe los requisitos de un password. Solo longitud mínima:
// los enlaces se comparten con familia, no con equipos de seguridad.
type Policy struct {
	MinLength int
}

// Validate retorna ok=false con motivos legibles, listos para el detail
// del error HTTP.
func (p Policy) Validate(s string) (ok bool, reasons []string) {
	if len([]rune(s)) < p.MinLength {
		reasons = append(reasons, fmt.Sprintf("mínimo %d caracteres", p.MinLength))
	}
	return len(reasons) == 0, reasons
}
