package password

import "testing"

func TestHashVerifyRoundTrip(t *testing.T) {
	phc, err := Hash(Default, "mi-password-secreta")
	if err != nil {
		t.Fatalf("Hash falló: %v", err)
	}
	if !Verify("mi-password-secreta", phc) {
		t.Error("Verify debería aceptar el password correcto")
	}
	if Verify("otra-cosa", phc) {
		t.Error("Verify no debería aceptar un password incorrecto")
	}
}

func TestHashRechazaVacio(t *testing.T) {
	if _, err := Hash(Default, ""); err == nil {
		t.Error("esperaba error con password vacío")
	}
}

func TestVerifyRechazaPHCMalformado(t *testing.T) {
	casos := []string{
		"",
		"$argon2id$v=19$m=65536,t=3,p=1$salt",           // faltan segmentos
		"$bcrypt$v=19$m=65536,t=3,p=1$c2FsdA$ZGs",       // algoritmo desconocido
		"$argon2id$v=18$m=65536,t=3,p=1$c2FsdA$ZGs",     // versión incorrecta
		"$argon2id$v=19$m=sesenta,t=3,p=1$c2FsdA$ZGs",   // params ilegibles
		"$argon2id$v=19$m=65536,t=3,p=1$!!no-b64!!$ZGs", // salt no base64
	}
	for _, phc := range casos {
		if Verify("lo-que-sea", phc) {
			t.Errorf("Verify aceptó PHC malformado: %q", phc)
		}
	}
}

func TestHashesDistintosPorSalt(t *testing.T) {
	a, _ := Hash(Default, "mismo")
	b, _ := Hash(Default, "mismo")
	if a == b {
		t.Error("dos hashes del mismo password deben diferir por el salt")
	}
}

func TestLinkPolicy(t *testing.T) {
	if ok, _ := LinkPolicy.Validate("corta"); ok {
		t.Error("menos de 8 caracteres debería fallar")
	}
	if ok, reasons := LinkPolicy.Validate("suficiente"); !ok {
		t.Errorf("password válido rechazado: %v", reasons)
	}
}
