package htpasswd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/nelsonblaha/homepage/internal/integrations"
)

type contadorReloader struct {
	mu    sync.Mutex
	count int
	fail  bool
}

func (r *contadorReloader) Reload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	if r.fail {
		return errors.New("nginx: reload failed")
	}
	return nil
}

func (r *contadorReloader) veces() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func leerFichero(t *testing.T, dir, subdomain string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, subdomain+".htpasswd"))
	if err != nil {
		t.Fatalf("leyendo htpasswd: %v", err)
	}
	return string(raw)
}

func TestProvisionEscribeLineaYRecarga(t *testing.T) {
	dir := t.TempDir()
	rel := &contadorReloader{}
	p := New(dir, rel)

	user, pass, err := p.Provision(context.Background(), "Ana", "radarr")
	if err != nil {
		t.Fatalf("Provision falló: %v", err)
	}
	if user != "ana_radarr" {
		t.Errorf("username = %q, esperaba ana_radarr", user)
	}
	if len(pass) == 0 {
		t.Fatal("password vacío")
	}
	if rel.veces() != 1 {
		t.Errorf("reloads = %d, esperaba 1", rel.veces())
	}

	contenido := leerFichero(t, dir, "radarr")
	linea, _, ok := strings.Cut(strings.TrimSpace(contenido), "\n")
	if !ok && linea == "" {
		t.Fatalf("fichero vacío: %q", contenido)
	}
	u, hash, _ := strings.Cut(linea, ":")
	if u != "ana_radarr" {
		t.Errorf("línea inesperada: %q", linea)
	}
	// El hash debe validar contra el password devuelto.
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)); err != nil {
		t.Errorf("el hash no valida el password: %v", err)
	}
}

func TestProvisionMismoUsuarioRotaPassword(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, nil)
	ctx := context.Background()

	_, pass1, err := p.Provision(ctx, "Ana", "radarr")
	if err != nil {
		t.Fatalf("primera Provision falló: %v", err)
	}
	_, pass2, err := p.Provision(ctx, "Ana", "radarr")
	if err != nil {
		t.Fatalf("segunda Provision falló: %v", err)
	}
	if pass1 == pass2 {
		t.Error("re-aprovisionar debe generar password nuevo")
	}

	// Una sola línea: mismo username determinista, hash reemplazado.
	contenido := strings.TrimSpace(leerFichero(t, dir, "radarr"))
	if lineas := strings.Split(contenido, "\n"); len(lineas) != 1 {
		t.Errorf("esperaba 1 línea, hay %d: %q", len(lineas), contenido)
	}
}

func TestRevokeQuitaLinea(t *testing.T) {
	dir := t.TempDir()
	rel := &contadorReloader{}
	p := New(dir, rel)
	ctx := context.Background()

	userA, _, _ := p.Provision(ctx, "Ana", "radarr")
	_, _, _ = p.Provision(ctx, "Bob", "radarr")

	if err := p.Revoke(ctx, "radarr", userA); err != nil {
		t.Fatalf("Revoke falló: %v", err)
	}

	contenido := leerFichero(t, dir, "radarr")
	if strings.Contains(contenido, "ana_radarr:") {
		t.Error("la línea de ana debería haberse ido")
	}
	if !strings.Contains(contenido, "bob_radarr:") {
		t.Error("la línea de bob debería seguir")
	}
}

func TestRevokeIdempotente(t *testing.T) {
	dir := t.TempDir()
	rel := &contadorReloader{}
	p := New(dir, rel)
	ctx := context.Background()

	// Sin fichero ni usuario: no falla y no recarga.
	if err := p.Revoke(ctx, "radarr", "nadie_radarr"); err != nil {
		t.Fatalf("Revoke de usuario ausente falló: %v", err)
	}
	if rel.veces() != 0 {
		t.Errorf("no debe recargar si no cambió nada, reloads = %d", rel.veces())
	}
}

func TestReloadFallidoEsLocalIO(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, &contadorReloader{fail: true})

	_, _, err := p.Provision(context.Background(), "Ana", "radarr")
	if err == nil {
		t.Fatal("esperaba error de reload")
	}
	if !errors.Is(err, integrations.ErrLocalIO) {
		t.Errorf("esperaba ErrLocalIO, obtuve %v", err)
	}
}

func TestProvisionConcurrenteMismoFichero(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, nil)
	ctx := context.Background()

	nombres := []string{"Ana", "Bob", "Carol", "Dave", "Eve"}
	var wg sync.WaitGroup
	for _, n := range nombres {
		wg.Add(1)
		go func(nombre string) {
			defer wg.Done()
			if _, _, err := p.Provision(ctx, nombre, "radarr"); err != nil {
				t.Errorf("Provision(%s) falló: %v", nombre, err)
			}
		}(n)
	}
	wg.Wait()

	contenido := strings.TrimSpace(leerFichero(t, dir, "radarr"))
	if lineas := strings.Split(contenido, "\n"); len(lineas) != len(nombres) {
		t.Errorf("esperaba %d líneas, hay %d", len(nombres), len(lineas))
	}
}
