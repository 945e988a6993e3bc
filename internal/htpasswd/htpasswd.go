// Package htpasswd mantiene los ficheros de credenciales basic-auth que
// consume el reverse proxy (un fichero por subdominio).
//
// Las escrituras son atómicas (temp + fsync + rename) y serializadas por
// fichero; el reload del proxy corre fuera del lock para no bloquear otras
// provisiones mientras el proxy recarga.
package htpasswd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/nelsonblaha/homepage/internal/credentials"
	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/metrics"
	"github.com/nelsonblaha/homepage/internal/util/atomicwrite"
)

// Reloader avisa al edge proxy de que los ficheros cambiaron.
type Reloader interface {
	Reload(ctx context.Context) error
}

// CommandReloader ejecuta el comando configurado,
// p.ej. ["docker", "kill", "-s", "HUP", "nginx"].
type CommandReloader struct {
	Argv []string
}

func (r CommandReloader) Reload(ctx context.Context) error {
	if len(r.Argv) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, r.Argv[0], r.Argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w (%s)", r.Argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// NopReloader para despliegues donde el proxy relee los ficheros solo.
type NopReloader struct{}

func (NopReloader) Reload(context.Context) error { return nil }

// Provisioner gestiona altas y bajas en los ficheros htpasswd.
type Provisioner struct {
	dir      string
	reloader Reloader

	mu    sync.Mutex
	locks map[string]*sync.Mutex // lock por subdominio/fichero
}

func New(dir string, r Reloader) *Provisioner {
	if r == nil {
		r = NopReloader{}
	}
	return &Provisioner{
		dir:      dir,
		reloader: r,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (p *Provisioner) lockFor(subdomain string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[subdomain]
	if !ok {
		l = &sync.Mutex{}
		p.locks[subdomain] = l
	}
	return l
}

func (p *Provisioner) path(subdomain string) string {
	return filepath.Join(p.dir, subdomain+".htpasswd")
}

func (p *Provisioner) reload(ctx context.Context) error {
	err := p.reloader.Reload(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.HtpasswdReloads.WithLabelValues(result).Inc()
	return err
}

// Provision genera credenciales nuevas para el amigo y las deja en el
// fichero del subdominio. El éxito sólo se reporta tras recargar el proxy.
// Rotar = Revoke + Provision; nunca se cambia una línea in-place.
func (p *Provisioner) Provision(ctx context.Context, friendName, subdomain string) (username, password string, err error) {
	username = credentials.Username(friendName, subdomain)
	password, err = credentials.Password(0)
	if err != nil {
		return "", "", integrations.LocalIO("htpasswd provision", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", integrations.LocalIO("htpasswd provision", err)
	}

	if err := p.upsertLine(subdomain, username, string(hash)); err != nil {
		return "", "", err
	}
	if err := p.reload(ctx); err != nil {
		return "", "", integrations.LocalIO("proxy reload", err)
	}
	return username, password, nil
}

// Revoke quita la línea del usuario; es idempotente si ya no está.
func (p *Provisioner) Revoke(ctx context.Context, subdomain, username string) error {
	changed, err := p.removeLine(subdomain, username)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := p.reload(ctx); err != nil {
		return integrations.LocalIO("proxy reload", err)
	}
	return nil
}

func (p *Provisioner) upsertLine(subdomain, username, hash string) error {
	l := p.lockFor(subdomain)
	l.Lock()
	defer l.Unlock()

	entries, err := p.readEntries(subdomain)
	if err != nil {
		return err
	}
	entries[username] = hash
	return p.writeEntries(subdomain, entries)
}

func (p *Provisioner) removeLine(subdomain, username string) (bool, error) {
	l := p.lockFor(subdomain)
	l.Lock()
	defer l.Unlock()

	entries, err := p.readEntries(subdomain)
	if err != nil {
		return false, err
	}
	if _, ok := entries[username]; !ok {
		return false, nil
	}
	delete(entries, username)
	return true, p.writeEntries(subdomain, entries)
}

func (p *Provisioner) readEntries(subdomain string) (map[string]string, error) {
	entries := make(map[string]string)
	raw, err := os.ReadFile(p.path(subdomain))
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, integrations.LocalIO("htpasswd read", err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if ok {
			entries[user] = hash
		}
	}
	return entries, nil
}

func (p *Provisioner) writeEntries(subdomain string, entries map[string]string) error {
	users := make([]string, 0, len(entries))
	for u := range entries {
		users = append(users, u)
	}
	sort.Strings(users)

	var b strings.Builder
	for _, u := range users {
		b.WriteString(u)
		b.WriteByte(':')
		b.WriteString(entries[u])
		b.WriteByte('\n')
	}

	if err := atomicwrite.WriteFile(p.path(subdomain), []byte(b.String()), 0o600); err != nil {
		return integrations.LocalIO("htpasswd write", err)
	}
	return nil
}
