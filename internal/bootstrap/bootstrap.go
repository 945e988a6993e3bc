// Package bootstrap deja el sistema usable en el primer arranque: hash de la
// contraseña de admin en settings y catálogo inicial de servicios desde YAML.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/nelsonblaha/homepage/internal/config"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/security/password"
	"github.com/nelsonblaha/homepage/internal/store/core"
	"github.com/nelsonblaha/homepage/internal/util"
)

// AdminHashKey es la clave de settings donde vive el hash argon2id.
const AdminHashKey = "admin_password_hash"

// EnsureAdmin garantiza que exista un hash de admin en settings. La config es
// la fuente de verdad: si la contraseña configurada no verifica contra el
// hash guardado (cambio de contraseña), se re-hashea.
func EnsureAdmin(ctx context.Context, repo core.Repository, cfg *config.Config) error {
	log := logger.Named("bootstrap")

	stored, err := repo.GetSetting(ctx, AdminHashKey)
	switch {
	case errors.Is(err, core.ErrNotFound):
		stored = ""
	case err != nil:
		return fmt.Errorf("bootstrap: leyendo hash de admin: %w", err)
	}

	if cfg.Admin.Password == "" {
		if stored == "" {
			return errors.New("bootstrap: no hay contraseña de admin configurada ni hash previo")
		}
		return nil
	}

	if stored != "" && password.Verify(cfg.Admin.Password, stored) {
		return nil
	}

	phc, err := password.Hash(password.Default, cfg.Admin.Password)
	if err != nil {
		return fmt.Errorf("bootstrap: hasheando contraseña de admin: %w", err)
	}
	if err := repo.SetSetting(ctx, AdminHashKey, phc); err != nil {
		return fmt.Errorf("bootstrap: guardando hash de admin: %w", err)
	}

	if cfg.Admin.Email != "" {
		log.Info("contraseña de admin actualizada",
			logger.String("email", util.MaskEmail(cfg.Admin.Email)))
	} else {
		log.Info("contraseña de admin actualizada")
	}
	return nil
}

// SeedServices inserta el catálogo inicial solo si la tabla está vacía: el
// YAML siembra, no sincroniza.
func SeedServices(ctx context.Context, repo core.Repository, cfg *config.Config) error {
	if len(cfg.SeedServices) == 0 {
		return nil
	}
	log := logger.Named("bootstrap")

	existing, err := repo.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: listando servicios: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for i, seed := range cfg.SeedServices {
		svc := &core.Service{
			Name:             seed.Name,
			URL:              seed.URL,
			Subdomain:        seed.Subdomain,
			Icon:             seed.Icon,
			Description:      seed.Description,
			Integration:      seed.Integration,
			IsDefault:        seed.IsDefault,
			VisibleToFriends: true,
			DisplayOrder:     i,
		}
		if err := repo.CreateService(ctx, svc); err != nil {
			return fmt.Errorf("bootstrap: sembrando servicio %q: %w", seed.Name, err)
		}
	}
	log.Info("catálogo inicial sembrado", logger.Count(len(cfg.SeedServices)))
	return nil
}
