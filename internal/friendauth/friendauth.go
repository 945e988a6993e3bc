// Package friendauth protege el enlace privado de un amigo: contraseña
// opcional (argon2id), TOTP opcional con anti-replay, conteo de usos con
// aviso antes del umbral y caducidad del enlace.
package friendauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nelsonblaha/homepage/internal/cache"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/security/password"
	"github.com/nelsonblaha/homepage/internal/security/totp"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// Umbrales por defecto. El umbral de contraseña es configurable por amigo;
// el de aviso es fijo.
const (
	WarningThreshold         = 5
	DefaultPasswordThreshold = 10
)

// TTL del contador anti-replay en cache: los códigos valen ±1 paso (90s),
// así que unos minutos sobran.
const replayTTL = 5 * time.Minute

var (
	ErrExpired     = errors.New("friendauth: enlace caducado")
	ErrBadPassword = errors.New("friendauth: contraseña incorrecta")
	ErrBadTOTP     = errors.New("friendauth: código TOTP inválido")
)

// Requirement describe qué hace falta para desbloquear el enlace de un
// amigo. La superficie de vista lo reporta como "locked" + motivo.
type Requirement struct {
	Locked        bool   `json:"locked"`
	NeedsPassword bool   `json:"needs_password"`
	NeedsTOTP     bool   `json:"needs_totp"`
	Expired       bool   `json:"expired"`
	UsageWarning  bool   `json:"usage_warning"`
	Reason        string `json:"reason,omitempty"`
}

// Service evalúa requisitos y verifica desbloqueos.
type Service struct {
	repo  core.Repository
	cache cache.Client
	log   *zap.Logger
	now   func() time.Time
}

func New(repo core.Repository, c cache.Client) *Service {
	return &Service{
		repo:  repo,
		cache: c,
		log:   logger.Named("friendauth"),
		now:   time.Now,
	}
}

// Requirements evalúa el estado del enlace. La caducidad gana a todo lo
// demás; el aviso de uso solo aplica al modo after_threshold.
func (s *Service) Requirements(friend *core.Friend) Requirement {
	var r Requirement
	if friend.ExpiresAt != nil && s.now().After(*friend.ExpiresAt) {
		r.Expired = true
		r.Locked = true
		r.Reason = "el acceso ha caducado"
		return r
	}

	threshold := friend.PasswordThreshold
	if threshold <= 0 {
		threshold = DefaultPasswordThreshold
	}

	switch friend.PasswordMode {
	case core.PasswordAlways:
		if friend.PasswordHash != "" {
			r.NeedsPassword = true
		}
	case core.PasswordAfterThreshold:
		if friend.UsageCount >= WarningThreshold && friend.UsageCount < threshold {
			r.UsageWarning = true
		}
		if friend.UsageCount >= threshold && friend.PasswordHash != "" {
			r.NeedsPassword = true
		}
	}
	if friend.TOTPSecret != "" {
		r.NeedsTOTP = true
	}

	r.Locked = r.NeedsPassword || r.NeedsTOTP
	if r.Locked {
		r.Reason = "el enlace requiere verificación"
	}
	return r
}

// Unlock verifica contraseña y/o TOTP según lo que el enlace exija. Un
// código TOTP ya usado no vale dos veces: el contador aceptado se recuerda
// en cache hasta salir de la ventana.
func (s *Service) Unlock(ctx context.Context, friend *core.Friend, pass, totpCode string) error {
	req := s.Requirements(friend)
	if req.Expired {
		return ErrExpired
	}
	if req.NeedsPassword {
		if !password.Verify(pass, friend.PasswordHash) {
			s.log.Warn("contraseña de enlace incorrecta", logger.FriendID(friend.ID))
			return ErrBadPassword
		}
	}
	if req.NeedsTOTP {
		last := s.lastCounter(ctx, friend.ID)
		ok, counter := totp.Verify(friend.TOTPSecret, totpCode, s.now(), 1, &last)
		if !ok {
			s.log.Warn("código TOTP inválido o repetido", logger.FriendID(friend.ID))
			return ErrBadTOTP
		}
		s.storeCounter(ctx, friend.ID, counter)
	}
	return nil
}

// SetupPassword valida la política mínima del enlace y guarda el hash.
func (s *Service) SetupPassword(ctx context.Context, friend *core.Friend, plain string) error {
	if ok, reasons := password.LinkPolicy.Validate(plain); !ok {
		return fmt.Errorf("%w: %s", core.ErrInvalid, strings.Join(reasons, "; "))
	}
	phc, err := password.Hash(password.Default, plain)
	if err != nil {
		return err
	}
	friend.PasswordHash = phc
	return s.repo.UpdateFriend(ctx, friend)
}

// DisablePassword quita la contraseña del enlace (el modo queda como esté).
func (s *Service) DisablePassword(ctx context.Context, friend *core.Friend) error {
	friend.PasswordHash = ""
	return s.repo.UpdateFriend(ctx, friend)
}

// SetupTOTP genera un secreto nuevo y devuelve el base32 más la URL
// otpauth:// para el QR de la app autenticadora.
func (s *Service) SetupTOTP(ctx context.Context, friend *core.Friend, issuer string) (secret, otpauthURL string, err error) {
	b32, err := totp.NewSecret()
	if err != nil {
		return "", "", err
	}
	friend.TOTPSecret = b32
	if err := s.repo.UpdateFriend(ctx, friend); err != nil {
		return "", "", err
	}
	// Sin esto, un contador aceptado con el secreto anterior bloquearía el
	// primer código del nuevo durante la ventana en curso.
	_ = s.cache.Delete(ctx, replayKey(friend.ID))
	return b32, totp.AuthURL(issuer, friend.Name, b32), nil
}

// DisableTOTP borra el secreto; el enlace deja de pedir código. El
// contador anti-replay se limpia para que un secreto futuro arranque
// de cero.
func (s *Service) DisableTOTP(ctx context.Context, friend *core.Friend) error {
	friend.TOTPSecret = ""
	if err := s.repo.UpdateFriend(ctx, friend); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, replayKey(friend.ID))
	return nil
}

func replayKey(friendID string) string { return "totp:last:" + friendID }

func (s *Service) lastCounter(ctx context.Context, friendID string) int64 {
	if s.cache == nil {
		return 0
	}
	v, err := s.cache.Get(ctx, replayKey(friendID))
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *Service) storeCounter(ctx context.Context, friendID string, counter int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, replayKey(friendID), strconv.FormatInt(counter, 10), replayTTL); err != nil {
		s.log.Warn("no se pudo guardar el contador anti-replay", logger.FriendID(friendID), logger.Err(err))
	}
}
