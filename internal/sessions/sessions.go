// Package sessions gestiona las sesiones opacas de admin y de amigos. El
// token crudo solo viaja en la cookie; en el store se guarda su SHA-256,
// así un volcado de la tabla no sirve para fabricar cookies.
package sessions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nelsonblaha/homepage/internal/metrics"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	tokens "github.com/nelsonblaha/homepage/internal/security/token"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// Service crea, valida y purga sesiones.
type Service struct {
	repo        core.Repository
	ttl         time.Duration
	rememberTTL time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// New crea el servicio. ttl <= 0 usa 24h; rememberTTL <= 0 usa 30 días.
func New(repo core.Repository, ttl, rememberTTL time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if rememberTTL <= 0 {
		rememberTTL = 30 * 24 * time.Hour
	}
	return &Service{
		repo:        repo,
		ttl:         ttl,
		rememberTTL: rememberTTL,
		log:         logger.Named("sessions"),
		now:         time.Now,
	}
}

// Create emite una sesión nueva y devuelve el token crudo para la cookie.
// kind es admin|friend; friendID solo aplica a sesiones de amigos.
func (s *Service) Create(ctx context.Context, kind, friendID, userAgent string, remember bool) (string, time.Time, error) {
	raw, err := tokens.NewSessionToken()
	if err != nil {
		return "", time.Time{}, err
	}
	ttl := s.ttl
	if remember {
		ttl = s.rememberTTL
	}
	now := s.now()
	sess := &core.Session{
		Token:     tokens.SHA256Hex(raw),
		Kind:      kind,
		FriendID:  friendID,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return "", time.Time{}, err
	}
	s.log.Info("sesión creada",
		logger.SessionKind(kind),
		logger.FriendID(friendID),
		logger.Any("expires_at", sess.ExpiresAt))
	return raw, sess.ExpiresAt, nil
}

// Validate resuelve un token crudo de cookie. Las sesiones caducadas se
// borran al vuelo y cuentan como inexistentes.
func (s *Service) Validate(ctx context.Context, raw string) (*core.Session, error) {
	if raw == "" {
		return nil, core.ErrNotFound
	}
	hash := tokens.SHA256Hex(raw)
	sess, err := s.repo.GetSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if s.now().After(sess.ExpiresAt) {
		// Purga perezosa: el janitor barre el resto.
		if derr := s.repo.DeleteSession(ctx, hash); derr != nil && !errors.Is(derr, core.ErrNotFound) {
			s.log.Warn("no se pudo purgar sesión caducada", logger.Err(derr))
		}
		return nil, core.ErrNotFound
	}
	return sess, nil
}

// Delete invalida la sesión del token crudo dado. Borrar una sesión
// inexistente no es error (logout idempotente).
func (s *Service) Delete(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	err := s.repo.DeleteSession(ctx, tokens.SHA256Hex(raw))
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}

// Janitor barre sesiones caducadas cada `every` hasta que ctx termine.
// Pensado para correr como goroutine desde main.
func (s *Service) Janitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.repo.DeleteExpiredSessions(ctx, s.now())
			if err != nil {
				s.log.Warn("barrido de sesiones falló", logger.Err(err))
				continue
			}
			if n > 0 {
				metrics.SessionsSwept.Add(float64(n))
				s.log.Info("sesiones caducadas purgadas", logger.Count(n))
			}
		}
	}
}
