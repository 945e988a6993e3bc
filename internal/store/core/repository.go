package core

import (
	"context"
	"time"
)

// Repository es el contrato de persistencia del sistema.
// La implementación principal vive en store/pg (pgxpool).
type Repository interface {
	Ping(ctx context.Context) error
	Close()

	// Friends
	CreateFriend(ctx context.Context, f *Friend) error
	GetFriendByID(ctx context.Context, id string) (*Friend, error)
	GetFriendByToken(ctx context.Context, token string) (*Friend, error)
	ListFriends(ctx context.Context) ([]Friend, error)
	UpdateFriend(ctx context.Context, f *Friend) error
	DeleteFriend(ctx context.Context, id string) error
	// TouchFriendVisit incrementa usage_count y actualiza last_visit.
	// Retorna el nuevo usage_count.
	TouchFriendVisit(ctx context.Context, id string, at time.Time) (int, error)

	// Services
	CreateService(ctx context.Context, s *Service) error
	GetServiceByID(ctx context.Context, id string) (*Service, error)
	GetServiceBySubdomain(ctx context.Context, subdomain string) (*Service, error)
	ListServices(ctx context.Context) ([]Service, error)
	ListDefaultServices(ctx context.Context) ([]Service, error)
	UpdateService(ctx context.Context, s *Service) error
	DeleteService(ctx context.Context, id string) error

	// Grants
	UpsertGrant(ctx context.Context, g *Grant) error
	GetGrant(ctx context.Context, friendID, serviceID string) (*Grant, error)
	ListGrantsByFriend(ctx context.Context, friendID string) ([]Grant, error)
	ListGrantedServices(ctx context.Context, friendID string) ([]Service, error)
	HasGrant(ctx context.Context, friendID, serviceID string) (bool, error)
	DeleteGrant(ctx context.Context, friendID, serviceID string) error
	CountGrantsByService(ctx context.Context, serviceID string) (int, error)

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// Access requests
	CreateAccessRequest(ctx context.Context, r *AccessRequest) error
	GetAccessRequest(ctx context.Context, id string) (*AccessRequest, error)
	ListAccessRequests(ctx context.Context, status string) ([]AccessRequest, error)
	UpdateAccessRequestStatus(ctx context.Context, id, status string, decidedAt time.Time) error

	// Activity
	InsertActivity(ctx context.Context, e *ActivityEntry) error
	ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error)

	// Settings (key/value: hash de admin, etc.)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}
