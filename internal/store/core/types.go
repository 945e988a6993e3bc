package core

import "time"

// Modos de protección del link de un amigo.
const (
	PasswordOff            = "off"
	PasswordAlways         = "always"
	PasswordAfterThreshold = "after_threshold"
)

// Tipos de sesión.
const (
	SessionAdmin  = "admin"
	SessionFriend = "friend"
)

// Estados de un grant.
const (
	GrantActive  = "active"
	GrantError   = "error"
	GrantPending = "pending"
)

// Estados de un access request.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestDenied   = "denied"
)

type Friend struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Token             string     `json:"token"`
	PasswordHash      string     `json:"-"`
	TOTPSecret        string     `json:"-"`
	PasswordMode      string     `json:"password_mode"` // off|always|after_threshold
	PasswordThreshold int        `json:"password_threshold"`
	UsageCount        int        `json:"usage_count"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastVisit         *time.Time `json:"last_visit,omitempty"`
}

type Service struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	URL              string    `json:"url"`
	Icon             string    `json:"icon"`
	Description      string    `json:"description"`
	DisplayOrder     int       `json:"display_order"`
	Subdomain        string    `json:"subdomain"`
	Stack            string    `json:"stack"`
	Integration      string    `json:"integration"` // slug de integración ("" = sin cuentas gestionadas)
	IsDefault        bool      `json:"is_default"`
	VisibleToFriends bool      `json:"visible_to_friends"`
	CreatedAt        time.Time `json:"created_at"`
}

// Grant es la asociación amigo↔servicio más el payload de credenciales
// generado al aprovisionar (id externo, usuario y contraseña).
type Grant struct {
	FriendID   string    `json:"friend_id"`
	ServiceID  string    `json:"service_id"`
	Strategy   string    `json:"strategy"` // estrategia registrada al aprovisionar
	ExternalID string    `json:"external_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	Password   string    `json:"-"`
	Status     string    `json:"status"` // active|error|pending
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Session struct {
	Token     string    `json:"-"`
	Kind      string    `json:"kind"` // admin|friend
	FriendID  string    `json:"friend_id,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AccessRequest struct {
	ID          string     `json:"id"`
	FriendID    string     `json:"friend_id"`
	ServiceID   string     `json:"service_id"`
	Status      string     `json:"status"` // pending|approved|denied
	RequestedAt time.Time  `json:"requested_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`

	// Campos denormalizados para listados (JOIN).
	FriendName  string `json:"friend_name,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

type ActivityEntry struct {
	ID        string    `json:"id"`
	FriendID  *string   `json:"friend_id,omitempty"`
	ServiceID *string   `json:"service_id,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	FriendName  string `json:"friend_name,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}
