package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nelsonblaha/homepage/internal/activity"
	"github.com/nelsonblaha/homepage/internal/app"
	"github.com/nelsonblaha/homepage/internal/bridge"
	"github.com/nelsonblaha/homepage/internal/cache"
	"github.com/nelsonblaha/homepage/internal/config"
	"github.com/nelsonblaha/homepage/internal/credentials"
	"github.com/nelsonblaha/homepage/internal/dispatch"
	"github.com/nelsonblaha/homepage/internal/friendauth"
	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/reconcile"
	"github.com/nelsonblaha/homepage/internal/sessions"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// memRepo implementa core.Repository en memoria para los tests de handlers.
// Devuelve copias, como haría la base de datos: mutar lo que sale de un Get
// no persiste nada hasta el Update correspondiente.
type memRepo struct {
	mu      sync.Mutex
	seq     int
	pingErr error

	friends  map[string]*core.Friend
	services map[string]*core.Service
	grants   map[string]*core.Grant // friendID|serviceID
	sessions map[string]*core.Session
	requests map[string]*core.AccessRequest
	activity []core.ActivityEntry
	settings map[string]string
}

func newMemRepo() *memRepo {
	return &memRepo{
		friends:  make(map[string]*core.Friend),
		services: make(map[string]*core.Service),
		grants:   make(map[string]*core.Grant),
		sessions: make(map[string]*core.Session),
		requests: make(map[string]*core.AccessRequest),
		settings: make(map[string]string),
	}
}

func (m *memRepo) nextID(prefix string) string {
	m.seq++
	return prefix + "-" + strconv.Itoa(m.seq)
}

func grantKey(friendID, serviceID string) string { return friendID + "|" + serviceID }

func copyFriend(f *core.Friend) *core.Friend {
	cp := *f
	if f.ExpiresAt != nil {
		t := *f.ExpiresAt
		cp.ExpiresAt = &t
	}
	if f.LastVisit != nil {
		t := *f.LastVisit
		cp.LastVisit = &t
	}
	return &cp
}

func (m *memRepo) Ping(context.Context) error { return m.pingErr }
func (m *memRepo) Close()                     {}

func (m *memRepo) CreateFriend(_ context.Context, f *core.Friend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.friends {
		if other.Token == f.Token {
			return core.ErrConflict
		}
	}
	if f.ID == "" {
		f.ID = m.nextID("fr")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	m.friends[f.ID] = copyFriend(f)
	return nil
}

func (m *memRepo) GetFriendByID(_ context.Context, id string) (*core.Friend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.friends[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyFriend(f), nil
}

func (m *memRepo) GetFriendByToken(_ context.Context, token string) (*core.Friend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.friends {
		if f.Token == token && token != "" {
			return copyFriend(f), nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memRepo) ListFriends(context.Context) ([]core.Friend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Friend, 0, len(m.friends))
	for _, f := range m.friends {
		out = append(out, *copyFriend(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) UpdateFriend(_ context.Context, f *core.Friend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.friends[f.ID]; !ok {
		return core.ErrNotFound
	}
	m.friends[f.ID] = copyFriend(f)
	return nil
}

func (m *memRepo) DeleteFriend(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.friends[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.friends, id)
	// Cascada como las FK de la base real.
	for k, g := range m.grants {
		if g.FriendID == id {
			delete(m.grants, k)
		}
	}
	for k, ar := range m.requests {
		if ar.FriendID == id {
			delete(m.requests, k)
		}
	}
	return nil
}

func (m *memRepo) TouchFriendVisit(_ context.Context, id string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.friends[id]
	if !ok {
		return 0, core.ErrNotFound
	}
	f.UsageCount++
	f.LastVisit = &at
	return f.UsageCount, nil
}

func (m *memRepo) CreateService(_ context.Context, s *core.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = m.nextID("svc")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *memRepo) GetServiceByID(_ context.Context, id string) (*core.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memRepo) GetServiceBySubdomain(_ context.Context, subdomain string) (*core.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services {
		if s.Subdomain == subdomain && subdomain != "" {
			cp := *s
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memRepo) ListServices(context.Context) ([]core.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Service, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) ListDefaultServices(context.Context) ([]core.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Service
	for _, s := range m.services {
		if s.IsDefault {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) UpdateService(_ context.Context, s *core.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[s.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *memRepo) DeleteService(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.services, id)
	return nil
}

func (m *memRepo) UpsertGrant(_ context.Context, g *core.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	g.UpdatedAt = time.Now()
	cp := *g
	m.grants[grantKey(g.FriendID, g.ServiceID)] = &cp
	return nil
}

func (m *memRepo) GetGrant(_ context.Context, friendID, serviceID string) (*core.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[grantKey(friendID, serviceID)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memRepo) ListGrantsByFriend(_ context.Context, friendID string) ([]core.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Grant
	for _, g := range m.grants {
		if g.FriendID == friendID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out, nil
}

func (m *memRepo) ListGrantedServices(_ context.Context, friendID string) ([]core.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Service
	for _, g := range m.grants {
		if g.FriendID != friendID {
			continue
		}
		if s, ok := m.services[g.ServiceID]; ok {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) HasGrant(_ context.Context, friendID, serviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grants[grantKey(friendID, serviceID)]
	return ok, nil
}

func (m *memRepo) DeleteGrant(_ context.Context, friendID, serviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := grantKey(friendID, serviceID)
	if _, ok := m.grants[k]; !ok {
		return core.ErrNotFound
	}
	delete(m.grants, k)
	return nil
}

func (m *memRepo) CountGrantsByService(_ context.Context, serviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.grants {
		if g.ServiceID == serviceID {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) CreateSession(_ context.Context, s *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.Token] = &cp
	return nil
}

func (m *memRepo) GetSession(_ context.Context, token string) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memRepo) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return core.ErrNotFound
	}
	delete(m.sessions, token)
	return nil
}

func (m *memRepo) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) CreateAccessRequest(_ context.Context, r *core.AccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = m.nextID("req")
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now()
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *memRepo) GetAccessRequest(_ context.Context, id string) (*core.AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) ListAccessRequests(_ context.Context, status string) ([]core.AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.AccessRequest
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) UpdateAccessRequestStatus(_ context.Context, id, status string, decidedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return core.ErrNotFound
	}
	r.Status = status
	r.DecidedAt = &decidedAt
	return nil
}

func (m *memRepo) InsertActivity(_ context.Context, e *core.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = m.nextID("act")
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.activity = append(m.activity, cp)
	return nil
}

func (m *memRepo) ListActivity(_ context.Context, limit int) ([]core.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ActivityEntry, 0, limit)
	for i := len(m.activity) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.activity[i])
	}
	return out, nil
}

func (m *memRepo) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	if !ok {
		return "", core.ErrNotFound
	}
	return v, nil
}

func (m *memRepo) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// actions devuelve las acciones registradas, de más vieja a más nueva.
func (m *memRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.activity))
	for _, e := range m.activity {
		out = append(out, e.Action)
	}
	return out
}

// ─── Fakes de aprovisionamiento ───

type fakeBasic struct {
	mu    sync.Mutex
	users map[string]string // subdomain|username → password
	fail  error
}

func newFakeBasic() *fakeBasic { return &fakeBasic{users: make(map[string]string)} }

func (b *fakeBasic) Provision(_ context.Context, friendName, subdomain string) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return "", "", b.fail
	}
	u := credentials.Username(friendName, subdomain)
	b.users[subdomain+"|"+u] = "clave-basic"
	return u, "clave-basic", nil
}

func (b *fakeBasic) Revoke(_ context.Context, subdomain, username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.users, subdomain+"|"+username)
	return nil
}

type fakeTokenAdapter struct {
	slug      string
	createErr error
	loginErr  error
	existed   bool

	mu      sync.Mutex
	created []string
	deleted []string
}

func (a *fakeTokenAdapter) Slug() string {
	if a.slug == "" {
		return "ombi"
	}
	return a.slug
}

func (a *fakeTokenAdapter) CreateAccount(_ context.Context, username string) (integrations.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return integrations.Account{}, a.createErr
	}
	a.created = append(a.created, username)
	return integrations.Account{
		ExternalID:     "ext-" + username,
		Username:       username,
		Password:       "clave-auto",
		AlreadyExisted: a.existed,
	}, nil
}

func (a *fakeTokenAdapter) DeleteAccount(_ context.Context, externalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, externalID)
	return nil
}

func (a *fakeTokenAdapter) CheckStatus(context.Context) integrations.Status {
	return integrations.Status{Connected: true}
}

func (a *fakeTokenAdapter) Login(_ context.Context, username, _ string) (integrations.TokenGrant, error) {
	if a.loginErr != nil {
		return integrations.TokenGrant{}, a.loginErr
	}
	return integrations.TokenGrant{LocalStorage: map[string]string{
		"auth_token": "tok-" + username,
		"user_id":    "u-1",
	}}, nil
}

type fakeCookieAdapter struct {
	loginErr error
}

func (a *fakeCookieAdapter) Slug() string { return "overseerr" }
func (a *fakeCookieAdapter) CreateAccount(_ context.Context, username string) (integrations.Account, error) {
	return integrations.Account{ExternalID: "ovr-" + username, Username: username, Password: "clave-auto"}, nil
}
func (a *fakeCookieAdapter) DeleteAccount(context.Context, string) error { return nil }
func (a *fakeCookieAdapter) CheckStatus(context.Context) integrations.Status {
	return integrations.Status{Connected: true}
}
func (a *fakeCookieAdapter) Login(context.Context, string, string) (integrations.CookieGrant, error) {
	if a.loginErr != nil {
		return integrations.CookieGrant{}, a.loginErr
	}
	return integrations.CookieGrant{Name: "connect.sid", Value: "s%3Aabc123", MaxAge: 3600}, nil
}

// ─── Entorno de test ───

type env struct {
	c     *app.Container
	repo  *memRepo
	basic *fakeBasic
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Env = "development"
	cfg.App.Name = "homepage"
	cfg.App.Version = "test"
	cfg.Domain.Base = "example.com"
	cfg.Domain.Scheme = "https"
	cfg.Admin.Email = "op@example.com"
	cfg.Admin.APIKey = "clave-api-test"
	cfg.Session.CookieName = "hp_session"
	return cfg
}

// newEnv arma un contenedor completo sobre el repo en memoria. Los limiters
// quedan nil (transparentes) y el notifier apagado, como en un arranque sin
// Redis ni SMTP.
func newEnv(t *testing.T, adapters ...integrations.Adapter) *env {
	t.Helper()
	repo := newMemRepo()
	basic := newFakeBasic()
	cfg := testConfig()
	registry := integrations.NewRegistry(adapters...)
	signer := bridge.NewSigner("secreto-handlers", 0)
	mem := cache.NewMemory("test")

	c := &app.Container{
		Cfg:        cfg,
		Store:      repo,
		Cache:      mem,
		Registry:   registry,
		Sessions:   sessions.New(repo, 0, 0),
		FriendAuth: friendauth.New(repo, mem),
		Reconciler: reconcile.New(repo, registry, basic, 0),
		Dispatcher: dispatch.New(repo, registry, signer, cfg),
		Bridge:     signer,
		Activity:   activity.NewRecorder(repo),
	}
	return &env{c: c, repo: repo, basic: basic}
}

func (e *env) handler(t *testing.T) http.Handler {
	t.Helper()
	h, err := NewRouter(e.c)
	require.NoError(t, err)
	return h
}

func (e *env) seedFriend(t *testing.T, f *core.Friend) *core.Friend {
	t.Helper()
	if f.Token == "" {
		f.Token = "tok-" + f.Name
	}
	if f.PasswordMode == "" {
		f.PasswordMode = core.PasswordOff
	}
	require.NoError(t, e.repo.CreateFriend(context.Background(), f))
	return f
}

func (e *env) seedService(t *testing.T, s *core.Service) *core.Service {
	t.Helper()
	require.NoError(t, e.repo.CreateService(context.Background(), s))
	return s
}

func (e *env) seedGrant(t *testing.T, g *core.Grant) *core.Grant {
	t.Helper()
	if g.Status == "" {
		g.Status = core.GrantActive
	}
	require.NoError(t, e.repo.UpsertGrant(context.Background(), g))
	return g
}

func (e *env) adminCookie(t *testing.T) *http.Cookie {
	t.Helper()
	raw, _, err := e.c.Sessions.Create(context.Background(), core.SessionAdmin, "", "test", false)
	require.NoError(t, err)
	return &http.Cookie{Name: e.c.Cfg.Session.CookieName, Value: raw}
}

func (e *env) friendCookie(t *testing.T, friendID string) *http.Cookie {
	t.Helper()
	raw, _, err := e.c.Sessions.Create(context.Background(), core.SessionFriend, friendID, "test", false)
	require.NoError(t, err)
	return &http.Cookie{Name: e.c.Cfg.Session.CookieName, Value: raw}
}

// ─── Helpers de request ───

type reqOpt func(*http.Request)

func withCookie(ck *http.Cookie) reqOpt {
	return func(r *http.Request) { r.AddCookie(ck) }
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func asAdmin(e *env) reqOpt {
	return withHeader("X-Admin-API-Key", e.c.Cfg.Admin.APIKey)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

// errCode extrae el código del envelope {"error":{"code":...}}.
func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code   string `json:"code"`
			Detail string `json:"detail"`
		} `json:"error"`
	}
	decodeJSON(t, rec, &body)
	return body.Error.Code
}

// cookieNamed busca una cookie en la respuesta; falla si no está.
func cookieNamed(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	t.Fatalf("cookie %q ausente en la respuesta", name)
	return nil
}
