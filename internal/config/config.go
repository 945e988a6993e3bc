package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config representa toda la configuración de homepage.
// Se carga desde YAML y puede sobre-escribirse con variables de entorno
// con prefijo HOMEPAGE_ (útil en contenedores).
type Config struct {
	App struct {
		Env     string `yaml:"env"`     // development | production
		Name    string `yaml:"name"`    // nombre del servicio para logs/metrics
		Version string `yaml:"version"` // inyectada en build, opcional en YAML
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		IdleTimeout     string `yaml:"idle_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Domain controla cómo se construyen las URLs públicas:
	// cada servicio vive en https://<subdomain>.<base>.
	Domain struct {
		Base         string `yaml:"base"`          // p.ej. example.com
		CookieDomain string `yaml:"cookie_domain"` // p.ej. .example.com; vacío en localhost
		Scheme       string `yaml:"scheme"`        // https salvo desarrollo local
	} `yaml:"domain"`

	Admin struct {
		Password string `yaml:"password"` // se hashea con argon2id al arrancar
		Email    string `yaml:"email"`
		APIKey   string `yaml:"api_key"` // para homepagectl y automatización
	} `yaml:"admin"`

	Session struct {
		CookieName  string `yaml:"cookie_name"`
		TTL         string `yaml:"ttl"`          // sesión normal
		RememberTTL string `yaml:"remember_ttl"` // con "recordarme"
		Secure      bool   `yaml:"secure"`
		JanitorEach string `yaml:"janitor_each"` // barrido de sesiones caducadas
	} `yaml:"session"`

	Storage struct {
		Driver   string `yaml:"driver"` // postgres
		Postgres struct {
			DSN             string `yaml:"dsn"`
			MaxConns        int32  `yaml:"max_conns"`
			MinConns        int32  `yaml:"min_conns"`
			MaxConnLifetime string `yaml:"max_conn_lifetime"`
			MaxConnIdleTime string `yaml:"max_conn_idle_time"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Driver   string `yaml:"driver"` // memory | redis
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"cache"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		// login cubre /api/auth/* (admin y amigos); view cubre /api/view/*.
		Login struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
		View struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"view"`
		Whitelist []string `yaml:"whitelist"`
	} `yaml:"rate"`

	// Bridge firma los payloads efímeros que viajan del dispatcher a la
	// página de setup en el subdominio del servicio.
	Bridge struct {
		Secret string `yaml:"secret"`
		TTL    string `yaml:"ttl"`
	} `yaml:"bridge"`

	// BasicAuth gestiona los ficheros htpasswd que consume el reverse proxy.
	BasicAuth struct {
		Dir       string   `yaml:"dir"`        // directorio de ficheros htpasswd
		ReloadCmd []string `yaml:"reload_cmd"` // p.ej. ["docker","kill","-s","HUP","nginx"]
	} `yaml:"basic_auth"`

	Status struct {
		Enabled     bool   `yaml:"enabled"`
		Interval    string `yaml:"interval"`
		Timeout     string `yaml:"timeout"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"status"`

	SMTP struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		TLSMode  string `yaml:"tls_mode"` // auto|starttls|ssl|none
		NotifyTo string `yaml:"notify_to"`
	} `yaml:"smtp"`

	// Integrations: credenciales de administrador de cada servicio gestionado.
	// Un bloque sin URL deja la integración sin configurar (el registry la
	// reporta como tal y las operaciones devuelven ConfigurationMissing).
	Integrations struct {
		Ombi struct {
			URL    string `yaml:"url"`
			APIKey string `yaml:"api_key"`
		} `yaml:"ombi"`
		Jellyfin struct {
			URL    string `yaml:"url"`
			APIKey string `yaml:"api_key"`
		} `yaml:"jellyfin"`
		Overseerr struct {
			URL    string `yaml:"url"`
			APIKey string `yaml:"api_key"`
		} `yaml:"overseerr"`
		Mattermost struct {
			URL    string `yaml:"url"`
			Token  string `yaml:"token"`
			TeamID string `yaml:"team_id"`
		} `yaml:"mattermost"`
		Nextcloud struct {
			URL       string `yaml:"url"`
			AdminUser string `yaml:"admin_user"`
			AdminPass string `yaml:"admin_pass"`
		} `yaml:"nextcloud"`
		Plex struct {
			URL   string `yaml:"url"` // URL del servidor local, para status
			Token string `yaml:"token"`
		} `yaml:"plex"`
		Jitsi struct {
			URL      string `yaml:"url"`
			StatsURL string `yaml:"stats_url"`
		} `yaml:"jitsi"`
	} `yaml:"integrations"`

	// SeedServices se insertan al arrancar si la tabla services está vacía.
	SeedServices []SeedService `yaml:"seed_services"`
}

// SeedService es la forma mínima de un servicio para el arranque inicial.
type SeedService struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Subdomain   string `yaml:"subdomain"`
	Icon        string `yaml:"icon"`
	Description string `yaml:"description"`
	Integration string `yaml:"integration"`
	IsDefault   bool   `yaml:"is_default"`
}

// Load lee el YAML, aplica valores por defecto, sobre-escrituras de entorno
// y valida el resultado.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: leyendo %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parseando %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "development"
	}
	if c.App.Name == "" {
		c.App.Name = "homepage"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8085"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.IdleTimeout == "" {
		c.Server.IdleTimeout = "120s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}
	if c.Domain.Scheme == "" {
		c.Domain.Scheme = "https"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "hp_session"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "24h"
	}
	if c.Session.RememberTTL == "" {
		c.Session.RememberTTL = "720h" // 30 días
	}
	if c.Session.JanitorEach == "" {
		c.Session.JanitorEach = "1h"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 8
	}
	if c.Storage.Postgres.MinConns == 0 {
		c.Storage.Postgres.MinConns = 1
	}
	if c.Storage.Postgres.MaxConnLifetime == "" {
		c.Storage.Postgres.MaxConnLifetime = "30m"
	}
	if c.Storage.Postgres.MaxConnIdleTime == "" {
		c.Storage.Postgres.MaxConnIdleTime = "5m"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.Port == 0 {
		c.Cache.Port = 6379
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "homepage"
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "1m"
	}
	if c.Rate.View.Limit == 0 {
		c.Rate.View.Limit = 60
	}
	if c.Rate.View.Window == "" {
		c.Rate.View.Window = "1m"
	}
	if c.Bridge.TTL == "" {
		c.Bridge.TTL = "60s"
	}
	if c.BasicAuth.Dir == "" {
		c.BasicAuth.Dir = "/etc/homepage/htpasswd"
	}
	if c.Status.Interval == "" {
		c.Status.Interval = "30s"
	}
	if c.Status.Timeout == "" {
		c.Status.Timeout = "10s"
	}
	if c.Status.Concurrency == 0 {
		c.Status.Concurrency = 4
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.TLSMode == "" {
		c.SMTP.TLSMode = "auto"
	}
}

// applyEnvOverrides permite ajustar la configuración sin tocar el YAML.
// Todas las variables llevan prefijo HOMEPAGE_.
func (c *Config) applyEnvOverrides() {
	c.App.Env = getEnvStr("HOMEPAGE_ENV", c.App.Env)
	c.Server.Addr = getEnvStr("HOMEPAGE_ADDR", c.Server.Addr)

	c.Domain.Base = getEnvStr("HOMEPAGE_BASE_DOMAIN", c.Domain.Base)
	c.Domain.CookieDomain = getEnvStr("HOMEPAGE_COOKIE_DOMAIN", c.Domain.CookieDomain)
	c.Domain.Scheme = getEnvStr("HOMEPAGE_SCHEME", c.Domain.Scheme)

	c.Admin.Password = getEnvStr("HOMEPAGE_ADMIN_PASSWORD", c.Admin.Password)
	c.Admin.Email = getEnvStr("HOMEPAGE_ADMIN_EMAIL", c.Admin.Email)
	c.Admin.APIKey = getEnvStr("HOMEPAGE_ADMIN_API_KEY", c.Admin.APIKey)

	c.Session.TTL = getEnvDur("HOMEPAGE_SESSION_TTL", c.Session.TTL)
	c.Session.RememberTTL = getEnvDur("HOMEPAGE_SESSION_REMEMBER_TTL", c.Session.RememberTTL)
	c.Session.Secure = getEnvBool("HOMEPAGE_SESSION_SECURE", c.Session.Secure)

	c.Storage.Postgres.DSN = getEnvStr("HOMEPAGE_PG_DSN", c.Storage.Postgres.DSN)

	c.Cache.Driver = getEnvStr("HOMEPAGE_CACHE_DRIVER", c.Cache.Driver)
	c.Cache.Host = getEnvStr("HOMEPAGE_CACHE_HOST", c.Cache.Host)
	c.Cache.Port = getEnvInt("HOMEPAGE_CACHE_PORT", c.Cache.Port)
	c.Cache.Password = getEnvStr("HOMEPAGE_CACHE_PASSWORD", c.Cache.Password)
	c.Cache.DB = getEnvInt("HOMEPAGE_CACHE_DB", c.Cache.DB)

	c.Rate.Enabled = getEnvBool("HOMEPAGE_RATE_ENABLED", c.Rate.Enabled)
	c.Rate.Whitelist = getEnvCSV("HOMEPAGE_RATE_WHITELIST", c.Rate.Whitelist)

	c.Bridge.Secret = getEnvStr("HOMEPAGE_BRIDGE_SECRET", c.Bridge.Secret)

	c.BasicAuth.Dir = getEnvStr("HOMEPAGE_HTPASSWD_DIR", c.BasicAuth.Dir)

	c.Status.Enabled = getEnvBool("HOMEPAGE_STATUS_ENABLED", c.Status.Enabled)
	c.Status.Interval = getEnvDur("HOMEPAGE_STATUS_INTERVAL", c.Status.Interval)

	c.SMTP.Enabled = getEnvBool("HOMEPAGE_SMTP_ENABLED", c.SMTP.Enabled)
	c.SMTP.Host = getEnvStr("HOMEPAGE_SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvInt("HOMEPAGE_SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnvStr("HOMEPAGE_SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getEnvStr("HOMEPAGE_SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.From = getEnvStr("HOMEPAGE_SMTP_FROM", c.SMTP.From)
	c.SMTP.NotifyTo = getEnvStr("HOMEPAGE_NOTIFY_TO", c.SMTP.NotifyTo)

	c.Integrations.Ombi.URL = getEnvStr("HOMEPAGE_OMBI_URL", c.Integrations.Ombi.URL)
	c.Integrations.Ombi.APIKey = getEnvStr("HOMEPAGE_OMBI_API_KEY", c.Integrations.Ombi.APIKey)
	c.Integrations.Jellyfin.URL = getEnvStr("HOMEPAGE_JELLYFIN_URL", c.Integrations.Jellyfin.URL)
	c.Integrations.Jellyfin.APIKey = getEnvStr("HOMEPAGE_JELLYFIN_API_KEY", c.Integrations.Jellyfin.APIKey)
	c.Integrations.Overseerr.URL = getEnvStr("HOMEPAGE_OVERSEERR_URL", c.Integrations.Overseerr.URL)
	c.Integrations.Overseerr.APIKey = getEnvStr("HOMEPAGE_OVERSEERR_API_KEY", c.Integrations.Overseerr.APIKey)
	c.Integrations.Mattermost.URL = getEnvStr("HOMEPAGE_MATTERMOST_URL", c.Integrations.Mattermost.URL)
	c.Integrations.Mattermost.Token = getEnvStr("HOMEPAGE_MATTERMOST_TOKEN", c.Integrations.Mattermost.Token)
	c.Integrations.Mattermost.TeamID = getEnvStr("HOMEPAGE_MATTERMOST_TEAM_ID", c.Integrations.Mattermost.TeamID)
	c.Integrations.Nextcloud.URL = getEnvStr("HOMEPAGE_NEXTCLOUD_URL", c.Integrations.Nextcloud.URL)
	c.Integrations.Nextcloud.AdminUser = getEnvStr("HOMEPAGE_NEXTCLOUD_ADMIN_USER", c.Integrations.Nextcloud.AdminUser)
	c.Integrations.Nextcloud.AdminPass = getEnvStr("HOMEPAGE_NEXTCLOUD_ADMIN_PASS", c.Integrations.Nextcloud.AdminPass)
	c.Integrations.Plex.URL = getEnvStr("HOMEPAGE_PLEX_URL", c.Integrations.Plex.URL)
	c.Integrations.Plex.Token = getEnvStr("HOMEPAGE_PLEX_TOKEN", c.Integrations.Plex.Token)
	c.Integrations.Jitsi.URL = getEnvStr("HOMEPAGE_JITSI_URL", c.Integrations.Jitsi.URL)
	c.Integrations.Jitsi.StatsURL = getEnvStr("HOMEPAGE_JITSI_STATS_URL", c.Integrations.Jitsi.StatsURL)
}

// Validate comprueba lo mínimo para arrancar. Las duraciones se validan
// aquí para fallar temprano y no en mitad de una request.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.idle_timeout":     c.Server.IdleTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"session.ttl":             c.Session.TTL,
		"session.remember_ttl":    c.Session.RememberTTL,
		"session.janitor_each":    c.Session.JanitorEach,
		"rate.login.window":       c.Rate.Login.Window,
		"rate.view.window":        c.Rate.View.Window,
		"bridge.ttl":              c.Bridge.TTL,
		"status.interval":         c.Status.Interval,
		"status.timeout":          c.Status.Timeout,
	}
	for name, v := range durations {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s inválido (%q): %w", name, v, err)
		}
	}

	if c.Storage.Driver != "postgres" {
		return fmt.Errorf("config: storage.driver no soportado: %q", c.Storage.Driver)
	}
	if c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("config: storage.postgres.dsn es obligatorio")
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("config: cache.driver no soportado: %q", c.Cache.Driver)
	}
	if c.Domain.Base == "" {
		return fmt.Errorf("config: domain.base es obligatorio")
	}

	// Guardia dura en producción: sin credenciales por defecto ni pantallas
	// de setup sin firmar.
	if c.IsProd() {
		if c.Admin.Password == "" {
			return fmt.Errorf("config: admin.password es obligatorio en producción")
		}
		if c.Bridge.Secret == "" {
			return fmt.Errorf("config: bridge.secret es obligatorio en producción")
		}
		if !c.Session.Secure {
			return fmt.Errorf("config: session.secure debe ser true en producción")
		}
	}
	return nil
}

// IsProd indica si la app corre en modo producción.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "production") }

// Dur devuelve una duración ya validada por Validate.
func Dur(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

// ServiceURL construye la URL pública de un subdominio bajo el dominio base.
func (c *Config) ServiceURL(subdomain string) string {
	return fmt.Sprintf("%s://%s.%s/", c.Domain.Scheme, subdomain, c.Domain.Base)
}

// BaseURL es la URL pública del panel (el dominio base sin subdominio).
func (c *Config) BaseURL() string {
	return fmt.Sprintf("%s://%s/", c.Domain.Scheme, c.Domain.Base)
}

// --- helpers de entorno ---

func getEnvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDur valida que el valor sea una duración; si no lo es, conserva def.
func getEnvDur(key, def string) string {
	if v := os.Getenv(key); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			return v
		}
	}
	return def
}

func getEnvCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
