// Package config loads the broker configuration from YAML with environment
// overrides. Credentials are read once here and threaded explicitly through
// constructors; nothing reads the environment at call time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
		// BaseURL is the public URL of this broker, used to build the
		// provider redirect_uri and verification links.
		BaseURL string `yaml:"base_url"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		// memory | redis | postgres
		Driver   string `yaml:"driver"`
		Postgres struct {
			DSN             string `yaml:"dsn"`
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	// Apple credentials for the client-secret signing flow. All four are
	// required; the signer batch-validates them at construction.
	Apple struct {
		ClientID   string `yaml:"client_id"`
		TeamID     string `yaml:"team_id"`
		PrivateKey string `yaml:"private_key"`
		KeyID      string `yaml:"key_id"`
	} `yaml:"apple"`

	Session struct {
		// Secret is the broker secret the session signing key is derived
		// from. Required in prod.
		Secret     string `yaml:"secret"`
		TTL        string `yaml:"ttl"`
		CookieName string `yaml:"cookie_name"`
		Domain     string `yaml:"domain"`
		SameSite   string `yaml:"samesite"`
		Secure     bool   `yaml:"secure"`
	} `yaml:"session"`

	Verify struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"verify"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`

	Admin struct {
		// APIKey guards the wipe endpoint. Empty disables it entirely.
		APIKey string `yaml:"api_key"`
	} `yaml:"admin"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads the YAML at path, applies defaults and env overrides, and
// validates. A missing file is not an error: env-only deployments pass "".
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "720h" // 30d
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "idbroker_session"
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "Lax"
	}
	if c.Verify.TTL == 0 {
		c.Verify.TTL = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.applyEnvOverrides()

	if _, err := time.ParseDuration(c.Session.TTL); err != nil {
		return nil, fmt.Errorf("config: session.ttl: %w", err)
	}
	if c.Storage.Postgres.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime); err != nil {
			return nil, fmt.Errorf("config: storage.postgres.conn_max_lifetime: %w", err)
		}
	}
	if strings.EqualFold(c.App.Env, "prod") && strings.TrimSpace(c.Session.Secret) == "" {
		return nil, fmt.Errorf("config: session.secret is required in prod")
	}

	return &c, nil
}

// SessionTTL returns the parsed session TTL. Load already validated it.
func (c *Config) SessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Session.TTL)
	return d
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("BASE_URL"); ok {
		c.App.BaseURL = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("POSTGRES_DSN"); ok {
		c.Storage.Postgres.DSN = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Storage.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}
	if v, ok := getEnvStr("APPLE_CLIENT_ID"); ok {
		c.Apple.ClientID = v
	}
	if v, ok := getEnvStr("APPLE_TEAM_ID"); ok {
		c.Apple.TeamID = v
	}
	if v, ok := getEnvStr("APPLE_PRIVATE_KEY"); ok {
		c.Apple.PrivateKey = v
	}
	if v, ok := getEnvStr("APPLE_KEY_ID"); ok {
		c.Apple.KeyID = v
	}
	if v, ok := getEnvStr("SESSION_SECRET"); ok {
		c.Session.Secret = v
	}
	if v, ok := getEnvStr("ADMIN_API_KEY"); ok {
		c.Admin.APIKey = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
