package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

const envPrefix = "FITTRACK_"

// Config holds all FitTrack server configuration.
type Config struct {
	Env       string          `yaml:"env"`
	Port      int             `yaml:"port"`
	Host      string          `yaml:"host"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Session   SessionConfig   `yaml:"session"`
	Auth      AuthConfig      `yaml:"auth"`
	Upload    UploadConfig    `yaml:"upload"`
	ObjStore  ObjStoreConfig  `yaml:"objstore"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, json
	Path   string `yaml:"path"`
}

type SessionConfig struct {
	ExpirationDays       int64 `yaml:"expiration_days"`
	RefreshThresholdDays int64 `yaml:"refresh_threshold_days"`
}

type AuthConfig struct {
	Provider    string        `yaml:"provider"` // local, cognito
	TokenSecret string        `yaml:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	Cognito     CognitoConfig `yaml:"cognito"`
}

type CognitoConfig struct {
	Region       string `yaml:"region"`
	UserPoolID   string `yaml:"user_pool_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type UploadConfig struct {
	Strategy     string        `yaml:"strategy"` // inline, object
	MaxBytes     int64         `yaml:"max_bytes"`
	InlineMax    int64         `yaml:"inline_max_bytes"`
	URLExpiry    time.Duration `yaml:"url_expiry"`
	SuffixLength int           `yaml:"suffix_length"`
}

type ObjStoreConfig struct {
	Driver    string `yaml:"driver"` // disk, s3
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// X-Forwarded-For is only read from these addresses or CIDR ranges.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

func Default() *Config {
	return &Config{
		Env:  "dev",
		Port: 3000,
		Host: "http://localhost:3000",
		Log:  LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "fittrack.db",
		},
		Session: SessionConfig{
			ExpirationDays:       30,
			RefreshThresholdDays: 15,
		},
		Auth: AuthConfig{
			Provider:    "local",
			TokenSecret: "dev-secret-change-me",
			TokenTTL:    time.Hour,
		},
		Upload: UploadConfig{
			Strategy:     "object",
			MaxBytes:     10 << 20,
			InlineMax:    2 << 20,
			URLExpiry:    time.Hour,
			SuffixLength: 6,
		},
		ObjStore: ObjStoreConfig{
			Driver: "disk",
			Dir:    "uploads",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3001"},
		},
		RateLimit: RateLimitConfig{RPS: 15, Burst: 50},
	}
}

// Load reads defaults, then the YAML file at path (if any), then FITTRACK_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int64) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ENV", &c.Env)
	port := int64(c.Port)
	num("PORT", &port)
	c.Port = int(port)
	str("HOST", &c.Host)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_PATH", &c.Store.Path)
	num("SESSION_EXPIRATION_DAYS", &c.Session.ExpirationDays)
	num("SESSION_REFRESH_THRESHOLD_DAYS", &c.Session.RefreshThresholdDays)
	str("AUTH_PROVIDER", &c.Auth.Provider)
	str("AUTH_TOKEN_SECRET", &c.Auth.TokenSecret)
	dur("AUTH_TOKEN_TTL", &c.Auth.TokenTTL)
	str("COGNITO_REGION", &c.Auth.Cognito.Region)
	str("COGNITO_USER_POOL_ID", &c.Auth.Cognito.UserPoolID)
	str("COGNITO_CLIENT_ID", &c.Auth.Cognito.ClientID)
	str("COGNITO_CLIENT_SECRET", &c.Auth.Cognito.ClientSecret)
	str("UPLOAD_STRATEGY", &c.Upload.Strategy)
	num("UPLOAD_MAX_BYTES", &c.Upload.MaxBytes)
	dur("UPLOAD_URL_EXPIRY", &c.Upload.URLExpiry)
	str("OBJSTORE_DRIVER", &c.ObjStore.Driver)
	str("OBJSTORE_DIR", &c.ObjStore.Dir)
	str("OBJSTORE_BUCKET", &c.ObjStore.Bucket)
	str("OBJSTORE_REGION", &c.ObjStore.Region)
	str("OBJSTORE_ENDPOINT", &c.ObjStore.Endpoint)
	str("OBJSTORE_ACCESS_KEY", &c.ObjStore.AccessKey)
	str("OBJSTORE_SECRET_KEY", &c.ObjStore.SecretKey)
	if v, ok := lookup(envPrefix + "OBJSTORE_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sOBJSTORE_PATH_STYLE: %w", envPrefix, err))
		} else {
			c.ObjStore.PathStyle = b
		}
	}
	if v, ok := lookup(envPrefix + "CORS_ALLOWED_ORIGINS"); ok {
		c.CORS.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup(envPrefix + "RATE_LIMIT_TRUSTED_PROXIES"); ok {
		c.RateLimit.TrustedProxies = splitList(v)
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Store.Driver {
	case "sqlite", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}
	if c.Session.ExpirationDays <= 0 {
		errs = append(errs, errors.New("session expiration must be positive"))
	}
	if c.Session.RefreshThresholdDays < 0 || c.Session.RefreshThresholdDays > c.Session.ExpirationDays {
		errs = append(errs, errors.New("session refresh threshold must be between 0 and the expiration"))
	}
	switch c.Auth.Provider {
	case "local":
	case "cognito":
		if c.Auth.Cognito.Region == "" || c.Auth.Cognito.ClientID == "" {
			errs = append(errs, errors.New("cognito provider needs region and client_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth provider %q", c.Auth.Provider))
	}
	if c.Auth.TokenSecret == "" || (c.IsProd() && c.Auth.TokenSecret == Default().Auth.TokenSecret) {
		errs = append(errs, errors.New("auth token secret must be set"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth token ttl must be positive"))
	}
	switch c.Upload.Strategy {
	case "inline", "object":
	default:
		errs = append(errs, fmt.Errorf("unknown upload strategy %q", c.Upload.Strategy))
	}
	if c.Upload.URLExpiry <= 0 {
		errs = append(errs, errors.New("upload url expiry must be positive"))
	}
	switch c.ObjStore.Driver {
	case "disk":
		if c.ObjStore.Dir == "" {
			errs = append(errs, errors.New("objstore dir is required for the disk driver"))
		}
	case "s3":
		if c.ObjStore.Bucket == "" {
			errs = append(errs, errors.New("objstore bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown objstore driver %q", c.ObjStore.Driver))
	}
	return errors.Join(errs...)
}

// Logger builds the slog handler described by the log section.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
