package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/kevinaaaquil/kremlib/validation"
)

// DefaultJWTSecret is only accepted when Environment is development.
const DefaultJWTSecret = "change-me-in-production"

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Auth     AuthConfig     `koanf:"auth"`
	Storage  StorageConfig  `koanf:"storage"`
	Cache    CacheConfig    `koanf:"cache"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	Logging  LoggingConfig  `koanf:"logging"`
	Admin    AdminConfig    `koanf:"admin"`
	API      APIConfig      `koanf:"api"`
	Security SecurityConfig `koanf:"security"`
}

type ServerConfig struct {
	Environment     string        `koanf:"environment" validate:"oneof=development test production"`
	Port            string        `koanf:"port" validate:"required,numeric"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type MongoConfig struct {
	URI string `koanf:"uri" validate:"required"`
	DB  string `koanf:"db" validate:"required"`
}

type AuthConfig struct {
	JWTSecret   string        `koanf:"jwt_secret" validate:"required,min=16"`
	TokenTTL    time.Duration `koanf:"token_ttl" validate:"gt=0"`
	MaxFailures int           `koanf:"max_failures" validate:"gte=1"`
	LockFor     time.Duration `koanf:"lock_for" validate:"gt=0"`
}

// StorageConfig selects the file store: S3 when Bucket is set, local disk otherwise.
type StorageConfig struct {
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	MediaRoot       string `koanf:"media_root" validate:"required"`
	MaxUploadMB     int64  `koanf:"max_upload_mb" validate:"gt=0"`
}

type CacheConfig struct {
	TTL        time.Duration `koanf:"ttl" validate:"gt=0"`
	MaxEntries int64         `koanf:"max_entries" validate:"gt=0"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"gte=0,lte=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from" validate:"omitempty,email"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// AdminConfig seeds an administrator account on startup when all fields are set.
type AdminConfig struct {
	Username string `koanf:"username"`
	Email    string `koanf:"email" validate:"omitempty,email"`
	Password string `koanf:"password"`
}

type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size" validate:"gte=1"`
	MaxPageSize     int `koanf:"max_page_size" validate:"gtefield=DefaultPageSize"`
}

type SecurityConfig struct {
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Environment:     "development",
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Mongo: MongoConfig{
			URI: "mongodb://localhost:27017",
			DB:  "kremlib",
		},
		Auth: AuthConfig{
			JWTSecret:   DefaultJWTSecret,
			TokenTTL:    24 * time.Hour,
			MaxFailures: 5,
			LockFor:     15 * time.Minute,
		},
		Storage: StorageConfig{
			Region:      "us-east-1",
			MediaRoot:   "media",
			MaxUploadMB: 50,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		API: APIConfig{
			DefaultPageSize: 10,
			MaxPageSize:     100,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   20,
			RateLimitWindow: time.Minute,
		},
	}
}

// envKeys maps environment variables to config paths. Anything else in the
// environment is ignored.
var envKeys = map[string]string{
	"ENVIRONMENT":           "server.environment",
	"PORT":                  "server.port",
	"READ_TIMEOUT":          "server.read_timeout",
	"WRITE_TIMEOUT":         "server.write_timeout",
	"SHUTDOWN_TIMEOUT":      "server.shutdown_timeout",
	"MONGODB_URI":           "mongo.uri",
	"MONGODB_DB":            "mongo.db",
	"JWT_SECRET":            "auth.jwt_secret",
	"TOKEN_TTL":             "auth.token_ttl",
	"LOGIN_MAX_FAILURES":    "auth.max_failures",
	"LOGIN_LOCK_DURATION":   "auth.lock_for",
	"AWS_S3_BUCKET":         "storage.bucket",
	"AWS_REGION":            "storage.region",
	"AWS_ACCESS_KEY_ID":     "storage.access_key_id",
	"AWS_SECRET_ACCESS_KEY": "storage.secret_access_key",
	"MEDIA_ROOT":            "storage.media_root",
	"MAX_UPLOAD_MB":         "storage.max_upload_mb",
	"CACHE_TTL":             "cache.ttl",
	"CACHE_MAX_ENTRIES":     "cache.max_entries",
	"SMTP_HOST":             "smtp.host",
	"SMTP_PORT":             "smtp.port",
	"SMTP_USERNAME":         "smtp.username",
	"SMTP_PASSWORD":         "smtp.password",
	"SMTP_FROM":             "smtp.from",
	"LOG_LEVEL":             "logging.level",
	"LOG_FORMAT":            "logging.format",
	"ADMIN_USERNAME":        "admin.username",
	"ADMIN_EMAIL":           "admin.email",
	"ADMIN_PASSWORD":        "admin.password",
	"PAGE_SIZE":             "api.default_page_size",
	"MAX_PAGE_SIZE":         "api.max_page_size",
	"CORS_ORIGINS":          "security.cors_origins",
	"RATE_LIMIT_REQUESTS":   "security.rate_limit_requests",
	"RATE_LIMIT_WINDOW":     "security.rate_limit_window",
}

func envKey(key string) string {
	return envKeys[strings.ToUpper(key)]
}

// Load layers struct defaults, an optional YAML file and the environment,
// then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitList(k, "security.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitList turns a comma-separated env value into a string slice.
func splitList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.Server.Environment != "development" && c.Auth.JWTSecret == DefaultJWTSecret {
		return errors.New("JWT_SECRET must be set to a strong secret outside development")
	}
	if c.Storage.Bucket != "" && c.Storage.Region == "" {
		return errors.New("AWS_REGION is required when AWS_S3_BUCKET is set")
	}
	if c.Admin.Username != "" && (c.Admin.Email == "" || c.Admin.Password == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required when ADMIN_USERNAME is set")
	}
	return nil
}

func (c *Config) Production() bool { return c.Server.Environment == "production" }

// MaxUploadBytes is the multipart body limit for uploads.
func (c *Config) MaxUploadBytes() int64 { return c.Storage.MaxUploadMB << 20 }

// SMTPEnabled reports whether send-to-device can deliver mail.
func (c *Config) SMTPEnabled() bool { return c.SMTP.Host != "" && c.SMTP.From != "" }

// Addr is the listen address.
func (c *Config) Addr() string { return ":" + c.Server.Port }
