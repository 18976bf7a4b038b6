package trust

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-errors"
	"github.com/hashicorp/go-hclog"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultEnvPrefix is the environment variable prefix read by LoadConfig.
const DefaultEnvPrefix = "TRUST_"

// envSectionSeparator splits sections in environment variable names:
// TRUST_SESSION__COOKIE_NAME maps to session.cookie_name.
const envSectionSeparator = "__"

// Config is the process configuration. Values are handed to constructors
// explicitly; nothing reads it globally.
type Config struct {
	SigningSecret string           `koanf:"signing_secret"`
	Session       SessionConfig    `koanf:"session"`
	Invitation    InvitationConfig `koanf:"invitation"`
	Auth          AuthConfig       `koanf:"auth"`
	Redis         RedisConfig      `koanf:"redis"`
	Database      DatabaseConfig   `koanf:"database"`
	HTTP          HTTPConfig       `koanf:"http"`
	Log           LogConfig        `koanf:"log"`
}

type SessionConfig struct {
	TTL          time.Duration `koanf:"ttl"`
	CookieName   string        `koanf:"cookie_name"`
	CookieSecure bool          `koanf:"cookie_secure"`
	KeyPrefix    string        `koanf:"key_prefix"`
}

type InvitationConfig struct {
	BaseURL    string `koanf:"base_url"`
	ExpireDays int    `koanf:"expire_days"`
}

type AuthConfig struct {
	HashWorkers  int           `koanf:"hash_workers"`
	TwoFactorTTL time.Duration `koanf:"two_factor_ttl"`
	ResetCodeTTL time.Duration `koanf:"reset_code_ttl"`
	CodeLength   int           `koanf:"code_length"`
}

type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// DefaultConfig returns the configuration used for keys no source sets. The
// signing secret has no default.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:          DefaultSessionTTL,
			CookieName:   DefaultSessionCookieName,
			CookieSecure: true,
			KeyPrefix:    DefaultSessionKeyPrefix,
		},
		Invitation: InvitationConfig{
			BaseURL:    "http://localhost:8080",
			ExpireDays: DefaultInvitationExpireDays,
		},
		Auth: AuthConfig{
			TwoFactorTTL: DefaultTwoFactorTTL,
			ResetCodeTTL: 15 * time.Minute,
			CodeLength:   DefaultCodeLength,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Database: DatabaseConfig{
			DSN: "file:trust.db?cache=shared",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads defaults, then the YAML file at path when set, then
// environment variables starting with envPrefix, later sources winning.
func LoadConfig(path, envPrefix string) (Config, error) {
	cfg := DefaultConfig()

	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, errors.Wrap(err, errors.CategoryInternal, fmt.Sprintf("failed to load config file %s", path)).
				WithTextCode(TextCodeInvalidConfig)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyTransformer(envPrefix)), nil); err != nil {
		return cfg, errors.Wrap(err, errors.CategoryInternal, "failed to load config from environment").
			WithTextCode(TextCodeInvalidConfig)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, errors.Wrap(err, errors.CategoryValidation, "failed to decode config").
			WithTextCode(TextCodeInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func envKeyTransformer(prefix string) func(string) string {
	return func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, envSectionSeparator, ".")
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SigningSecret,
			validation.Required,
			validation.Length(MinSecretLength, 0),
		),
		validation.Field(&c.Session),
		validation.Field(&c.Invitation),
		validation.Field(&c.Auth),
		validation.Field(&c.Redis),
		validation.Field(&c.HTTP),
	)
	if err != nil {
		return errors.FromOzzoValidation(err, "invalid configuration").
			WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}

func (c SessionConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.CookieName, validation.Required),
		validation.Field(&c.KeyPrefix, validation.Required),
	)
}

func (c InvitationConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.ExpireDays, validation.Required, validation.Min(1)),
	)
}

func (c AuthConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.HashWorkers, validation.Min(0)),
		validation.Field(&c.TwoFactorTTL, validation.Required),
		validation.Field(&c.ResetCodeTTL, validation.Required),
		validation.Field(&c.CodeLength, validation.Required, validation.Min(4), validation.Max(12)),
	)
}

func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DB, validation.Min(0)),
	)
}

func (c HTTPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
	)
}

// CookieConfig returns the session cookie attributes.
func (c Config) CookieConfig() CookieConfig {
	return CookieConfig{
		Name:   c.Session.CookieName,
		Secure: c.Session.CookieSecure,
		TTL:    c.Session.TTL,
	}
}

// RedisOptions returns client options with bounded timeouts.
func (c RedisConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// NewLogger builds the root logger for the configured level and format.
func (c LogConfig) NewLogger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(c.Level),
		JSONFormat: c.JSON,
	})
}
