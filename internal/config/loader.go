package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

const delim = "."

// MinSecretLength is the minimum signing secret size in bytes (HS256 key size).
const MinSecretLength = 32

const (
	keyAppName             = "app.name"
	keyEnv                 = "app.env"
	keyPort                = "app.port"
	keyLogLevel            = "log.level"
	keyJWTSecret           = "jwt.secret"
	keyJWTIssuer           = "jwt.issuer"
	keyJWTAudience         = "jwt.audience"
	keyJWTExpiryMinutes    = "jwt.expiration_minutes"
	keyJWTRefreshDays      = "jwt.refresh_token_expiration_days"
	keyLockoutThreshold    = "lockout.threshold"
	keyLockoutMinutes      = "lockout.duration_minutes"
	keyReuseDetection      = "security.reuse_detection"
	keyRateLimitEnabled    = "security.rate_limit.enabled"
	keyRateLimitPerSecond  = "security.rate_limit.per_second"
	keyRateLimitBurst      = "security.rate_limit.burst"
	keyTrustForwardedFor   = "security.trust_forwarded_for"
	keyDefaultRole         = "roles.default"
	keyStoreDriver         = "store.driver"
	keyStoreDSN            = "store.dsn"
	keyStoreTimeoutSeconds = "store.timeout_seconds"
	keyStoreConnectRetries = "store.connect_retries"
	keyCorsOrigins         = "cors.allowed_origins"
)

// Flag names registered by RegisterFlags.
const (
	FlagConfigFile  = "config"
	FlagPort        = "port"
	FlagEnv         = "env"
	FlagLogLevel    = "log-level"
	FlagStore       = "store"
	FlagDatabaseURL = "database-url"
	FlagRateLimit   = "rate-limit"
	FlagTrustProxy  = "trust-proxy"
)

var defaults = map[string]any{
	keyAppName:             "Go Session Auth",
	keyEnv:                 "DEV",
	keyPort:                "8080",
	keyLogLevel:            "info",
	keyJWTIssuer:           "go-session-auth",
	keyJWTAudience:         "go-session-auth-users",
	keyJWTExpiryMinutes:    60,
	keyJWTRefreshDays:      7,
	keyLockoutThreshold:    5,
	keyLockoutMinutes:      30,
	keyReuseDetection:      false,
	keyRateLimitEnabled:    false,
	keyRateLimitPerSecond:  5.0,
	keyRateLimitBurst:      10,
	keyTrustForwardedFor:   false,
	keyDefaultRole:         "EndUser",
	keyStoreDriver:         StoreDriverPostgres,
	keyStoreTimeoutSeconds: 5,
	keyStoreConnectRetries: 5,
	keyCorsOrigins:         []string{},
}

// envVars maps environment variables onto config keys. Empty values are
// ignored, the same way GetEnv falls back to its default.
var envVars = map[string]string{
	appNameVar:                          keyAppName,
	envEnvVar:                           keyEnv,
	portEnvVar:                          keyPort,
	logLevelEnvVar:                      keyLogLevel,
	"JWT_SECRET":                        keyJWTSecret,
	"JWT_ISSUER":                        keyJWTIssuer,
	"JWT_AUDIENCE":                      keyJWTAudience,
	"JWT_EXPIRATION_MINUTES":            keyJWTExpiryMinutes,
	"JWT_REFRESH_TOKEN_EXPIRATION_DAYS": keyJWTRefreshDays,
	"LOCKOUT_THRESHOLD":                 keyLockoutThreshold,
	"LOCKOUT_DURATION_MINUTES":          keyLockoutMinutes,
	"REFRESH_REUSE_DETECTION":           keyReuseDetection,
	"RATE_LIMIT_ENABLED":                keyRateLimitEnabled,
	"TRUST_FORWARDED_FOR":               keyTrustForwardedFor,
	"DEFAULT_ROLE":                      keyDefaultRole,
	"STORE_DRIVER":                      keyStoreDriver,
	"DATABASE_URL":                      keyStoreDSN,
}

var flagKeys = map[string]string{
	FlagPort:        keyPort,
	FlagEnv:         keyEnv,
	FlagLogLevel:    keyLogLevel,
	FlagStore:       keyStoreDriver,
	FlagDatabaseURL: keyStoreDSN,
	FlagRateLimit:   keyRateLimitEnabled,
	FlagTrustProxy:  keyTrustForwardedFor,
}

// RegisterFlags adds the command line overrides understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagConfigFile, "", "path to a YAML config file (or CONFIG_FILE)")
	fs.String(FlagPort, "8080", "HTTP listen port")
	fs.String(FlagEnv, "DEV", "environment name (DEV enables console logging)")
	fs.String(FlagLogLevel, "info", "log level (debug, info, warn, error)")
	fs.String(FlagStore, StoreDriverPostgres, "store driver: postgres or memory")
	fs.String(FlagDatabaseURL, "", "PostgreSQL connection string")
	fs.Bool(FlagRateLimit, false, "enable per client rate limiting on login and refresh")
	fs.Bool(FlagTrustProxy, false, "take the client address from X-Forwarded-For (only behind a trusted proxy)")
}

// Load builds the configuration from defaults, an optional YAML file, the
// environment and finally command line flags, later sources winning. fs may
// be nil. A missing or short signing secret is an error.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg, err := load(fs)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase loads the same sources as Load but only requires what the
// migrate command needs: a PostgreSQL connection string.
func LoadDatabase(fs *pflag.FlagSet) (DatabaseConfig, error) {
	cfg, err := load(fs)
	if err != nil {
		return nil, err
	}
	if cfg.GetDatabaseURL() == "" {
		return nil, oops.Code("CONFIG_INVALID").
			With("key", keyStoreDSN).
			Errorf("database url is required (set DATABASE_URL)")
	}
	return cfg, nil
}

func load(fs *pflag.FlagSet) (mainConfig, error) {
	k := koanf.New(delim)
	if err := applyDefaults(k); err != nil {
		return mainConfig{}, err
	}

	path := GetEnv("CONFIG_FILE", "")
	if fs != nil {
		if p, err := fs.GetString(FlagConfigFile); err == nil && p != "" {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return mainConfig{}, oops.Code("CONFIG_INVALID").
				With("path", path).
				Wrapf(err, "failed to load config file")
		}
	}

	if err := applyEnv(k); err != nil {
		return mainConfig{}, err
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, delim, k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return mainConfig{}, oops.Code("CONFIG_INVALID").Wrapf(err, "failed to load flags")
		}
	}

	return newMainConfig(k), nil
}

func applyDefaults(k *koanf.Koanf) error {
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return oops.Code("CONFIG_INVALID").With("key", key).Wrap(err)
		}
	}
	return nil
}

func applyEnv(k *koanf.Koanf) error {
	for envVar, key := range envVars {
		value := GetEnv(envVar, "")
		if value == "" {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return oops.Code("CONFIG_INVALID").With("env", envVar).Wrap(err)
		}
	}
	if origins := GetEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		if err := k.Set(keyCorsOrigins, strings.Split(origins, ",")); err != nil {
			return oops.Code("CONFIG_INVALID").With("env", "CORS_ALLOWED_ORIGINS").Wrap(err)
		}
	}
	return nil
}

func validate(c Config) error {
	switch secret := c.GetSigningSecret(); {
	case secret == "":
		return oops.Code("CONFIG_INVALID").
			With("key", keyJWTSecret).
			Errorf("signing secret is required (set JWT_SECRET)")
	case len(secret) < MinSecretLength:
		return oops.Code("CONFIG_INVALID").
			With("key", keyJWTSecret).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if c.GetAccessTokenExpiry() <= 0 || c.GetRefreshTokenExpiry() <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token lifetimes must be positive")
	}
	if c.GetLockoutThreshold() < 1 || c.GetLockoutDuration() <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout threshold and duration must be positive")
	}
	switch c.GetStoreDriver() {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.GetDatabaseURL() == "" {
			return oops.Code("CONFIG_INVALID").
				With("key", keyStoreDSN).
				Errorf("database url is required for the postgres store (set DATABASE_URL)")
		}
	default:
		return oops.Code("CONFIG_INVALID").
			With("key", keyStoreDriver).
			Errorf("unknown store driver %q", c.GetStoreDriver())
	}
	return nil
}
