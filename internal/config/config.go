package config

import (
	"github.com/knadh/koanf/v2"
)

type Config interface {
	EnvConfig
	CorsConfig
	TokenConfig
	LockoutConfig
	RolesConfig
	SecurityConfig
	DatabaseConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetLogLevel() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Token
	Lockout
	Roles
	Security
	Database
}

var _ Config = mainConfig{}

func newMainConfig(k *koanf.Koanf) mainConfig {
	return mainConfig{
		EnvVars:  EnvVars{k: k},
		Cors:     Cors{k: k},
		Token:    Token{k: k},
		Lockout:  Lockout{k: k},
		Roles:    Roles{k: k},
		Security: Security{k: k},
		Database: Database{k: k},
	}
}

// New returns a Config holding only the built-in defaults. It does not
// validate and is meant for tests and tooling; servers use Load.
func New() Config {
	k := koanf.New(delim)
	_ = applyDefaults(k)
	return newMainConfig(k)
}
