package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/v2"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	envEnvVar      = "ENV"
	logLevelEnvVar = "LOG_LEVEL"
)

type EnvVars struct {
	k *koanf.Koanf
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.k.String(keyPort)
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.k.String(keyAppName)
}

func (e EnvVars) GetLogLevel() string {
	return e.k.String(keyLogLevel)
}

func (e EnvVars) GetEnv() string {
	env := e.k.String(keyEnv)
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
