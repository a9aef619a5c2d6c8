package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type DatabaseConfig interface {
	GetStoreDriver() string
	GetDatabaseURL() string
	// GetStoreTimeout bounds every store round trip made for a request.
	GetStoreTimeout() time.Duration
	GetConnectRetries() uint64
}

type Database struct {
	k *koanf.Koanf
}

var _ DatabaseConfig = Database{}

func (d Database) GetStoreDriver() string {
	return d.k.String(keyStoreDriver)
}

func (d Database) GetDatabaseURL() string {
	return d.k.String(keyStoreDSN)
}

func (d Database) GetStoreTimeout() time.Duration {
	return time.Duration(d.k.Int(keyStoreTimeoutSeconds)) * time.Second
}

func (d Database) GetConnectRetries() uint64 {
	return uint64(d.k.Int64(keyStoreConnectRetries))
}
