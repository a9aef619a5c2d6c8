package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

type TokenConfig interface {
	GetSigningSecret() string
	GetIssuer() string
	GetAudience() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
}

type Token struct {
	k *koanf.Koanf
}

var _ TokenConfig = Token{}

func (t Token) GetSigningSecret() string {
	return t.k.String(keyJWTSecret)
}

func (t Token) GetIssuer() string {
	return t.k.String(keyJWTIssuer)
}

func (t Token) GetAudience() string {
	return t.k.String(keyJWTAudience)
}

func (t Token) GetAccessTokenExpiry() time.Duration {
	return time.Duration(t.k.Int(keyJWTExpiryMinutes)) * time.Minute
}

func (t Token) GetRefreshTokenExpiry() time.Duration {
	return time.Duration(t.k.Int(keyJWTRefreshDays)) * 24 * time.Hour
}
