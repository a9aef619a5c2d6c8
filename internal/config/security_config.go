package config

import (
	"github.com/knadh/koanf/v2"
)

type SecurityConfig interface {
	GetEnableRateLimiting() bool
	GetRateLimitPerSecond() float64
	GetRateLimitBurst() int
	// GetRefreshReuseDetection enables revoking every active refresh token
	// of a user when one of their already rotated tokens is presented again.
	GetRefreshReuseDetection() bool
	// GetTrustForwardedFor makes the client address come from the first
	// X-Forwarded-For entry. Enable it only behind a proxy that sets it.
	GetTrustForwardedFor() bool
}

type Security struct {
	k *koanf.Koanf
}

var _ SecurityConfig = Security{}

func (s Security) GetEnableRateLimiting() bool {
	return s.k.Bool(keyRateLimitEnabled)
}

func (s Security) GetRateLimitPerSecond() float64 {
	return s.k.Float64(keyRateLimitPerSecond)
}

func (s Security) GetRateLimitBurst() int {
	return s.k.Int(keyRateLimitBurst)
}

func (s Security) GetRefreshReuseDetection() bool {
	return s.k.Bool(keyReuseDetection)
}

func (s Security) GetTrustForwardedFor() bool {
	return s.k.Bool(keyTrustForwardedFor)
}
