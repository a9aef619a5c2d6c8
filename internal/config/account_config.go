package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

type LockoutConfig interface {
	GetLockoutThreshold() int
	GetLockoutDuration() time.Duration
}

type RolesConfig interface {
	// GetDefaultRole is the role assigned to newly registered users.
	GetDefaultRole() string
}

type Lockout struct {
	k *koanf.Koanf
}

var _ LockoutConfig = Lockout{}

func (l Lockout) GetLockoutThreshold() int {
	return l.k.Int(keyLockoutThreshold)
}

func (l Lockout) GetLockoutDuration() time.Duration {
	return time.Duration(l.k.Int(keyLockoutMinutes)) * time.Minute
}

type Roles struct {
	k *koanf.Koanf
}

var _ RolesConfig = Roles{}

func (r Roles) GetDefaultRole() string {
	return r.k.String(keyDefaultRole)
}
