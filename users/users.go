package users

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-session-auth/lockout"
)

type User struct {
	ID           string `json:"id,omitempty"`       // Unique identifier for the user
	Email        string `json:"email,omitempty"`    // User's email address, unique ignoring case
	UserName     string `json:"userName,omitempty"` // Defaults to the email
	PasswordHash string `json:"-"`                  // Hashed version of the user's password - never serialize

	IdentificationType   string `json:"identificationType,omitempty"`
	IdentificationNumber string `json:"identificationNumber,omitempty"` // Unique when set

	Names       string     `json:"names,omitempty"`
	Surnames    string     `json:"surnames,omitempty"`
	BirthDate   *time.Time `json:"birthDate,omitempty"`
	Sex         string     `json:"sex,omitempty"`
	City        string     `json:"city,omitempty"`
	Country     string     `json:"country,omitempty"`
	Address     string     `json:"address,omitempty"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`

	Department   string `json:"department,omitempty"`
	EmployeeCode string `json:"employeeCode,omitempty"`

	IsActive    bool       `json:"isActive"`              // Inactive users can never log in
	CreatedAt   time.Time  `json:"createdAt"`             // Date and time when the user registered
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"` // Last successful authentication

	FailedLoginAttempts int        `json:"-"`
	LockoutEnd          *time.Time `json:"-"`
}

// FullName joins names and surnames.
func (u *User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.Names) + " " + strings.TrimSpace(u.Surnames))
}

// DisplayName is the name placed in access tokens.
func (u *User) DisplayName() string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.Email
}

// LockoutState extracts the lockout fields.
func (u *User) LockoutState() lockout.State {
	return lockout.State{FailedAttempts: u.FailedLoginAttempts, LockoutEnd: u.LockoutEnd}
}

// SetLockoutState stores s on the user.
func (u *User) SetLockoutState(s lockout.State) {
	u.FailedLoginAttempts = s.FailedAttempts
	u.LockoutEnd = s.LockoutEnd
}

// NormalizeEmail is the comparison form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
