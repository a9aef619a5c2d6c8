package auth

import (
	"time"

	"github.com/jrsteele09/go-session-auth/users"
)

// AuthResponse is returned by every operation that starts a session.
type AuthResponse struct {
	IsAuthenticated bool       `json:"isAuthenticated"`
	Token           string     `json:"token"`
	RefreshToken    string     `json:"refreshToken"`
	TokenExpiration *time.Time `json:"tokenExpiration"`
	Message         string     `json:"message"`
	User            *UserInfo  `json:"user"`
	Errors          []string   `json:"errors"`
}

// Failed builds an unauthenticated response carrying msg and any detail lines.
func Failed(msg string, details ...string) *AuthResponse {
	if details == nil {
		details = []string{}
	}
	return &AuthResponse{Message: msg, Errors: details}
}

// UserInfo is the public view of a user.
type UserInfo struct {
	ID                   string     `json:"id"`
	Email                string     `json:"email"`
	UserName             string     `json:"userName"`
	IdentificationType   string     `json:"identificationType"`
	IdentificationNumber string     `json:"identificationNumber"`
	Names                string     `json:"names"`
	Surnames             string     `json:"surnames"`
	FullName             string     `json:"fullName"`
	BirthDate            string     `json:"birthDate,omitempty"`
	Sex                  string     `json:"sex"`
	City                 string     `json:"city"`
	Country              string     `json:"country"`
	Address              string     `json:"address"`
	PhoneNumber          string     `json:"phoneNumber"`
	Department           string     `json:"department,omitempty"`
	EmployeeCode         string     `json:"employeeCode,omitempty"`
	Roles                []string   `json:"roles"`
	LastLoginAt          *time.Time `json:"lastLoginAt,omitempty"`
	IsActive             bool       `json:"isActive"`
	CreatedAt            time.Time  `json:"createdAt"`
}

func newUserInfo(u *users.User, roleNames []string) *UserInfo {
	if roleNames == nil {
		roleNames = []string{}
	}
	info := &UserInfo{
		ID:                   u.ID,
		Email:                u.Email,
		UserName:             u.UserName,
		IdentificationType:   u.IdentificationType,
		IdentificationNumber: u.IdentificationNumber,
		Names:                u.Names,
		Surnames:             u.Surnames,
		FullName:             u.FullName(),
		Sex:                  u.Sex,
		City:                 u.City,
		Country:              u.Country,
		Address:              u.Address,
		PhoneNumber:          u.PhoneNumber,
		Department:           u.Department,
		EmployeeCode:         u.EmployeeCode,
		Roles:                roleNames,
		LastLoginAt:          u.LastLoginAt,
		IsActive:             u.IsActive,
		CreatedAt:            u.CreatedAt,
	}
	if u.BirthDate != nil {
		info.BirthDate = u.BirthDate.Format(users.BirthDateLayout)
	}
	return info
}
