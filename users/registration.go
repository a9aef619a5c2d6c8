package users

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// BirthDateLayout is the wire format of Registration.BirthDate.
const BirthDateLayout = "2006-01-02"

// Registration is a sign-up request.
type Registration struct {
	Email                string `json:"email"`
	Password             string `json:"password"`
	ConfirmPassword      string `json:"confirmPassword"`
	IdentificationType   string `json:"identificationType"`
	IdentificationNumber string `json:"identificationNumber"`
	Names                string `json:"names"`
	Surnames             string `json:"surnames"`
	BirthDate            string `json:"birthDate"`
	Sex                  string `json:"sex"`
	City                 string `json:"city"`
	Country              string `json:"country"`
	Address              string `json:"address"`
	PhoneNumber          string `json:"phoneNumber"`
	Department           string `json:"department,omitempty"`
	EmployeeCode         string `json:"employeeCode,omitempty"`
}

// Validate reports every problem with the request as a ValidationError.
func (r *Registration) Validate() error {
	var fields []autherrors.FieldError
	add := func(field, msg string) {
		fields = append(fields, autherrors.FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(r.Email) == "" {
		add("email", "email is required")
	} else if !ValidEmail(r.Email) {
		add("email", "email format is not valid")
	}

	if r.Password == "" {
		add("password", "password is required")
	} else {
		for _, problem := range ValidatePasswordStrength(r.Password) {
			add("password", problem)
		}
	}
	if r.ConfirmPassword != r.Password {
		add("confirmPassword", "passwords do not match")
	}

	required := []struct{ field, value, msg string }{
		{"identificationType", r.IdentificationType, "identification type is required"},
		{"identificationNumber", r.IdentificationNumber, "identification number is required"},
		{"names", r.Names, "names are required"},
		{"surnames", r.Surnames, "surnames are required"},
		{"sex", r.Sex, "sex is required"},
		{"city", r.City, "city is required"},
		{"country", r.Country, "country is required"},
		{"address", r.Address, "address is required"},
		{"phoneNumber", r.PhoneNumber, "phone number is required"},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			add(f.field, f.msg)
		}
	}

	if strings.TrimSpace(r.BirthDate) == "" {
		add("birthDate", "birth date is required")
	} else if _, err := time.Parse(BirthDateLayout, r.BirthDate); err != nil {
		add("birthDate", "birth date must be formatted as YYYY-MM-DD")
	}

	if len(fields) > 0 {
		return autherrors.Validation(fields...)
	}
	return nil
}

// NewUser builds an active user from a validated registration.
func (r *Registration) NewUser(passwordHash string, now time.Time) *User {
	u := &User{
		ID:                   uuid.NewString(),
		Email:                strings.TrimSpace(r.Email),
		UserName:             strings.TrimSpace(r.Email),
		PasswordHash:         passwordHash,
		IdentificationType:   strings.TrimSpace(r.IdentificationType),
		IdentificationNumber: strings.TrimSpace(r.IdentificationNumber),
		Names:                strings.TrimSpace(r.Names),
		Surnames:             strings.TrimSpace(r.Surnames),
		Sex:                  r.Sex,
		City:                 r.City,
		Country:              r.Country,
		Address:              r.Address,
		PhoneNumber:          r.PhoneNumber,
		Department:           r.Department,
		EmployeeCode:         r.EmployeeCode,
		IsActive:             true,
		CreatedAt:            now,
	}
	if bd, err := time.Parse(BirthDateLayout, r.BirthDate); err == nil {
		u.BirthDate = &bd
	}
	return u
}

// ValidEmail reports whether email is a bare address.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == strings.TrimSpace(email)
}

// PasswordChange is a request to replace the current password.
type PasswordChange struct {
	CurrentPassword    string `json:"currentPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

// Validate checks the request shape and the new password policy. It does not
// check the current password.
func (c *PasswordChange) Validate() error {
	var fields []autherrors.FieldError
	if c.CurrentPassword == "" {
		fields = append(fields, autherrors.FieldError{Field: "currentPassword", Message: "current password is required"})
	}
	if c.NewPassword == "" {
		fields = append(fields, autherrors.FieldError{Field: "newPassword", Message: "new password is required"})
	} else {
		for _, problem := range ValidatePasswordStrength(c.NewPassword) {
			fields = append(fields, autherrors.FieldError{Field: "newPassword", Message: problem})
		}
	}
	if c.ConfirmNewPassword != c.NewPassword {
		fields = append(fields, autherrors.FieldError{Field: "confirmNewPassword", Message: "passwords do not match"})
	}
	if len(fields) > 0 {
		return autherrors.Validation(fields...)
	}
	return nil
}
