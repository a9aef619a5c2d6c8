package users

import (
	"context"
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	// MaxPasswordBytes is the bcrypt input limit; longer passwords cannot be hashed.
	MaxPasswordBytes     = 72
	MinUniquePasswordRun = 4
)

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters and at most 72 bytes long
// - Contains uppercase and lowercase letters
// - Contains at least one number and one non-alphanumeric character
// - Uses at least 4 distinct characters
// Every failed rule is reported.
func ValidatePasswordStrength(password string) []string {
	var problems []string

	runes := []rune(password)
	if len(runes) < MinPasswordLength {
		problems = append(problems, "password must be at least 8 characters long")
	}
	if len(password) > MaxPasswordBytes {
		problems = append(problems, "password must be at most 72 bytes long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
		hasSymbol bool
		unique    = map[rune]struct{}{}
	)

	for _, char := range runes {
		unique[char] = struct{}{}
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		default:
			hasSymbol = true
		}
	}

	if !hasUpper {
		problems = append(problems, "password must contain at least one uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "password must contain at least one lowercase letter")
	}
	if !hasNumber {
		problems = append(problems, "password must contain at least one number")
	}
	if !hasSymbol {
		problems = append(problems, "password must contain at least one non-alphanumeric character")
	}
	if len(unique) < MinUniquePasswordRun {
		problems = append(problems, "password must use at least 4 different characters")
	}

	return problems
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CredentialVerifier checks a plaintext password for a user. A wrong
// password is (false, nil); errors are reserved for broken hashes.
type CredentialVerifier interface {
	Verify(ctx context.Context, user *User, password string) (bool, error)
}

// BcryptVerifier verifies bcrypt hashes.
type BcryptVerifier struct{}

var _ CredentialVerifier = BcryptVerifier{}

func (BcryptVerifier) Verify(_ context.Context, user *User, password string) (bool, error) {
	if user == nil || user.PasswordHash == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
