package token

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// Optional attribute names carried in the attrs claim.
const (
	AttrDepartment   = "department"
	AttrEmployeeCode = "employee_code"
)

// Claims is the identity carried by an access token.
type Claims struct {
	Subject    string
	Email      string
	Name       string
	Roles      []string          // sorted, no duplicates
	Attributes map[string]string // only non-empty values

	// Set by Codec.Issue / Codec.Decode.
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewClaims validates and normalises a claim set. Subject and email are required.
func NewClaims(subject, email, name string, roles []string, attrs map[string]string) (Claims, error) {
	var fields []autherrors.FieldError
	if strings.TrimSpace(subject) == "" {
		fields = append(fields, autherrors.FieldError{Field: "sub", Message: "subject is required"})
	}
	if strings.TrimSpace(email) == "" {
		fields = append(fields, autherrors.FieldError{Field: "email", Message: "email is required"})
	}
	if len(fields) > 0 {
		return Claims{}, autherrors.Validation(fields...)
	}

	return Claims{
		Subject:    subject,
		Email:      email,
		Name:       name,
		Roles:      normaliseRoles(roles),
		Attributes: normaliseAttrs(attrs),
	}, nil
}

// HasRole reports whether role is present.
func (c Claims) HasRole(role string) bool {
	_, found := slices.BinarySearch(c.Roles, role)
	return found
}

func normaliseRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func normaliseAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// jwtClaims is the wire form.
type jwtClaims struct {
	Email string            `json:"email"`
	Name  string            `json:"name,omitempty"`
	Roles []string          `json:"roles"`
	Attrs map[string]string `json:"attrs,omitempty"`
	jwt.RegisteredClaims
}

func (jc *jwtClaims) toClaims() Claims {
	c := Claims{
		Subject:    jc.Subject,
		Email:      jc.Email,
		Name:       jc.Name,
		Roles:      normaliseRoles(jc.Roles),
		Attributes: normaliseAttrs(jc.Attrs),
		ID:         jc.ID,
	}
	if jc.IssuedAt != nil {
		c.IssuedAt = jc.IssuedAt.Time.UTC()
	}
	if jc.ExpiresAt != nil {
		c.ExpiresAt = jc.ExpiresAt.Time.UTC()
	}
	return c
}
