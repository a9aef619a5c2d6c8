// Package token issues and verifies the signed access tokens handed out with
// every session.
package token

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/jrsteele09/go-session-auth/internal/clock"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// DecodeOptions controls Codec.Decode.
type DecodeOptions struct {
	// ValidateExpiry rejects expired tokens. Refresh turns it off to read the
	// identity of an expired token; signature, issuer and audience are still
	// checked.
	ValidateExpiry bool
}

// Codec signs claims into access tokens and verifies them back. It holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	signer   Signer
	issuer   string
	audience string
	clock    clock.Clock
}

type CodecOption func(*Codec)

// WithClock sets the time source (primarily for testing)
func WithClock(c clock.Clock) CodecOption {
	return func(codec *Codec) {
		codec.clock = c
	}
}

// NewCodec returns a Codec that stamps and requires the given issuer and audience.
func NewCodec(signer Signer, issuer, audience string, options ...CodecOption) (*Codec, error) {
	if signer == nil {
		return nil, errors.New("[NewCodec] signer is required")
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("[NewCodec] issuer and audience are required")
	}

	c := &Codec{
		signer:   signer,
		issuer:   issuer,
		audience: audience,
		clock:    clock.System{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Issue signs claims with expiry now+ttl and a fresh jti. It returns the
// signed token and its expiry.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, autherrors.Validation(autherrors.FieldError{Field: "ttl", Message: "ttl must be positive"})
	}
	if claims.Subject == "" || claims.Email == "" {
		return "", time.Time{}, autherrors.Validation(autherrors.FieldError{Field: "claims", Message: "subject and email are required"})
	}

	now := c.clock.Now().UTC()
	jc := &jwtClaims{
		Email: claims.Email,
		Name:  claims.Name,
		Roles: normaliseRoles(claims.Roles),
		Attrs: normaliseAttrs(claims.Attributes),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.Subject,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := c.signer.Sign(jc)
	if err != nil {
		return "", time.Time{}, autherrors.Internal(err, "sign access token")
	}
	return signed, jc.ExpiresAt.Time.UTC(), nil
}

// Decode verifies signed and returns its claims. Failures are token errors:
// malformed, signature invalid, invalid claims (issuer, audience, subject)
// or expired.
func (c *Codec) Decode(signed string, opts DecodeOptions) (Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.signer.GetSigningMethod().Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
	}
	if opts.ValidateExpiry {
		parserOpts = append(parserOpts,
			jwt.WithIssuer(c.issuer),
			jwt.WithAudience(c.audience),
			jwt.WithExpirationRequired(),
		)
	} else {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}

	jc := &jwtClaims{}
	if _, err := jwt.ParseWithClaims(signed, jc, c.signer.GetVerificationKey, parserOpts...); err != nil {
		return Claims{}, mapParseError(err)
	}

	// Without claims validation the library skipped these.
	if !opts.ValidateExpiry {
		if jc.Issuer != c.issuer {
			return Claims{}, autherrors.Token(autherrors.ErrTokenInvalidClaims, oops.Errorf("unexpected issuer %q", jc.Issuer))
		}
		if !slices.Contains(jc.Audience, c.audience) {
			return Claims{}, autherrors.Token(autherrors.ErrTokenInvalidClaims, oops.Errorf("unexpected audience %v", jc.Audience))
		}
	}
	if jc.Subject == "" {
		return Claims{}, autherrors.Token(autherrors.ErrTokenInvalidClaims, oops.Errorf("subject is missing"))
	}

	return jc.toClaims(), nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return autherrors.Token(autherrors.ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return autherrors.Token(autherrors.ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return autherrors.Token(autherrors.ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return autherrors.Token(autherrors.ErrTokenInvalidClaims, err)
	default:
		return autherrors.Token(autherrors.ErrTokenMalformed, err)
	}
}
