// Package trust implements the signed group-membership token one internal
// service uses to vouch for a caller to another. The issuer signs with its
// private key at the edge; relying services verify against the provisioned
// public key without any network round-trip. Expiry is the only lifecycle
// control; there is no revocation list.
package trust

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderName is the HTTP header carrying the token between services. Its
// absence means "no supplemental claim", not "unauthenticated".
const HeaderName = "X-Relay-Groups-Token"

const (
	// GroupsClaim is the claim listing the caller's authorization groups.
	GroupsClaim = "groups"

	// MembershipClaim marks credentials that already carry explicit
	// organization membership; such callers never get a token issued.
	MembershipClaim = "organization"

	tokenIssuer = "relay-gateway"
)

var (
	ErrInvalidSignature = errors.New("trust: invalid token signature")
	ErrMissingClaim     = errors.New("trust: required groups claim missing")
)

// Assertion is the verified content of a token.
type Assertion struct {
	SubjectID string
	Groups    []string
}

type claims struct {
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

// Issuer mints tokens on the edge-gateway side.
type Issuer struct {
	key *rsa.PrivateKey
	ttl time.Duration
}

func NewIssuer(key *rsa.PrivateKey, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{key: key, ttl: ttl}
}

// Issue returns a signed token asserting subjectID's groups. When the
// caller's existing claims already carry organization membership it returns
// ("", false, nil): the request passes through unmodified, so the same fact
// is never asserted through two channels.
func (i *Issuer) Issue(subjectID string, groups []string, existingClaims map[string]any) (string, bool, error) {
	if _, carries := existingClaims[MembershipClaim]; carries {
		return "", false, nil
	}

	now := time.Now()
	c := claims{
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(i.key)
	if err != nil {
		return "", false, fmt.Errorf("trust: sign token: %w", err)
	}
	return signed, true, nil
}

// Verifier validates tokens on the relying-service side.
type Verifier struct {
	key *rsa.PublicKey
}

func NewVerifier(key *rsa.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// Read parses the token, checks the signature against the known public key,
// requires the groups claim, and returns the assertion. Every failure is
// fatal for the request; a forged token is never a transient condition.
func (v *Verifier) Read(token string) (Assertion, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidSignature
		}
		return v.key, nil
	})
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Assertion{}, ErrInvalidSignature
	}
	if c.Groups == nil {
		return Assertion{}, ErrMissingClaim
	}

	return Assertion{SubjectID: c.Subject, Groups: c.Groups}, nil
}
