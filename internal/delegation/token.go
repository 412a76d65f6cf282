// Package delegation implements the off-chain authorization oracle: an
// address signs a statement allowing a specific action on a specific
// identity, and a caller presents that statement to act on the signer's
// behalf. The signature scheme itself is opaque to the rest of the system;
// this implementation uses HMAC-signed JWTs.
package delegation

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

const (
	ActionLink   = "link"
	ActionUnlink = "unlink"
)

// Claims bind a signer to one action on one identity.
type Claims struct {
	Signer   string `json:"signer"`
	Action   string `json:"action"`
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// Verifier is what the directory service depends on. Verify returns nil iff
// the token proves signer authorized action on identity.
type Verifier interface {
	Verify(token string, signer domain.Address, action string, identity domain.IdentityID) error
}

// TokenService signs and verifies delegation tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
}

func NewTokenService(signingKey string, issuer string) *TokenService {
	return &TokenService{signingKey: []byte(signingKey), issuer: issuer}
}

var _ Verifier = (*TokenService)(nil)

// Sign issues a delegation token. In production the signer's wallet would
// produce this out of band; the service form exists for same-operator
// deployments and tests.
func (s *TokenService) Sign(signer domain.Address, action string, identity domain.IdentityID, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Signer:   signer.String(),
		Action:   action,
		Identity: identity.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign delegation token")
	}
	return signed, nil
}

// Verify checks the token's signature and that its claims name exactly the
// given signer, action, and identity.
func (s *TokenService) Verify(tokenString string, signer domain.Address, action string, identity domain.IdentityID) error {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid delegation token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid delegation token")
	}
	if claims.Signer != signer.String() {
		return dErrors.New(dErrors.CodeUnauthorized, "token signed by a different address")
	}
	if claims.Action != action {
		return dErrors.New(dErrors.CodeUnauthorized, "token authorizes a different action")
	}
	if claims.Identity != identity.String() {
		return dErrors.New(dErrors.CodeUnauthorized, "token names a different identity")
	}
	return nil
}
