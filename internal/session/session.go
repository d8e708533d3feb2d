// Package session mints and verifies first-party owner-session JWTs used to
// bind a claimed workspace to its owner (spec §6, POST /w/{key}/claim and
// the owner-session-authenticated orchestration surface). Re-homes the
// teacher's ghinstallation-style signed-short-lived-token pattern onto a
// first-party HMAC signer since GitHub Apps are out of scope here.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTTL = 12 * time.Hour

type Claims struct {
	WorkspaceID string `json:"workspaceId"`
	Subject     string `json:"sub"`
	jwt.RegisteredClaims
}

type Signer struct {
	key []byte
	ttl time.Duration
}

func New(signingKey string) *Signer {
	return &Signer{key: []byte(signingKey), ttl: defaultTTL}
}

// Mint issues a signed session token binding subject to workspaceID.
func (s *Signer) Mint(subject, workspaceID string) (string, error) {
	now := time.Now()
	claims := Claims{
		WorkspaceID: workspaceID,
		Subject:     subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify parses and validates a session token, returning its claims.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return &claims, nil
}
