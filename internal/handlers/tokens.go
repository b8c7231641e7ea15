package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// downloadClaims scope a signed link to one job's enhanced artifact.
type downloadClaims struct {
	JobID string `json:"job_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies short-lived download tokens so enhanced
// videos can be fetched from a plain link without exposing the artifact dir.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer. TTL defaults to 15 minutes.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token granting download access to jobID.
func (t *TokenIssuer) Issue(jobID string) (string, error) {
	now := time.Now()
	claims := downloadClaims{
		JobID: jobID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   jobID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and confirms it was issued for
// jobID.
func (t *TokenIssuer) Verify(tokenString, jobID string) error {
	claims := &downloadClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid download token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid download token")
	}
	if claims.JobID != jobID {
		return errors.New("download token does not match this job")
	}
	return nil
}
