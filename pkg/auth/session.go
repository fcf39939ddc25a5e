package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("expired session token")
)

// SessionService mints and validates the opaque caller-session tokens
// that tie a booking attempt to the session that initiated it.
type SessionService interface {
	IssueToken(sessionID string) (string, error)
	SessionID(token string) (string, error)
}

type hs256SessionService struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionService returns an HS256-signed session token service
func NewSessionService(secret string, ttl time.Duration) SessionService {
	return &hs256SessionService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

func (s *hs256SessionService) IssueToken(sessionID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *hs256SessionService) SessionID(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
