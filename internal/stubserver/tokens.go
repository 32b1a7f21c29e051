package stubserver

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenService issues and verifies the stub's HS256 bearer tokens.
type tokenService struct {
	secret string
	ttl    time.Duration
}

func newTokenService(secret string, ttl time.Duration) *tokenService {
	return &tokenService{secret: secret, ttl: ttl}
}

func (t *tokenService) issue(email string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.secret))
}

// verify returns the subject of a valid token.
func (t *tokenService) verify(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(t.secret), nil
		})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}
