// Package auth consumes bearer JWTs issued elsewhere to recover an
// opaque user_id. Login, token issuance, and password storage are out of
// scope here — the surrounding deployment is assumed to front this
// service with its own identity provider and pass a bearer token through.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/last-emo-boy/watchdog-core/pkg/config"
)

// Claims is the minimal claim set this service reads off an incoming
// token. Any additional claims the issuer embeds are ignored.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Auth validates bearer tokens against a shared secret.
type Auth struct {
	jwtSecret []byte
}

// NewAuth creates a new Auth instance from the configured JWT secret.
func NewAuth(cfg *config.Config) (*Auth, error) {
	secret := cfg.Server.Auth.JWT.Secret
	if secret == "" {
		return nil, fmt.Errorf("server.auth.jwt.secret must be configured")
	}
	return &Auth{jwtSecret: []byte(secret)}, nil
}

// ValidateToken validates a JWT token and returns its claims.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing user_id claim")
	}
	return claims, nil
}
