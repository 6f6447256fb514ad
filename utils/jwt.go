package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SystemWorkspace is the workspace claim of service tokens that may act on
// any workspace.
const SystemWorkspace = "*"

type Claims struct {
	Workspace string `json:"workspace"`
	jwt.RegisteredClaims
}

// Allows reports whether the token may act on workspace.
func (c *Claims) Allows(workspace string) bool {
	if c.Workspace == SystemWorkspace {
		return true
	}
	return workspace != "" && c.Workspace == workspace
}

// GenerateToken creates a JWT for workspace.
func GenerateToken(secret, workspace string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Workspace: workspace,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyToken parses and validates a JWT.
func VerifyToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
