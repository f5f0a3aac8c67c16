// Package auth issues the bearer tokens that bind a widget to the one
// conversation it opened.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("auth: invalid token")

type Claims struct {
	ConversationID string `json:"cid"`
	jwt.RegisteredClaims
}

func SignConversationToken(secret, conversationID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ConversationID: conversationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   conversationID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseConversationToken validates the signature and expiry and returns the
// conversation id the token was issued for.
func ParseConversationToken(secret, tokenStr string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.ConversationID == "" {
		return "", ErrInvalidToken
	}
	return claims.ConversationID, nil
}
