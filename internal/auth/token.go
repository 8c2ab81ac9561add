// Package auth handles the bearer credential shared by the history API and
// the live channel.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	userIdClaim   = "user-id"
	usernameClaim = "username"
	expClaim      = "exp"

	bearerPrefix = "Bearer "
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing bearer token")
)

// NewToken signs an HS256 token for user valid for exp.
func NewToken(key []byte, user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:   user.Id,
		usernameClaim: user.Username,
		expClaim:      time.Now().Add(exp).Unix(),
	})

	return token.SignedString(key)
}

// Verify checks the signature and expiry of tokenString and returns the
// user it was issued for.
func Verify(key []byte, tokenString string) (types.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return types.User{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.User{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, ErrInvalidToken
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return types.User{}, fmt.Errorf("%w: invalid user id claim", ErrInvalidToken)
	}
	username, _ := claims[usernameClaim].(string)

	return types.User{Id: userId, Username: username}, nil
}

// Expired reports whether tokenString carries an exp claim in the past.
// The signature is not checked; tokens that are not JWTs are never
// considered expired here and are left for the server to judge.
func Expired(tokenString string, now time.Time) bool {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}

	return !claims.VerifyExpiresAt(now.Unix(), false)
}

func SetBearer(h http.Header, token string) {
	h.Set("Authorization", bearerPrefix+token)
}

func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMissingToken
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", ErrMissingToken
	}

	return token, nil
}
