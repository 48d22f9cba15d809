// Package auth inspects the bearer token handed out by the game server. The
// signature is the server's business; the client only reads the claims to
// avoid dialing with a token that has already expired.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrMalformedToken = errors.New("malformed token")
)

type Claims struct {
	UserID    string
	Username  string
	ExpiresAt time.Time // zero when the token carries no exp
}

// Inspect decodes token without verifying its signature.
func Inspect(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	var c Claims
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}

	switch v := mc["user_id"].(type) {
	case string:
		c.UserID = v
	case float64:
		c.UserID = strconv.FormatInt(int64(v), 10)
	}
	if name, ok := mc["username"].(string); ok {
		c.Username = name
	}
	return c, nil
}

// CheckFresh returns ErrTokenExpired if token expires within skew of now.
// Tokens without an exp claim are accepted.
func CheckFresh(token string, now time.Time, skew time.Duration) (Claims, error) {
	c, err := Inspect(token)
	if err != nil {
		return Claims{}, err
	}
	if !c.ExpiresAt.IsZero() && !now.Add(skew).Before(c.ExpiresAt) {
		return c, fmt.Errorf("%w at %s", ErrTokenExpired, c.ExpiresAt.Format(time.RFC3339))
	}
	return c, nil
}
