package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client can read out of an access token without the
// signing key. Validity is still only discovered through a 401; this exists
// for display purposes (current user, rough expiry).
type Claims struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

func ParseClaims(accessToken string) (*Claims, error) {
	parser := jwt.NewParser()
	tok, _, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected jwt claims type")
	}

	out := &Claims{}
	if v, ok := claims["user_id"].(float64); ok {
		out.UserID = int64(v)
	}
	if v, ok := claims["username"].(string); ok {
		out.Username = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
