package store

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// secretExpiry reads the exp claim from a credential secret. Upstream access
// tokens are JWTs; the signature is not ours to verify, only the expiry
// matters for rotation eligibility.
func secretExpiry(secret string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(secret, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
