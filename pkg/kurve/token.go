package kurve

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// ErrTokenExpired is returned by CheckToken for an expired bearer token.
var ErrTokenExpired = eris.New("kurve: token expired")

// TokenExpiry reads the exp claim of a bearer token. The signature is not
// verified; the portal does that. ok is false when the token carries no exp.
func TokenExpiry(token string) (exp time.Time, ok bool, err error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false, eris.Wrap(err, "kurve: parse token")
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}

// CheckToken fails fast on a token that is malformed or expires within skew
// of now. Tokens without an exp claim pass.
func CheckToken(token string, now time.Time, skew time.Duration) error {
	if token == "" {
		return eris.New("kurve: token is required")
	}
	exp, ok, err := TokenExpiry(token)
	if err != nil {
		return err
	}
	if ok && !now.Add(skew).Before(exp) {
		return eris.Wrapf(ErrTokenExpired, "kurve: expired at %s", exp.UTC().Format(time.RFC3339))
	}
	return nil
}
