package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls verification parameters. Token issuance lives in the auth
// service; the gateway only verifies.
type Options struct {
	Secret []byte
	Alg    string        // HS256/HS384/HS512 (default HS256)
	Leeway time.Duration // clock skew tolerance
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", Leeway: 30 * time.Second}
}

// SessionClaims is what the gateway needs out of a handshake token.
type SessionClaims struct {
	UserID   string
	DeviceID string
	Expires  time.Time
}

// Verify parses and validates a handshake bearer token and extracts the
// session identity. Only the configured HMAC algorithm is accepted. The
// device id claim is optional; callers may take it from the handshake query
// instead.
func Verify(opts Options, token string) (*SessionClaims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		return opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}), jwtlib.WithLeeway(opts.Leeway))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}

	out := &SessionClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.UserID = sub
	}
	if out.UserID == "" {
		return nil, errors.New("token missing sub claim")
	}
	if dev, ok := claims["dev"].(string); ok {
		out.DeviceID = dev
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.Expires = exp.Time
	}
	return out, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
