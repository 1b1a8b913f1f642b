package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
)

// Mode selects how much a guard checks.
type Mode int

const (
	// ModeStrict checks revocation state in Redis.
	ModeStrict Mode = iota
	// ModeSignedOnly trusts any unexpired, correctly signed token.
	ModeSignedOnly
)

type identityContextKey struct{}
type tokenContextKey struct{}

// IdentityFromContext returns the identity a guard attached.
func IdentityFromContext(ctx context.Context) (goVerify.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(goVerify.Identity)
	return id, ok
}

// TokenFromContext returns the raw session token a guard accepted.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenContextKey{}).(string)
	return tok, ok
}

// Guard rejects requests without a valid session for realm. cookieName is
// consulted before the Authorization header.
func Guard(realm *goVerify.Realm, cookieName string, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if realm == nil {
				writeUnauthorized(w, goVerify.ErrEngineNotReady)
				return
			}

			token, ok := SessionToken(r, cookieName)
			if !ok {
				writeUnauthorized(w, goVerify.ErrSessionInvalid)
				return
			}

			var (
				id  goVerify.Identity
				err error
			)
			switch mode {
			case ModeSignedOnly:
				var claims *goVerify.SessionClaims
				claims, err = realm.ParseSession(token)
				if err == nil {
					id = (&goVerify.Session{Claims: claims}).Identity()
				}
			default:
				id, err = realm.ValidateSession(r.Context(), token)
			}
			if err != nil {
				writeUnauthorized(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession is Guard in ModeStrict.
func RequireSession(realm *goVerify.Realm, cookieName string) func(http.Handler) http.Handler {
	return Guard(realm, cookieName, ModeStrict)
}

// RequireSignedSession is Guard in ModeSignedOnly.
func RequireSignedSession(realm *goVerify.Realm, cookieName string) func(http.Handler) http.Handler {
	return Guard(realm, cookieName, ModeSignedOnly)
}

// SessionToken reads the session token from cookieName or a bearer header.
func SessionToken(r *http.Request, cookieName string) (string, bool) {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	switch goVerify.ReasonCode(err) {
	case "backend_unavailable", "engine_not_ready":
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": goVerify.ReasonCode(err)})
}
