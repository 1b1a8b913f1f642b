package httpapi

import (
	"net/http"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
)

// CookieNames are the cookies one realm uses.
type CookieNames struct {
	Session        string
	Registration   string
	Authentication string
	PendingLogin   string
}

// CookieNamesFor returns the fixed cookie names for kind.
func CookieNamesFor(kind goVerify.PrincipalKind) CookieNames {
	if kind == goVerify.KindAdmin {
		return CookieNames{
			Session:        "admin_session",
			Registration:   "admin_webauthn_registration",
			Authentication: "admin_webauthn_authentication",
			PendingLogin:   "admin_mfa_pending",
		}
	}
	return CookieNames{
		Session:        "session",
		Registration:   "webauthn_registration",
		Authentication: "webauthn_authentication",
		PendingLogin:   "mfa_pending",
	}
}

func (s *Server) setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		Expires:  time.Now().Add(maxAge),
		HttpOnly: true,
		Secure:   s.config.SecureCookies || r.TLS != nil,
		SameSite: s.config.SameSite,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.config.SecureCookies || r.TLS != nil,
		SameSite: s.config.SameSite,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
