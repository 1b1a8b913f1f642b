package httpapi

import (
	"net/http"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/intrusion"
	"github.com/MrEthical07/goVerify/middleware"
	"github.com/gorilla/mux"
)

// Config controls cookie attributes and client attribution.
type Config struct {
	// SecureCookies forces the Secure attribute even on plain HTTP.
	SecureCookies bool
	// SameSite defaults to http.SameSiteLaxMode.
	SameSite http.SameSite
	// TrustProxyHeaders takes the client IP from X-Forwarded-For.
	TrustProxyHeaders bool
	// MaxBodyBytes bounds request bodies. Default 64 KiB.
	MaxBodyBytes int64
}

// Server serves both realms of one engine.
type Server struct {
	engine *goVerify.Engine
	guard  *intrusion.Guard
	config Config
}

// New creates a Server. guard may be nil to disable throttling.
func New(engine *goVerify.Engine, guard *intrusion.Guard, cfg Config) *Server {
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Server{engine: engine, guard: guard, config: cfg}
}

// Router returns a router with /auth and /admin/auth mounted.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.Mount(r)
	return r
}

// Mount registers the routes of both realms on r.
func (s *Server) Mount(r *mux.Router) {
	r.Use(middleware.ClientInfo(s.config.TrustProxyHeaders))
	s.mountRealm(r.PathPrefix("/auth").Subrouter(), s.engine.Users())
	s.mountRealm(r.PathPrefix("/admin/auth").Subrouter(), s.engine.Admins())
}

func (s *Server) mountRealm(r *mux.Router, realm *goVerify.Realm) {
	if realm == nil {
		return
	}
	h := &realmHandler{server: s, realm: realm, cookies: CookieNamesFor(realm.Kind())}
	authed := middleware.RequireSession(realm, h.cookies.Session)
	protect := func(fn http.HandlerFunc) http.Handler { return authed(fn) }

	r.HandleFunc("/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/login/second-factor", h.completeSecondFactor).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	r.Handle("/logout-all", protect(h.logoutAll)).Methods(http.MethodPost)
	r.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	r.Handle("/session", protect(h.session)).Methods(http.MethodGet)

	r.Handle("/passkeys/register/begin", protect(h.beginPasskeyRegistration)).Methods(http.MethodPost)
	r.Handle("/passkeys/register/finish", protect(h.finishPasskeyRegistration)).Methods(http.MethodPost)
	r.HandleFunc("/passkeys/login/begin", h.beginPasskeyLogin).Methods(http.MethodPost)
	r.HandleFunc("/passkeys/login/finish", h.finishPasskeyLogin).Methods(http.MethodPost)
	r.Handle("/passkeys", protect(h.listPasskeys)).Methods(http.MethodGet)
	r.Handle("/passkeys/{id}", protect(h.revokePasskey)).Methods(http.MethodDelete)

	r.Handle("/totp/setup", protect(h.beginTOTPSetup)).Methods(http.MethodPost)
	r.Handle("/totp/confirm", protect(h.confirmTOTPSetup)).Methods(http.MethodPost)
	r.Handle("/totp/disable", protect(h.disableTOTP)).Methods(http.MethodPost)
	r.Handle("/backup-codes", protect(h.remainingBackupCodes)).Methods(http.MethodGet)
	r.Handle("/backup-codes/regenerate", protect(h.regenerateBackupCodes)).Methods(http.MethodPost)
}
