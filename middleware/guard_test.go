package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/credstore/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*goVerify.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goVerify.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Algorithm = "argon2id"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false

	users := redisstore.New(rdb, "test:cred:user")
	engine, err := goVerify.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithAdminStore(redisstore.New(rdb, "test:cred:admin")).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hash, err := engine.HashPassword("correct horse")
	require.NoError(t, err)
	require.NoError(t, users.PutPrincipal(context.Background(), credstore.Principal{
		ID: "u-1", Email: "user@example.com", Role: "member", PasswordHash: hash, Active: true,
	}))
	return engine, mr
}

func login(t *testing.T, engine *goVerify.Engine) string {
	t.Helper()
	sess, err := engine.Users().LoginWithPassword(context.Background(), "user@example.com", "correct horse")
	require.NoError(t, err)
	return sess.Token
}

func echoIdentity(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		tok, ok := TokenFromContext(r.Context())
		require.True(t, ok)
		require.NotEmpty(t, tok)
		_, _ = w.Write([]byte(id.PrincipalID))
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func reason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestRequireSessionAcceptsCookieAndBearer(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := login(t, engine)
	h := RequireSession(engine.Users(), "session")(echoIdentity(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})
	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSessionRejectsMissingAndMalformed(t *testing.T) {
	engine, _ := newTestEngine(t)
	h := RequireSession(engine.Users(), "session")(echoIdentity(t))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_invalid", reason(t, rec))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestStrictModeSeesRevocationSignedOnlyDoesNot(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := login(t, engine)
	require.NoError(t, engine.Users().Logout(context.Background(), token))

	strict := RequireSession(engine.Users(), "session")(echoIdentity(t))
	signed := RequireSignedSession(engine.Users(), "session")(echoIdentity(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(strict, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_revoked", reason(t, rec))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = serve(signed, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
}

func TestGuardRejectsOtherRealm(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := login(t, engine)
	h := RequireSignedSession(engine.Admins(), "admin_session")(echoIdentity(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "admin_session", Value: token})
	rec := serve(h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_invalid", reason(t, rec))
}

func TestGuardBackendDownIsUnavailable(t *testing.T) {
	engine, mr := newTestEngine(t)
	token := login(t, engine)
	mr.SetError("connection refused")

	h := RequireSession(engine.Users(), "session")(echoIdentity(t))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(h, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "backend_unavailable", reason(t, rec))
}

func TestGuardWithoutRealm(t *testing.T) {
	rec := serve(RequireSession(nil, "session")(echoIdentity(t)), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
