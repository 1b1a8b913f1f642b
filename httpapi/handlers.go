package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/middleware"
	"github.com/gorilla/mux"
)

type realmHandler struct {
	server  *Server
	realm   *goVerify.Realm
	cookies CookieNames
}

func (h *realmHandler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.server.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errBadRequest
	}
	return nil
}

func (h *realmHandler) rawBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.server.config.MaxBodyBytes))
	if err != nil || len(raw) == 0 {
		return nil, errBadRequest
	}
	return raw, nil
}

func (h *realmHandler) throttle(r *http.Request, identifier string) error {
	if h.server.guard == nil {
		return nil
	}
	ip := middleware.ClientIP(r, h.server.config.TrustProxyHeaders)
	return h.server.guard.Check(r.Context(), h.realm.Kind(), ip, identifier)
}

func (h *realmHandler) startSession(w http.ResponseWriter, r *http.Request, sess *goVerify.Session) {
	h.server.setCookie(w, r, h.cookies.Session, sess.Token, sess.MaxAge)
	id := newIdentityView(sess.Identity())
	writeJSON(w, http.StatusOK, loginView{State: "complete", Identity: &id})
}

func identity(r *http.Request) goVerify.Identity {
	id, _ := middleware.IdentityFromContext(r.Context())
	return id
}

/*
====================================
LOGIN
====================================
*/

func (h *realmHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.throttle(r, req.Email); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.realm.Login(r.Context(), req.Email, req.Password, goVerify.SecondFactor{
		TOTPCode:   req.TOTPCode,
		BackupCode: req.BackupCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if result.State == goVerify.LoginFactorRequired {
		h.server.setCookie(w, r, h.cookies.PendingLogin, result.PendingToken, h.realm.PendingLoginTTL())
		expires := result.PendingExpiresAt
		writeJSON(w, http.StatusAccepted, loginView{State: result.State.String(), PendingExpiresAt: &expires})
		return
	}
	h.startSession(w, r, result.Session)
}

func (h *realmHandler) completeSecondFactor(w http.ResponseWriter, r *http.Request) {
	pending := cookieValue(r, h.cookies.PendingLogin)
	if pending == "" {
		writeError(w, goVerify.ErrPendingLoginInvalid)
		return
	}
	var req factorRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.throttle(r, ""); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.realm.CompleteSecondFactor(r.Context(), pending, req.factor())
	if err != nil {
		if errors.Is(err, goVerify.ErrPendingLoginInvalid) || errors.Is(err, goVerify.ErrPendingLoginAttemptsExceeded) {
			h.server.clearCookie(w, r, h.cookies.PendingLogin)
		}
		writeError(w, err)
		return
	}

	h.server.clearCookie(w, r, h.cookies.PendingLogin)
	h.startSession(w, r, result.Session)
}

/*
====================================
SESSION
====================================
*/

func (h *realmHandler) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.SessionToken(r, h.cookies.Session)
	h.server.clearCookie(w, r, h.cookies.Session)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.realm.Logout(r.Context(), token); err != nil && !errors.Is(err, goVerify.ErrSessionRevoked) {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *realmHandler) logoutAll(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromContext(r.Context())
	if err := h.realm.LogoutAll(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	h.server.clearCookie(w, r, h.cookies.Session)
	w.WriteHeader(http.StatusNoContent)
}

func (h *realmHandler) refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.SessionToken(r, h.cookies.Session)
	if !ok {
		writeError(w, goVerify.ErrSessionInvalid)
		return
	}
	sess, err := h.realm.RefreshSession(r.Context(), token)
	if err != nil {
		h.server.clearCookie(w, r, h.cookies.Session)
		writeError(w, err)
		return
	}
	h.startSession(w, r, sess)
}

func (h *realmHandler) session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newIdentityView(identity(r)))
}

/*
====================================
PASSKEYS
====================================
*/

func (h *realmHandler) beginPasskeyRegistration(w http.ResponseWriter, r *http.Request) {
	options, challenge, err := h.realm.BeginPasskeyRegistration(r.Context(), identity(r).PrincipalID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.server.setCookie(w, r, h.cookies.Registration, challenge, h.realm.ChallengeTTL())
	writeJSON(w, http.StatusOK, options)
}

func (h *realmHandler) finishPasskeyRegistration(w http.ResponseWriter, r *http.Request) {
	challenge := cookieValue(r, h.cookies.Registration)
	h.server.clearCookie(w, r, h.cookies.Registration)
	if challenge == "" {
		writeError(w, goVerify.ErrChallengeExpiredOrMissing)
		return
	}
	raw, err := h.rawBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	pk, err := h.realm.FinishPasskeyRegistration(r.Context(), identity(r).PrincipalID, challenge, raw, r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPasskeyView(*pk))
}

func (h *realmHandler) beginPasskeyLogin(w http.ResponseWriter, r *http.Request) {
	var req passkeyLoginRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.throttle(r, req.Email); err != nil {
		writeError(w, err)
		return
	}

	options, challenge, err := h.realm.BeginPasskeyLogin(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	h.server.setCookie(w, r, h.cookies.Authentication, challenge, h.realm.ChallengeTTL())
	writeJSON(w, http.StatusOK, options)
}

func (h *realmHandler) finishPasskeyLogin(w http.ResponseWriter, r *http.Request) {
	challenge := cookieValue(r, h.cookies.Authentication)
	h.server.clearCookie(w, r, h.cookies.Authentication)
	if challenge == "" {
		writeError(w, goVerify.ErrChallengeExpiredOrMissing)
		return
	}
	if err := h.throttle(r, ""); err != nil {
		writeError(w, err)
		return
	}
	raw, err := h.rawBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.realm.FinishPasskeyLogin(r.Context(), challenge, raw)
	if err != nil {
		writeError(w, err)
		return
	}
	h.startSession(w, r, sess)
}

func (h *realmHandler) listPasskeys(w http.ResponseWriter, r *http.Request) {
	list, err := h.realm.ListPasskeys(r.Context(), identity(r).PrincipalID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]passkeyView, 0, len(list))
	for _, pk := range list {
		out = append(out, newPasskeyView(pk))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *realmHandler) revokePasskey(w http.ResponseWriter, r *http.Request) {
	id, err := base64.RawURLEncoding.DecodeString(mux.Vars(r)["id"])
	if err != nil || len(id) == 0 {
		writeError(w, errBadRequest)
		return
	}
	if err := h.realm.RevokePasskey(r.Context(), identity(r).PrincipalID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
TOTP AND BACKUP CODES
====================================
*/

func (h *realmHandler) beginTOTPSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := h.realm.BeginTOTPSetup(r.Context(), identity(r).PrincipalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totpSetupView{Secret: setup.Secret, URI: setup.URI, QRCode: setup.QRCode})
}

func (h *realmHandler) confirmTOTPSetup(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	codes, err := h.realm.ConfirmTOTPSetup(r.Context(), identity(r).PrincipalID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesView{BackupCodes: codes})
}

func (h *realmHandler) disableTOTP(w http.ResponseWriter, r *http.Request) {
	var req factorRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.realm.DisableTOTP(r.Context(), identity(r).PrincipalID, req.factor()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *realmHandler) remainingBackupCodes(w http.ResponseWriter, r *http.Request) {
	n, err := h.realm.RemainingBackupCodes(r.Context(), identity(r).PrincipalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remainingView{Remaining: n})
}

func (h *realmHandler) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	codes, err := h.realm.RegenerateBackupCodes(r.Context(), identity(r).PrincipalID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesView{BackupCodes: codes})
}
