package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/auth"
	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/service"
)

// Authenticator is the part of service.AuthService the handlers use.
// Declaring it here keeps handler tests free of bcrypt and storage.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Me(ctx context.Context, accountID int64) (*model.Account, error)
}

// AuthHandler serves the email/password session routes.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister → create the account, set the session cookie
//   - HandleLogin    → check credentials, set the session cookie
//   - HandleLogout   → clear the session cookie
//   - HandleMe       → return the signed-in account
//
// The session token lives in an HttpOnly cookie, so browser JavaScript never
// sees it. Non-browser clients can send the same token as a Bearer header.
type AuthHandler struct {
	accounts     Authenticator
	sessionTTL   time.Duration
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. sessionTTL should match the token
// lifetime so the cookie and the token expire together.
func NewAuthHandler(accounts Authenticator, sessionTTL time.Duration, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:     accounts,
		sessionTTL:   sessionTTL,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type userResponse struct {
	User *model.Account `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an account and signs it in.
//
// HTTP: POST /api/auth/register  {"email","password","name"}
// 201 {"user": {...}} with the token cookie; 409 if the email is taken.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		h.logFailure("register", err)
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeJSON(w, http.StatusCreated, userResponse{User: res.Account})
}

// HandleLogin signs an existing account in.
//
// HTTP: POST /api/auth/login  {"email","password"}
// 200 {"user": {...}} with the token cookie; 401 on bad credentials.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		h.logFailure("login", err)
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeJSON(w, http.StatusOK, userResponse{User: res.Account})
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /api/auth/logout
//
// Tokens are stateless, so "logout" only deletes the client-side cookie.
// The token itself stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleMe returns the signed-in account.
//
// HTTP: GET /api/auth/me
// Auth: Required (RequireAuth middleware sets the account id in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated("access token required"))
		return
	}

	account, err := h.accounts.Me(r.Context(), accountID)
	if err != nil {
		h.logger.Error("HandleMe: account lookup failed",
			slog.Int64("accountID", accountID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: account})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// logFailure logs expected client mistakes at Info and everything else at
// Error, so the error log only carries things worth looking at.
func (h *AuthHandler) logFailure(op string, err error) {
	status, _ := statusFor(err)
	if status < http.StatusInternalServerError {
		h.logger.Info("auth request rejected",
			slog.String("op", op),
			slog.Int("status", status),
			slog.String("reason", err.Error()),
		)
		return
	}
	h.logger.Error("auth request failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
