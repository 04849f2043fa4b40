package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/adminauth/internal/auth"
	"github.com/2beens/adminauth/internal/cookies"
	"github.com/2beens/adminauth/internal/middleware"
	"github.com/2beens/adminauth/internal/telemetry/metrics"
	"github.com/2beens/adminauth/internal/telemetry/tracing"
	"github.com/2beens/adminauth/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const loginPage = `<!DOCTYPE html>
<html>
<head><title>Admin login</title></head>
<body>
<form method="POST" action="/login">
	<label>Username <input type="text" name="username" autocomplete="username"></label>
	<label>Password <input type="password" name="password" autocomplete="current-password"></label>
	<button type="submit">Log in</button>
</form>
</body>
</html>
`

type sessionManager interface {
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	LogoutEverywhere(ctx context.Context, token string) (int, error)
	TTL() time.Duration
}

type Handler struct {
	sessionManager sessionManager
	metricsManager *metrics.Manager
	versionInfo    string
}

func NewHandler(
	sessionManager sessionManager,
	metricsManager *metrics.Manager,
	versionInfo string,
) *Handler {
	return &Handler{
		sessionManager: sessionManager,
		metricsManager: metricsManager,
		versionInfo:    versionInfo,
	}
}

func (handler *Handler) SetupRoutes(
	mainRouter *mux.Router,
	authMiddleware *middleware.AuthMiddlewareHandler,
) {
	mainRouter.HandleFunc("/", handler.handleRoot).Methods("GET").Name("root")
	mainRouter.HandleFunc("/version", handler.handleGetVersionInfo).Methods("GET").Name("version")

	mainRouter.HandleFunc(middleware.LoginPath, handler.handleLoginPage).Methods("GET").Name("login-page")
	mainRouter.HandleFunc(middleware.LoginPath, handler.handleLogin).Methods("POST", "OPTIONS").Name("login")
	mainRouter.HandleFunc("/logout", handler.handleLogout).Methods("POST", "OPTIONS").Name("logout")

	requirePage := authMiddleware.RequirePage()
	requireAPI := authMiddleware.RequireAPI()
	mainRouter.Handle("/admin", requirePage(http.HandlerFunc(handler.handleAdminPage))).Methods("GET").Name("admin-page")
	mainRouter.Handle("/logout/all", requireAPI(http.HandlerFunc(handler.handleLogoutAll))).Methods("POST").Name("logout-all")
	mainRouter.Handle("/api/admin/me", requireAPI(http.HandlerFunc(handler.handleMe))).Methods("GET").Name("me")
}

func (handler *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "I'm OK, thanks ;)")
}

func (handler *Handler) handleGetVersionInfo(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, handler.versionInfo)
}

func (handler *Handler) handleLoginPage(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteResponse(w, pkg.ContentType.HTML, loginPage, http.StatusOK)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func parseLoginRequest(r *http.Request) (*loginRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var loginReq loginRequest
		if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
			return nil, fmt.Errorf("unmarshal json params: %w", err)
		}
		return &loginReq, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	return &loginRequest{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}, nil
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.login")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	loginReq, err := parseLoginRequest(r)
	if err != nil {
		log.Debugf("login, bad request: %s", err)
		span.SetStatus(codes.Error, "bad-request")
		pkg.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}

	loginRes, err := handler.sessionManager.Login(ctx, loginReq.Username, loginReq.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		userIP, _ := pkg.ReadUserIP(r)
		log.Tracef("failed login attempt for user [%s] from [%s]", loginReq.Username, userIP)
		handler.countLogin(metrics.ResultInvalid)
		span.SetStatus(codes.Error, "invalid-credentials")
		pkg.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	case err != nil:
		log.Errorf("login failed for user [%s]: %s", loginReq.Username, err)
		handler.countLogin(metrics.ResultError)
		span.SetStatus(codes.Error, "login-error")
		span.RecordError(err)
		pkg.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
		return
	}

	cookies.Attach(w, loginRes.Token, handler.sessionManager.TTL())
	handler.countLogin(metrics.ResultSuccess)
	span.SetAttributes(attribute.String("admin.username", loginReq.Username))
	log.Tracef("new login success for [%s]", loginReq.Username)

	pkg.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.logout")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	if token, ok := cookies.Extract(r); ok {
		if err := handler.sessionManager.Logout(ctx, token); err != nil {
			// cookie is cleared anyway, the session will expire on its own
			log.Errorf("logout, delete session: %s", err)
			span.RecordError(err)
		}
	}

	cookies.Clear(w)
	if handler.metricsManager != nil {
		handler.metricsManager.CounterLogouts.Inc()
	}

	pkg.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (handler *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.logoutAll")
	defer span.End()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		pkg.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	revoked, err := handler.sessionManager.LogoutEverywhere(ctx, identity.SessionID)
	switch {
	case auth.IsAuthFailure(err):
		pkg.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	case err != nil:
		log.Errorf("logout everywhere for [%s]: %s", identity.Username, err)
		span.RecordError(err)
		pkg.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
		return
	}

	cookies.Clear(w)
	if handler.metricsManager != nil {
		handler.metricsManager.CounterLogouts.Inc()
		handler.metricsManager.CounterRevokedSessions.Add(float64(revoked))
	}
	log.Debugf("logout everywhere for [%s]: %d sessions revoked", identity.Username, revoked)

	pkg.WriteJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		Revoked int  `json:"revoked"`
	}{
		Success: true,
		Revoked: revoked,
	})
}

func (handler *Handler) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	page := fmt.Sprintf(
		"<!DOCTYPE html>\n<html><body><p>logged in as %s</p></body></html>\n",
		html.EscapeString(identity.Username),
	)
	pkg.WriteResponse(w, pkg.ContentType.HTML, page, http.StatusOK)
}

func (handler *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		pkg.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	pkg.WriteJSON(w, http.StatusOK, struct {
		Username  string    `json:"username"`
		ExpiresAt time.Time `json:"expiresAt"`
	}{
		Username:  identity.Username,
		ExpiresAt: identity.ExpiresAt,
	})
}

func (handler *Handler) countLogin(result string) {
	if handler.metricsManager == nil {
		return
	}
	handler.metricsManager.CounterLoginAttempts.WithLabelValues(result).Inc()
}
