package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/2beens/adminauth/internal/auth"
	"github.com/2beens/adminauth/internal/cookies"
	"github.com/2beens/adminauth/internal/telemetry/metrics"
	"github.com/2beens/adminauth/internal/telemetry/tracing"
	"github.com/2beens/adminauth/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const LoginPath = "/login"

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=middleware_test

type tokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.Identity, error)
}

// AuthMiddlewareHandler guards admin pages and APIs with the session cookie.
type AuthMiddlewareHandler struct {
	validator      tokenValidator
	metricsManager *metrics.Manager
}

func NewAuthMiddlewareHandler(
	validator tokenValidator,
	metricsManager *metrics.Manager,
) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		validator:      validator,
		metricsManager: metricsManager,
	}
}

// RequirePage sends unauthenticated browsers to the login page.
func (h *AuthMiddlewareHandler) RequirePage() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, hadToken, err := h.authenticate(r, "middleware.requirePage")
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
			case auth.IsAuthFailure(err):
				if hadToken {
					cookies.Clear(w)
				}
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			default:
				pkg.WriteResponse(w, pkg.ContentType.Text, "service unavailable", http.StatusServiceUnavailable)
			}
		})
	}
}

// RequireAPI answers unauthenticated API calls with a JSON 401.
func (h *AuthMiddlewareHandler) RequireAPI() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _, err := h.authenticate(r, "middleware.requireAPI")
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
			case auth.IsAuthFailure(err):
				pkg.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			default:
				pkg.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
			}
		})
	}
}

func (h *AuthMiddlewareHandler) authenticate(r *http.Request, spanName string) (*auth.Identity, bool, error) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), spanName)
	defer span.End()

	token, ok := cookies.Extract(r)
	if !ok {
		log.Tracef("[missing token] [auth middleware] unauthorized => %s", r.URL.Path)
		h.countValidation(metrics.ResultInvalid)
		span.SetStatus(codes.Error, "missing-auth-token")
		return nil, false, auth.ErrInvalidToken
	}

	identity, err := h.validator.Validate(ctx, token)
	switch {
	case err == nil:
		h.countValidation(metrics.ResultSuccess)
		span.SetStatus(codes.Ok, "ok")
		return identity, true, nil
	case errors.Is(err, auth.ErrExpired):
		log.Tracef("[expired token] [auth middleware] unauthorized => %s", r.URL.Path)
		h.countValidation(metrics.ResultExpired)
		span.SetStatus(codes.Error, "session-expired")
	case auth.IsAuthFailure(err):
		log.Tracef("[invalid token] [auth middleware] unauthorized => %s", r.URL.Path)
		h.countValidation(metrics.ResultInvalid)
		span.SetStatus(codes.Error, "not-logged")
	default:
		log.Errorf("[failed login check] => %s: %s", r.URL.Path, err)
		h.countValidation(metrics.ResultError)
		span.SetStatus(codes.Error, "check-logged-err")
		span.RecordError(err)
	}
	return nil, true, err
}

func (h *AuthMiddlewareHandler) countValidation(result string) {
	if h.metricsManager == nil {
		return
	}
	h.metricsManager.CounterValidations.WithLabelValues(result).Inc()
}
