package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"dinehub.org/internal/audit"
	"dinehub.org/internal/auth"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const bearer = "bearer "

var errMissingBearer = errors.New("missing bearer token")

// authenticate validates the access token and places its claims in the request context.
// Every failure is reported to the client as the same 401.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			a.writeAuthError(w, r, auth.ErrInvalidToken)
			return
		}
		ctx := audit.WithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
		v, err := a.tokens.ValidateAccess(ctx, token)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		ctx = auth.ContextWithClaims(ctx, v.Claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require rejects callers whose token snapshot lacks perm.
func (a *API) require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				a.writeAuthError(w, r, auth.ErrInvalidToken)
				return
			}
			if err := auth.Authorize(claims, perm); err != nil {
				a.log.Info().Str("user_id", claims.Subject).Str("tenant_id", claims.TenantID).
					Str("permission", perm).Msg("permission denied")
				a.writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errMissingBearer
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}

// caller returns the validated claims; routes behind authenticate always have them.
func caller(r *http.Request) *auth.Claims {
	c, _ := auth.ClaimsFromContext(r.Context())
	return c
}
