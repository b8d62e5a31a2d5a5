package middleware

import (
	"net/http"
	"strings"

	"github.com/lumenpay/settlement-backend/api/responses"
	pkgAuth "github.com/lumenpay/settlement-backend/pkg/auth"
	"github.com/lumenpay/settlement-backend/pkg/config"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/logger"
)

// ServiceAuth validates an internal bearer token and seeds the request context
// with its organization and network scope.
func ServiceAuth(cfg config.ServiceTokenConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseServiceToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithServiceScope(r.Context(), ServiceScope{
				OrganizationID: claims.OrganizationID,
				Environment:    claims.Environment,
				Subject:        claims.Subject,
			})
			if logg != nil {
				ctx = logg.WithOrganization(ctx, claims.OrganizationID.String(), string(claims.Environment))
				ctx = logg.WithField(ctx, "service_subject", claims.Subject)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
