package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/runnervision/runnervision/internal/api/models"
	"github.com/runnervision/runnervision/internal/auth"
)

// TokenAuthorizer validates an operator token against a scope.
type TokenAuthorizer interface {
	Authorize(token, scope string) (*auth.OperatorClaims, error)
}

type subjectKey struct{}

// authFailures maps token errors onto 401 details, checked in order.
var authFailures = []struct {
	err    error
	detail string
}{
	{auth.ErrTokenExpired, "operator token has expired"},
	{auth.ErrInvalidToken, "invalid operator token"},
	{auth.ErrNoSigningKey, "operator tokens are not configured"},
}

// OperatorAuth requires a bearer operator token granting scope. An empty
// scope only checks the token itself. Missing or bad tokens get 401, a valid
// token without the scope gets 403.
func OperatorAuth(authorizer TokenAuthorizer, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, problem := bearerToken(r)
			if problem != "" {
				writeUnauthorized(w, r, problem)
				return
			}

			claims, err := authorizer.Authorize(token, scope)
			if errors.Is(err, auth.ErrMissingScope) {
				writeProblem(w, r, models.NewForbidden, "token does not grant "+scope)
				return
			}
			if err != nil {
				writeUnauthorized(w, r, authFailureDetail(err))
				return
			}

			recordSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, claims.Subject)))
		})
	}
}

// bearerToken extracts the token from the Authorization header. The scheme
// is matched case-insensitively. A non-empty problem means there is no token.
func bearerToken(r *http.Request) (token, problem string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	if token = strings.TrimSpace(rest); token == "" {
		return "", "missing bearer token"
	}
	return token, ""
}

func authFailureDetail(err error) string {
	for _, f := range authFailures {
		if errors.Is(err, f.err) {
			return f.detail
		}
	}
	return "authentication failed"
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="runnervision-ops"`)
	writeProblem(w, r, models.NewUnauthorized, detail)
}

// GetSubject returns the authenticated operator subject, or "".
func GetSubject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
