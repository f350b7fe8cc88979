package authn

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// BearerExtractor is the TokenExtractor for net/http requests: it reads the
// Authorization header's Bearer scheme.
func BearerExtractor(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

type contextKey struct{}

// WithResult returns a context carrying an authentication result.
func WithResult(ctx context.Context, result *Result) context.Context {
	return context.WithValue(ctx, contextKey{}, result)
}

// FromContext returns the authentication result stored by Middleware, if
// any.
func FromContext(ctx context.Context) (*Result, bool) {
	result, ok := ctx.Value(contextKey{}).(*Result)
	return result, ok
}

// Middleware wraps a net/http handler with an AuthenticateFunc, storing the
// result in the request context and mapping classification to status codes:
// ErrUnauthorized to 401, ErrForbidden to 403, anything else to 500.
func Middleware(authenticate AuthenticateFunc[*http.Request], next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := authenticate(r.Context(), r)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnauthorized):
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			case errors.Is(err, ErrForbidden):
				http.Error(w, "forbidden", http.StatusForbidden)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), result)))
	})
}
