package auth

import (
	"net/http"
	"strings"

	"github.com/assetstage/assetstage/internal/httputil"
)

// skipPaths is the set of paths that do not require authentication.
var skipPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// skipPrefixes cover the generated API documentation.
var skipPrefixes = []string{"/docs", "/openapi", "/schemas/"}

func skipAuth(r *http.Request) bool {
	if skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
		return true
	}
	for _, p := range skipPrefixes {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

// Middleware returns HTTP middleware that requires a valid bearer token on
// every request except health, metrics, API docs and CORS preflight. On
// success the caller's Identity is set on the request context.
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipAuth(r) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(w, r, &AuthError{Code: "MissingToken", Message: "authorization header required"})
				return
			}
			id, err := verifier.VerifyToken(token)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// writeAuthError maps an AuthError to a JSON error response.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	authErr, ok := err.(*AuthError)
	if !ok {
		httputil.RenderError(w, r, http.StatusInternalServerError, "InternalError", "authentication failed")
		return
	}

	switch authErr.Code {
	case "AccessDenied":
		httputil.RenderError(w, r, http.StatusForbidden, authErr.Code, authErr.Message)
	default:
		w.Header().Set("WWW-Authenticate", `Bearer realm="assetstage"`)
		httputil.RenderError(w, r, http.StatusUnauthorized, authErr.Code, authErr.Message)
	}
}
