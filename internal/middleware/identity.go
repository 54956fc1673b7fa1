package middleware

import "net/http"

// Identity reads the authenticated user id from the X-User-Id header
// set by the fronting auth proxy and places it in the request context.
// Requests without it are rejected; the service itself never validates
// credentials.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := contextWithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
