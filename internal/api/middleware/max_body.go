package middleware

import (
	"net/http"

	"github.com/cloo-solutions/homilia/internal/api"
)

// MaxBodyBytes caps the request body at limit bytes. Requests that declare a
// larger Content-Length are rejected before the handler runs; streamed bodies
// fail on read with *http.MaxBytesError, which handlers report through
// api.BodyTooLarge. Bodiless methods pass through untouched.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				api.BodyTooLarge(w, limit)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
