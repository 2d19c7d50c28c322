package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// Recovery turns a handler panic into a 500 with the JSON error envelope.
// Stack traces are logged, never sent.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("url", r.URL.String()).
				Str("method", r.Method).
				Str("client_ip", ClientIP(r)).
				Msg("Panic recovered")

			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		}()

		next.ServeHTTP(w, r)
	})
}
