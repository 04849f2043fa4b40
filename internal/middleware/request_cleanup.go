package middleware

import (
	"io"
	"net/http"
)

// login forms are tiny, anything above this is not worth reading
const maxDrainBytes = 64 << 10

// DrainAndCloseRequest discards what the handler left unread in the request
// body (up to maxDrainBytes) and closes it, so the connection can be reused.
func DrainAndCloseRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Body == nil || r.Body == http.NoBody {
				return
			}
			_, _ = io.CopyN(io.Discard, r.Body, maxDrainBytes)
			_ = r.Body.Close()
		})
	}
}
