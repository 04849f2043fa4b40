// Package cookies moves session tokens between the server and the browser.
package cookies

import (
	"net/http"
	"time"
)

const (
	CookieName = "admin-token"
	// LegacyCookieName is still accepted on the way in, and cleared on logout.
	LegacyCookieName = "admin-session"
)

// Attach sets the session cookie on the response, living as long as the session.
func Attach(w http.ResponseWriter, token string, lifetime time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(lifetime.Seconds()),
		Expires:  time.Now().Add(lifetime).UTC(),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Extract returns the token carried by the request, preferring the current cookie name.
func Extract(r *http.Request) (string, bool) {
	for _, name := range []string{CookieName, LegacyCookieName} {
		cookie, err := r.Cookie(name)
		if err != nil || cookie.Value == "" {
			continue
		}
		return cookie.Value, true
	}
	return "", false
}

// Clear expires both the current and the legacy session cookie.
func Clear(w http.ResponseWriter) {
	for _, name := range []string{CookieName, LegacyCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0).UTC(),
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
