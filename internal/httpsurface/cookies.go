package httpsurface

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"
)

const (
	anonCookieName    = "mb_anon"
	sessionCookieName = "mb_session"
	anonCookieTTL     = 90 * 24 * time.Hour
	sessionCookieTTL  = 12 * time.Hour
)

func readCookie(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func newAnonID() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ensureAnonCookie returns the request's anon id, minting and setting a
// fresh one if absent.
func ensureAnonCookie(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := readCookie(r, anonCookieName); ok {
		return id, nil
	}
	id, err := newAnonID()
	if err != nil {
		return "", err
	}
	setCookie(w, anonCookieName, id, anonCookieTTL)
	return id, nil
}
