package gateway

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/nerrad567/chargegate/internal/infrastructure/config"
)

const csrfTokenBytes = 32

// CSRF implements the double-submit cookie pattern. The token cookie is
// readable by scripts so they can copy it into the request header.
type CSRF struct {
	cookieName string
	headerName string
	formField  string
	secure     bool
}

// NewCSRF creates a token checker from the security configuration.
func NewCSRF(cfg config.CSRFConfig, secure bool) *CSRF {
	return &CSRF{
		cookieName: cfg.CookieName,
		headerName: cfg.HeaderName,
		formField:  cfg.FormField,
		secure:     secure,
	}
}

// FormField is the hidden input name forms carry the token in.
func (c *CSRF) FormField() string {
	return c.formField
}

// Ensure returns the request's token, issuing a cookie with a fresh one when absent.
func (c *CSRF) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if ck, err := r.Cookie(c.cookieName); err == nil && ck.Value != "" {
		return ck.Value, nil
	}
	return c.Issue(w)
}

// Issue sets a new token cookie and returns the token.
func (c *CSRF) Issue(w http.ResponseWriter) (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating csrf token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    token,
		Path:     "/",
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Verify checks that an unsafe request echoes the token from its own cookie.
// The echo is read from the header first, then from the form field.
func (c *CSRF) Verify(r *http.Request) bool {
	ck, err := r.Cookie(c.cookieName)
	if err != nil || ck.Value == "" {
		return false
	}

	echo := r.Header.Get(c.headerName)
	if echo == "" {
		echo = r.PostFormValue(c.formField)
	}
	if echo == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ck.Value), []byte(echo)) == 1
}

// SafeMethod reports whether a method cannot change state and skips the check.
func SafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
