package session

import (
	"net/http"
	"time"
)

// Cookie names
const (
	GitCookieName  = "warden_session"
	SAMLCookieName = "warden_saml_session"
)

// CookieStore carries the git-identity and SAML-identity credentials in two
// independent cookies so a browser can hold both at once.
type CookieStore struct {
	Secure bool
	Domain string
}

// SetGitSession stores a git-identity session credential
func (s *CookieStore) SetGitSession(w http.ResponseWriter, token string, expiresAt time.Time) {
	s.set(w, GitCookieName, token, expiresAt)
}

// ClearGitSession logs the browser out of its git-identity session
func (s *CookieStore) ClearGitSession(w http.ResponseWriter) {
	s.clear(w, GitCookieName)
}

// GitSession returns the git-identity session credential, if any
func (s *CookieStore) GitSession(r *http.Request) string {
	return readCookie(r, GitCookieName)
}

// SetSAMLSession stores a SAML-scoped session credential
func (s *CookieStore) SetSAMLSession(w http.ResponseWriter, token string, expiresAt time.Time) {
	s.set(w, SAMLCookieName, token, expiresAt)
}

// ClearSAMLSession removes the SAML-scoped session credential
func (s *CookieStore) ClearSAMLSession(w http.ResponseWriter) {
	s.clear(w, SAMLCookieName)
}

// SAMLSession returns the SAML-scoped session credential, if any
func (s *CookieStore) SAMLSession(r *http.Request) string {
	return readCookie(r, SAMLCookieName)
}

func (s *CookieStore) set(w http.ResponseWriter, name, value string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.Domain,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
		MaxAge:   maxAge,
	})
}

func (s *CookieStore) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   s.Domain,
		HttpOnly: true,
		Secure:   s.Secure,
		MaxAge:   -1,
	})
}

func readCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
