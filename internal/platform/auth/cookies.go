package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	AccessCookieName  = "pws_access"
	RefreshCookieName = "pws_refresh"
)

// CookieConfig holds the attributes shared by both session cookies.
type CookieConfig struct {
	Secure     bool
	SameSite   http.SameSite
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ParseSameSite maps "strict" to http.SameSiteStrictMode and anything else to Lax.
func ParseSameSite(v string) http.SameSite {
	if strings.EqualFold(v, "strict") {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

// Cookies writes and clears the session cookies.
type Cookies struct {
	cfg CookieConfig
}

func NewCookies(cfg CookieConfig) *Cookies {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return &Cookies{cfg: cfg}
}

func (k *Cookies) SetAccess(c echo.Context, tok Token) {
	c.SetCookie(k.cookie(AccessCookieName, tok.Value, int(k.cfg.AccessTTL.Seconds()), tok.ExpiresAt))
}

func (k *Cookies) SetRefresh(c echo.Context, tok Token) {
	c.SetCookie(k.cookie(RefreshCookieName, tok.Value, int(k.cfg.RefreshTTL.Seconds()), tok.ExpiresAt))
}

// Clear expires both session cookies. Safe to call without a session.
func (k *Cookies) Clear(c echo.Context) {
	c.SetCookie(k.cookie(AccessCookieName, "", -1, time.Unix(0, 0)))
	c.SetCookie(k.cookie(RefreshCookieName, "", -1, time.Unix(0, 0)))
}

func (k *Cookies) cookie(name, value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   k.cfg.Secure,
		SameSite: k.cfg.SameSite,
	}
}

// accessTokenFromRequest reads the access cookie first, then the bearer header.
func accessTokenFromRequest(c echo.Context) string {
	if ck, err := c.Cookie(AccessCookieName); err == nil && ck.Value != "" {
		return ck.Value
	}

	authHeader := c.Request().Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RefreshTokenFromRequest reads the refresh cookie.
func RefreshTokenFromRequest(c echo.Context) string {
	if ck, err := c.Cookie(RefreshCookieName); err == nil {
		return ck.Value
	}
	return ""
}
