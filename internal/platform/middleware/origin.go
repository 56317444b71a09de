package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

// OriginCheck rejects cross-site state-changing requests that ride on the
// session cookie. A mutating request must carry an Origin (or, failing that,
// a Referer) from the allowed list. Requests authenticated only by a Bearer
// header carry no ambient credentials and are let through.
func OriginCheck(allowed []string, sessionCookie string) echo.MiddlewareFunc {
	allow := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			allow[strings.ToLower(o)] = struct{}{}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutating(req.Method) {
				return next(c)
			}
			if bearerOnly(req, sessionCookie) {
				return next(c)
			}

			origin := req.Header.Get(echo.HeaderOrigin)
			if origin == "" {
				origin = refererOrigin(req.Referer())
			}
			if origin == "" {
				return echo.NewHTTPError(http.StatusForbidden, "Cross-site request not allowed")
			}
			if _, ok := allow[strings.ToLower(strings.TrimRight(origin, "/"))]; !ok {
				return echo.NewHTTPError(http.StatusForbidden, "Cross-site request not allowed")
			}
			return next(c)
		}
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func bearerOnly(req *http.Request, sessionCookie string) bool {
	if !strings.HasPrefix(req.Header.Get(echo.HeaderAuthorization), "Bearer ") {
		return false
	}
	_, err := req.Cookie(sessionCookie)
	return err != nil
}

// refererOrigin reduces a Referer URL to scheme://host.
func refererOrigin(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
