package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Config controls which responses are cached and for how long.
type Config struct {
	TTL time.Duration
	// Prefix namespaces keys in the shared store.
	Prefix string
	// Paths are URL path prefixes whose GET responses are cached. A
	// successful write under one of them invalidates its entries.
	Paths []string
	// Cascades lists further scopes a write under a path invalidates, for
	// rows removed or changed by foreign keys.
	Cascades map[string][]string
	// MaxBodyBytes bounds the size of a cacheable body.
	MaxBodyBytes int
}

// DefaultConfig caches the public doctor and schedule listings. Deleting a
// doctor cascades to its schedules, so doctor writes clear both.
func DefaultConfig() Config {
	return Config{
		TTL:    30 * time.Second,
		Prefix: "pws:cache",
		Paths:  []string{"/api/v1/doctors", "/api/v1/schedules"},
		Cascades: map[string][]string{
			"/api/v1/doctors": {"/api/v1/schedules"},
		},
		MaxBodyBytes: 1 << 20,
	}
}

// Middleware serves cached GET responses for cfg.Paths. A nil store
// disables caching. Store errors are logged and the request falls through
// to the handler.
func Middleware(store Store, cfg Config, logger zerolog.Logger) echo.MiddlewareFunc {
	if store == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	log := logger.With().Str("component", "response-cache").Logger()
	maxAge := fmt.Sprintf("public, max-age=%d", int(cfg.TTL.Seconds()))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			scope, ok := matchPath(req.URL.Path, cfg.Paths)
			if !ok {
				return next(c)
			}

			if req.Method != http.MethodGet {
				err := next(c)
				if err == nil && c.Response().Status < 400 {
					for _, sc := range append([]string{scope}, cfg.Cascades[scope]...) {
						if derr := store.DeletePrefix(req.Context(), cfg.Prefix+":"+sc); derr != nil {
							log.Warn().Err(derr).Str("scope", sc).Msg("invalidate failed")
						}
					}
				}
				return err
			}

			ctx := req.Context()
			key := cacheKey(cfg.Prefix, scope, req.URL.Path, req.URL.RawQuery)

			if bs, hit, err := store.Get(ctx, key); err != nil {
				log.Warn().Err(err).Msg("cache get failed")
			} else if hit {
				if status, hdr, body, ok := decodePayload(bs); ok {
					return writeCached(c, status, hdr, body, maxAge)
				}
			}

			res := c.Response()
			origWriter := res.Writer
			buf := newBufferedResponseWriter(origWriter)
			res.Writer = buf

			err := next(c)
			res.Writer = origWriter
			if err != nil {
				// Nothing reached the client; let the error handler respond.
				return err
			}

			if buf.statusCode != http.StatusOK || (cfg.MaxBodyBytes > 0 && buf.buf.Len() > cfg.MaxBodyBytes) {
				return buf.flushTo()
			}

			body := buf.buf.Bytes()
			hdr := res.Header().Clone()
			if payload, perr := encodePayload(buf.statusCode, hdr, body); perr == nil {
				if serr := store.Set(ctx, key, payload, cfg.TTL); serr != nil {
					log.Warn().Err(serr).Msg("cache set failed")
				}
			}

			res.Header().Set("X-Cache", "MISS")
			res.Header().Set("Cache-Control", maxAge)
			etag := computeETag(body)
			res.Header().Set("ETag", etag)
			if etagMatch(req.Header.Get("If-None-Match"), etag) {
				origWriter.WriteHeader(http.StatusNotModified)
				return nil
			}
			return buf.flushTo()
		}
	}
}

func writeCached(c echo.Context, status int, hdr http.Header, body []byte, maxAge string) error {
	h := c.Response().Header()
	for k, vals := range hdr {
		if strings.EqualFold(k, "Content-Length") || strings.EqualFold(k, echo.HeaderXRequestID) {
			continue
		}
		h.Del(k)
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	etag := computeETag(body)
	h.Set("X-Cache", "HIT")
	h.Set("Cache-Control", maxAge)
	h.Set("ETag", etag)

	if etagMatch(c.Request().Header.Get("If-None-Match"), etag) {
		return c.NoContent(http.StatusNotModified)
	}
	c.Response().WriteHeader(status)
	_, err := c.Response().Write(body)
	return err
}

// matchPath returns the configured prefix path falls under.
func matchPath(path string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return p, true
		}
	}
	return "", false
}

// cacheKey is <prefix>:<scope>:<hash of path and query>, so invalidating a
// scope is a prefix delete.
func cacheKey(prefix, scope, path, query string) string {
	sum := sha256.Sum256([]byte(path + "?" + query))
	return fmt.Sprintf("%s:%s:%x", prefix, scope, sum[:16])
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (int, http.Header, []byte, bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status := int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	hdr := make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, hdr, bs[8+hlen:], true
}

// bufferedResponseWriter holds the response until the middleware decides
// whether to cache it.
type bufferedResponseWriter struct {
	writer     http.ResponseWriter
	buf        *bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{writer: w, buf: &bytes.Buffer{}, statusCode: http.StatusOK}
}

func (w *bufferedResponseWriter) Header() http.Header         { return w.writer.Header() }
func (w *bufferedResponseWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }
func (w *bufferedResponseWriter) WriteHeader(code int)        { w.statusCode = code }
func (w *bufferedResponseWriter) Flush()                      {}

func (w *bufferedResponseWriter) flushTo() error {
	w.writer.WriteHeader(w.statusCode)
	if w.buf.Len() > 0 {
		_, err := w.writer.Write(w.buf.Bytes())
		return err
	}
	return nil
}

// computeETag returns a weak validator for body.
func computeETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf(`W/"%x"`, sum[:12])
}

// etagMatch reports whether an If-None-Match value matches etag.
func etagMatch(headerVal, etag string) bool {
	headerVal = strings.TrimSpace(headerVal)
	if headerVal == "" {
		return false
	}
	if headerVal == "*" {
		return true
	}
	for _, candidate := range strings.Split(headerVal, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
