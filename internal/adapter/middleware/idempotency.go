package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"signoff-backend/internal/identity"
)

const storeTimeout = 2 * time.Second

// captureWriter tees the response so it can be stored for replay.
type captureWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func reject(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, map[string]string{"error": msg, "code": code})
}

// Idempotency replays the stored response of a repeated mutating request.
// The key is method + route + authenticated participant + Ax-Request-Id, so it
// must run after Authenticate. Server errors are not stored; the client may
// retry them with the same id.
func Idempotency(rdb *redis.Client, prefix string, ttl time.Duration) echo.MiddlewareFunc {
	store := replayStore{rdb: rdb, prefix: prefix, ttl: ttl}
	log := slog.Default().With("component", "idempotency")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			now := time.Now().UTC()
			st, err := readStamp(req.Header, now)
			if err != nil {
				return reject(c, http.StatusBadRequest, "invalid_request", err.Error())
			}
			p, ok := identity.FromContext(req.Context())
			if !ok {
				return reject(c, http.StatusUnauthorized, "unauthenticated", identity.ErrUnauthenticated.Error())
			}

			var body []byte
			if req.Body != nil {
				if body, err = io.ReadAll(req.Body); err != nil {
					return reject(c, http.StatusBadRequest, "invalid_body", "unreadable request body")
				}
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			sum := digest(body)
			key := store.key(req.Method, c.Path(), p.ID, st.id)

			ctx, cancel := context.WithTimeout(req.Context(), storeTimeout)
			defer cancel()
			reserved, err := store.reserve(ctx, key, replayRecord{Digest: sum, RequestAt: st.at.UnixMilli(), StoredAt: now})
			if err != nil {
				log.Error("idempotency store unavailable", "key", key, "err", err)
				return reject(c, http.StatusServiceUnavailable, "unavailable", "idempotency store unavailable")
			}
			if !reserved {
				prev, err := store.load(ctx, key)
				if err != nil && !errors.Is(err, redis.Nil) {
					log.Warn("load idempotency record", "key", key, "err", err)
				}
				switch {
				case prev.Digest != "" && prev.Digest != sum:
					return reject(c, http.StatusConflict, "idempotency_mismatch", HeaderRequestID+" reused with different body")
				case prev.replayable():
					c.Response().Header().Set("Idempotent-Replay", "true")
					return c.Blob(prev.Status, echo.MIMEApplicationJSONCharsetUTF8, prev.Body)
				}
				return reject(c, http.StatusConflict, "in_progress", "request is already in progress")
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = cw
			if err := next(c); err != nil {
				c.Error(err)
			}

			// the request context may already be cancelled by now
			sctx, scancel := context.WithTimeout(context.WithoutCancel(req.Context()), storeTimeout)
			defer scancel()
			if cw.status >= http.StatusInternalServerError {
				if err := store.release(sctx, key); err != nil {
					log.Warn("release idempotency key", "key", key, "err", err)
				}
				return nil
			}
			done := replayRecord{
				Status:    cw.status,
				Body:      cw.body.Bytes(),
				Digest:    sum,
				RequestAt: st.at.UnixMilli(),
				StoredAt:  time.Now().UTC(),
			}
			if err := store.complete(sctx, key, done); err != nil {
				log.Warn("save idempotency record", "key", key, "err", err)
			}
			return nil
		}
	}
}
