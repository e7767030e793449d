package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/materialflow/api/responses"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
	pkgredis "github.com/angelmondragon/materialflow/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	defaultIdempotencyTTL  = 24 * time.Hour
	idempotencyLinesPrefix = "/api/v1/lines/"
)

// Writes that are not naturally idempotent. Spawns carry their own token and
// approval decisions are guarded by the slot CAS, so neither is listed.
var (
	idempotentExact      = []string{"/api/v1/orders", "/api/v1/direct-pos"}
	idempotentLineWrites = []string{"/deliveries", "/quality", "/write-offs"}
)

func requiresIdempotency(method, path string) bool {
	if method != http.MethodPost {
		return false
	}
	for _, exact := range idempotentExact {
		if path == exact {
			return true
		}
	}
	if !strings.HasPrefix(path, idempotencyLinesPrefix) {
		return false
	}
	for _, suffix := range idempotentLineWrites {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// storedResponse is what lives under an idempotency key: a reservation while
// the first request runs, then the response it produced.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type replayGuard struct {
	store pkgredis.IdempotencyStore
	ttl   time.Duration
	logg  *logger.Logger
}

// Idempotency makes listed writes safe to retry. The first request with a
// given Idempotency-Key reserves it and runs; later ones with the same body
// get the stored response, and ones with a different body get a 409. Server
// errors release the key. A zero ttl falls back to 24h.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	guard := &replayGuard{store: store, ttl: ttl, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || !requiresIdempotency(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			guard.serve(w, r, next)
		})
	}
}

func (g *replayGuard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if clientKey == "" {
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	hash := fingerprint(body)
	key := g.store.IdempotencyKey(requestScope(r), clientKey)

	reserved, err := g.reserve(ctx, key, hash)
	if err != nil {
		responses.WriteError(ctx, g.logg, w, err)
		return
	}
	if !reserved {
		g.replay(ctx, w, key, hash)
		return
	}

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)
	g.remember(ctx, key, hash, capture)
}

func (g *replayGuard) reserve(ctx context.Context, key, hash string) (bool, error) {
	marker, err := json.Marshal(storedResponse{Pending: true, RequestHash: hash})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency reservation")
	}
	ok, err := g.store.SetNX(ctx, key, string(marker), g.ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key")
	}
	return ok, nil
}

func (g *replayGuard) replay(ctx context.Context, w http.ResponseWriter, key, hash string) {
	raw, err := g.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Released between our SetNX and Get; the first attempt hit a server error.
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.RequestHash != hash:
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case stored.Pending:
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set("Idempotent-Replay", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

func (g *replayGuard) remember(ctx context.Context, key, hash string, capture *responseCapture) {
	status := capture.statusCode()
	if status >= http.StatusInternalServerError {
		if err := g.store.Del(ctx, key); err != nil && g.logg != nil {
			g.logg.Error(ctx, "release idempotency key", err)
		}
		return
	}
	record, err := json.Marshal(storedResponse{
		RequestHash: hash,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err == nil {
		err = g.store.Set(ctx, key, string(record), g.ttl)
	}
	if err != nil && g.logg != nil {
		g.logg.Error(ctx, "store idempotency record", err)
	}
}

// requestScope keeps keys from colliding across actors and endpoints.
func requestScope(r *http.Request) string {
	return strings.Join([]string{ActorIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
