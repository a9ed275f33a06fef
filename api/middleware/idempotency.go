package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/entitlements-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	// how long a key stays reserved while its first request runs
	inFlightTTL = time.Minute
)

// Retention for stored replies. Cancellation is kept longer because billing
// retries it for days after an outage.
const (
	IdempotencyTTL         = 24 * time.Hour
	CriticalIdempotencyTTL = 7 * 24 * time.Hour
)

type storedReply struct {
	// InFlight is set while the first request with this key is running.
	InFlight    bool   `json:"in_flight,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotent requires an Idempotency-Key on the wrapped route and replays the
// first reply for every repeat with the same key and body, for ttl. Keys are
// scoped to the organization, method and path. Server errors are not stored,
// so the client may retry them with the same key.
func Idempotent(store pkgredis.IdempotencyStore, logg *logger.Logger, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validators.MaxBodyBytes))
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
					WithDetails(map[string]any{"limit_bytes": tooLarge.Limit}))
				return
			}
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := sha256.Sum256(body)
			requestHash := hex.EncodeToString(hash[:])
			key := store.IdempotencyKey(scopeOf(r), clientKey)

			reserved, err := reserve(r, store, key, requestHash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replay(w, r, logg, store, key, requestHash)
				return
			}

			capture := &replyCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			stored, _ := json.Marshal(storedReply{
				RequestHash: requestHash,
				Status:      capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err := store.Set(ctx, key, string(stored), ttl); err != nil {
				logg.Error(ctx, "store idempotent reply", err)
			}
		})
	}
}

func reserve(r *http.Request, store pkgredis.IdempotencyStore, key, requestHash string) (bool, error) {
	marker, _ := json.Marshal(storedReply{InFlight: true, RequestHash: requestHash})
	return store.SetNX(r.Context(), key, string(marker), inFlightTTL)
}

func replay(w http.ResponseWriter, r *http.Request, logg *logger.Logger, store pkgredis.IdempotencyStore, key, requestHash string) {
	ctx := r.Context()
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotent reply"))
		return
	}

	var stored storedReply
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotent reply"))
		return
	}
	switch {
	case stored.RequestHash != requestHash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case stored.InFlight:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

func scopeOf(r *http.Request) string {
	org := "-"
	if id, ok := OrganizationIDFromContext(r.Context()); ok {
		org = id.String()
	}
	return org + "|" + r.Method + "|" + r.URL.Path
}

type replyCapture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *replyCapture) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *replyCapture) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
