package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-triggers/http/response"
	"github.com/godamri/helix-triggers/pkg/contextx"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	idempotencyProcessing    = "PROCESSING"
	idempotencyProcessingTTL = 30 * time.Second
)

type IdempotencyConfig struct {
	HeaderKey   string
	Expiry      time.Duration
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// StoredResponse is what we cache in Redis.
type StoredResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body"`
}

type responseCapturer struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (w *responseCapturer) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseCapturer) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key from the same caller. Server errors are not stored so
// the caller can retry.
func IdempotencyMiddleware(cfg IdempotencyConfig) func(http.Handler) http.Handler {
	if cfg.HeaderKey == "" {
		cfg.HeaderKey = IdempotencyHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(cfg.HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Keyed per caller so two callers cannot collide on a client key.
			principalID := contextx.GetAuthPrincipalID(r.Context())
			if principalID == "" {
				principalID = "anon_ip:" + getRealIP(r)
			}

			redisKey := "idempotency:" + principalID + ":" + key
			ctx := r.Context()

			acquired, err := cfg.RedisClient.SetNX(ctx, redisKey, idempotencyProcessing, idempotencyProcessingTTL).Result()
			if err != nil {
				cfg.Logger.ErrorContext(ctx, "idempotency: redis error", "error", err)
				response.ErrorJSON(w, r, response.CodeUnavailable, "The service is temporarily unavailable.")
				return
			}

			if !acquired {
				val, err := cfg.RedisClient.Get(ctx, redisKey).Result()
				if err != nil {
					next.ServeHTTP(w, r)
					return
				}

				if val == idempotencyProcessing {
					response.ErrorJSON(w, r, response.CodeAborted, "Request is currently being processed.")
					return
				}

				var stored StoredResponse
				if jsonErr := json.Unmarshal([]byte(val), &stored); jsonErr == nil {
					cfg.Logger.InfoContext(ctx, "idempotency hit", "key", key)
					for k, v := range stored.Headers {
						for _, hv := range v {
							w.Header().Add(k, hv)
						}
					}
					w.Header().Set("X-Idempotency-Hit", "true")
					w.WriteHeader(stored.Status)
					_, _ = w.Write(stored.Body)
					return
				}

				cfg.Logger.WarnContext(ctx, "idempotency cache corrupted, reprocessing", "key", redisKey)
			}

			capturer := &responseCapturer{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capturer, r)

			if capturer.statusCode >= http.StatusInternalServerError {
				cfg.RedisClient.Del(ctx, redisKey)
				return
			}

			data, err := json.Marshal(StoredResponse{
				Status:  capturer.statusCode,
				Headers: capturer.Header().Clone(),
				Body:    capturer.body.Bytes(),
			})
			if err != nil {
				cfg.RedisClient.Del(ctx, redisKey)
				return
			}
			cfg.RedisClient.Set(ctx, redisKey, data, cfg.Expiry)
		})
	}
}
