package signature

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "voice:sign:"

// CachedSigner keeps recently issued signatures in redis so that bursts of
// sessions with the same purpose share one signing round trip. The TTL must
// stay below the validity window of the signed URL.
type CachedSigner struct {
	next   Signer
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedSigner(next Signer, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSigner{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: logger.With("component", "signature_cache"),
	}
}

func (c *CachedSigner) Sign(ctx context.Context, purpose shared.Purpose) (*Signature, error) {
	key := keyPrefix + purpose.String()

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var sig Signature
		if jsonErr := json.Unmarshal(data, &sig); jsonErr == nil && time.Since(sig.IssuedAt) < c.ttl {
			return &sig, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("signature cache read failed", "purpose", purpose, "error", err)
	}

	sig, err := c.next.Sign(ctx, purpose)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(sig); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("signature cache write failed", "purpose", purpose, "error", err)
		}
	}
	return sig, nil
}

func (c *CachedSigner) Invalidate(ctx context.Context, purpose shared.Purpose) error {
	return c.redis.Del(ctx, keyPrefix+purpose.String()).Err()
}
