package signature

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/redis/go-redis/v9"
)

type countingSigner struct {
	calls atomic.Int32
	err   error
}

func (s *countingSigner) Sign(ctx context.Context, purpose shared.Purpose) (*Signature, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &Signature{URL: "wss://" + purpose.String(), AppID: "app", IssuedAt: time.Now()}, nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCachedSigner_ReusesWithinTTL(t *testing.T) {
	_, client := newTestRedis(t)
	next := &countingSigner{}
	cached := NewCachedSigner(next, client, time.Minute, newTestLogger())

	ctx := context.Background()
	first, err := cached.Sign(ctx, shared.PurposeRecognition)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	second, err := cached.Sign(ctx, shared.PurposeRecognition)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if next.calls.Load() != 1 {
		t.Errorf("expected one upstream call, got %d", next.calls.Load())
	}
	if first.URL != second.URL {
		t.Errorf("expected cached url, got %s and %s", first.URL, second.URL)
	}

	if _, err := cached.Sign(ctx, shared.PurposeSynthesis); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if next.calls.Load() != 2 {
		t.Errorf("purposes should not share entries, got %d calls", next.calls.Load())
	}
}

func TestCachedSigner_ExpiresWithRedisTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	next := &countingSigner{}
	cached := NewCachedSigner(next, client, time.Minute, newTestLogger())

	ctx := context.Background()
	_, _ = cached.Sign(ctx, shared.PurposeTranscription)
	mr.FastForward(2 * time.Minute)
	_, _ = cached.Sign(ctx, shared.PurposeTranscription)

	if next.calls.Load() != 2 {
		t.Errorf("expected refetch after expiry, got %d calls", next.calls.Load())
	}
}

func TestCachedSigner_Invalidate(t *testing.T) {
	_, client := newTestRedis(t)
	next := &countingSigner{}
	cached := NewCachedSigner(next, client, time.Minute, newTestLogger())

	ctx := context.Background()
	_, _ = cached.Sign(ctx, shared.PurposeSynthesis)
	if err := cached.Invalidate(ctx, shared.PurposeSynthesis); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	_, _ = cached.Sign(ctx, shared.PurposeSynthesis)
	if next.calls.Load() != 2 {
		t.Errorf("expected refetch after invalidate, got %d calls", next.calls.Load())
	}
}

func TestCachedSigner_PropagatesErrors(t *testing.T) {
	_, client := newTestRedis(t)
	denied := shared.NewError(shared.KindAuth, "denied", nil)
	cached := NewCachedSigner(&countingSigner{err: denied}, client, time.Minute, newTestLogger())

	_, err := cached.Sign(context.Background(), shared.PurposeRecognition)
	if !errors.Is(err, denied) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestCachedSigner_RedisDownFallsThrough(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()
	next := &countingSigner{}
	cached := NewCachedSigner(next, client, time.Minute, newTestLogger())

	sig, err := cached.Sign(context.Background(), shared.PurposeRecognition)
	if err != nil || sig == nil {
		t.Fatalf("expected fallthrough to upstream, got %v", err)
	}
}
