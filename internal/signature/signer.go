package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eleven-am/voice-stream/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	requestTimeout = 10 * time.Second
	maxBodySize    = 64 * 1024
)

// Signature is the short-lived connection material for one session.
type Signature struct {
	URL      string    `json:"url"`
	AppID    string    `json:"app_id"`
	IssuedAt time.Time `json:"issued_at"`
}

type Signer interface {
	Sign(ctx context.Context, purpose shared.Purpose) (*Signature, error)
}

type Config struct {
	ServerBase string
	Token      string
	RateLimit  float64
	Burst      int
}

// HTTPSigner fetches signed connection URLs from the signing service.
type HTTPSigner struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewHTTPSigner(cfg Config, logger *slog.Logger) *HTTPSigner {
	if logger == nil {
		logger = slog.Default()
	}

	base := &http.Client{Timeout: requestTimeout}
	client := base
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}))
		client.Timeout = requestTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPSigner{
		base:    strings.TrimRight(cfg.ServerBase, "/"),
		client:  client,
		limiter: limiter,
		logger:  logger.With("component", "signer"),
	}
}

type signResponse struct {
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
	Data      *struct {
		URL      string `json:"url"`
		AppID    string `json:"appId"`
		AppIDAlt string `json:"app_id"`
		IssuedAt int64  `json:"issuedAt"`
	} `json:"data"`
}

func (s *HTTPSigner) Sign(ctx context.Context, purpose shared.Purpose) (*Signature, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, shared.NewError(shared.KindAuth, "signature rate limit", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/xfyun/sign/%s", s.base, purpose)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, shared.NewError(shared.KindAuth, "build signature request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, shared.NewError(shared.KindAuth, "signature request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, shared.NewError(shared.KindAuth, "read signature response", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("signature request rejected", "purpose", purpose, "status", resp.StatusCode)
		return nil, &shared.Error{
			Kind:    shared.KindAuth,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("signature service returned %s", resp.Status),
		}
	}

	var parsed signResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, shared.NewError(shared.KindAuth, "decode signature response", err)
	}
	if parsed.ErrorCode != 0 || parsed.Data == nil || parsed.Data.URL == "" {
		msg := parsed.Message
		if msg == "" {
			msg = "signature service returned no url"
		}
		return nil, &shared.Error{Kind: shared.KindAuth, Code: parsed.ErrorCode, Message: msg}
	}

	appID := parsed.Data.AppID
	if appID == "" {
		appID = parsed.Data.AppIDAlt
	}
	issued := time.Now()
	if parsed.Data.IssuedAt > 0 {
		issued = time.UnixMilli(parsed.Data.IssuedAt)
	}

	return &Signature{URL: parsed.Data.URL, AppID: appID, IssuedAt: issued}, nil
}

// Static returns the same signature for every purpose.
type Static Signature

func (s Static) Sign(ctx context.Context, purpose shared.Purpose) (*Signature, error) {
	sig := Signature(s)
	return &sig, nil
}
