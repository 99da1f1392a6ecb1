// Package explainer wraps the LLM-based alert explainer collaborator
// with a result cache and a per-user rate limit. The model call itself
// lives behind the Explainer interface; this package only makes it
// cheap and bounded to invoke.
package explainer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finflow/alertpipe/pkg/ratelimit"
)

var (
	// ErrRateLimited is returned when the user exhausted their hourly
	// explainer budget.
	ErrRateLimited = errors.New("explainer: rate limit exceeded")
)

// DefaultCacheTTL bounds how long a computed explanation is reused.
const DefaultCacheTTL = time.Hour

// Request carries the structured alert context sent to the model.
type Request struct {
	AlertID string         `json:"alert_id"`
	UserID  string         `json:"user_id"`
	Context map[string]any `json:"context,omitempty"`
}

// Explanation is the bounded response shown to the user.
type Explanation struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// Explainer produces an explanation for one alert.
type Explainer interface {
	Explain(ctx context.Context, req Request) (*Explanation, error)
}

// Cache stores serialized explanations keyed by alert id and context
// hash.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cached decorates an Explainer with caching and per-user rate
// limiting. Cache hits do not consume the user's budget.
type Cached struct {
	inner   Explainer
	cache   Cache
	limiter *ratelimit.Limiter
	ttl     time.Duration
}

// NewCached wraps inner. Pass the limiter from
// ratelimit.NewExplainerLimiter to get the standard 20/user/hour cap.
func NewCached(inner Explainer, cache Cache, limiter *ratelimit.Limiter) *Cached {
	return &Cached{
		inner:   inner,
		cache:   cache,
		limiter: limiter,
		ttl:     DefaultCacheTTL,
	}
}

func (c *Cached) Explain(ctx context.Context, req Request) (*Explanation, error) {
	key, err := cacheKey(req)
	if err != nil {
		return nil, err
	}

	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var exp Explanation
		if err := json.Unmarshal(data, &exp); err == nil {
			return &exp, nil
		}
		// Undecodable cache entries fall through to recompute.
	}

	allowed, err := c.limiter.Allow(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("explainer rate check: %w", err)
	}
	if !allowed {
		return nil, ErrRateLimited
	}

	exp, err := c.inner.Explain(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Record(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("record explainer call: %w", err)
	}

	if data, err := json.Marshal(exp); err == nil {
		// Best-effort: a failed cache write only costs a recompute.
		_ = c.cache.Set(ctx, key, data, c.ttl)
	}

	return exp, nil
}

// cacheKey is "explain:<alertID>:<contextHash>" so the same alert with
// changed context gets a fresh explanation.
func cacheKey(req Request) (string, error) {
	data, err := json.Marshal(req.Context)
	if err != nil {
		return "", fmt.Errorf("hash explainer context: %w", err)
	}
	sum := sha256.Sum256(data)
	return "explain:" + req.AlertID + ":" + hex.EncodeToString(sum[:8]), nil
}
