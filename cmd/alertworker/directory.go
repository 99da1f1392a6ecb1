package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/finflow/alertpipe/pkg/stream"
)

// redisDirectory resolves users against keys the surrounding
// application maintains in redis: "session:<token>" -> user id and
// "user:email:<user id>" -> address. The pipeline only reads them.
type redisDirectory struct {
	client redis.UniversalClient
}

func newRedisDirectory(client redis.UniversalClient) *redisDirectory {
	return &redisDirectory{client: client}
}

func (d *redisDirectory) UserIDFromToken(ctx context.Context, token string) (string, error) {
	userID, err := d.client.Get(ctx, "session:"+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", stream.ErrInvalidSession
		}
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return userID, nil
}

func (d *redisDirectory) EmailAddress(ctx context.Context, userID string) (string, error) {
	addr, err := d.client.Get(ctx, "user:email:"+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("no email address for user %s", userID)
		}
		return "", fmt.Errorf("resolve email address: %w", err)
	}
	return addr, nil
}

// healthHandler reports ok only when every dependency check passes.
func healthHandler(checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
