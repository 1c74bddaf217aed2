// Package session resolves bearer tokens to principals stored in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/access"
)

var ErrNotFound = errors.New("session not found")

const DefaultPrefix = "session:"

type Resolver interface {
	Resolve(ctx context.Context, token string) (*access.Principal, error)
}

type RedisResolver struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisResolver(rdb redis.Cmdable, prefix string) *RedisResolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisResolver{rdb: rdb, prefix: prefix}
}

// Resolve expects the session value to be {"user_id","role","customer_id"}.
func (r *RedisResolver) Resolve(ctx context.Context, token string) (*access.Principal, error) {
	data, err := r.rdb.Get(ctx, r.prefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: failed to read session: %w", err)
	}

	var p access.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("session: malformed session payload: %w", err)
	}
	if !p.Role.Valid() {
		return nil, fmt.Errorf("session: unknown role %q", p.Role)
	}
	return &p, nil
}

// Middleware attaches the principal when the bearer token resolves. Requests
// without one pass through untouched and are rejected later by the guard.
func Middleware(res Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := res.Resolve(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					log.Warn().Err(err).Msg("session: failed to resolve principal")
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
