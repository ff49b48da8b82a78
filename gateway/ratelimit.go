// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"toolgate/platform/connectors/config"
	"toolgate/platform/shared/logger"
)

// ErrInvalidLimit is returned for a per-minute limit below one
var ErrInvalidLimit = errors.New("rate limit must be at least 1 request per minute")

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a client may make another request
type Limiter interface {
	Allow(ctx context.Context, clientID string) (Decision, error)
}

// ============================================================
// In-process limiter
// ============================================================

// LocalLimiter is a per-client token bucket refilled at limit per minute.
// It is used when no Redis URL is configured and as the Redis fallback.
type LocalLimiter struct {
	limit int
	every time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastSweep time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bucketIdleTTL is how long an unused bucket is kept before being swept
const bucketIdleTTL = 10 * time.Minute

// NewLocalLimiter allows limitPerMinute requests per client per minute
func NewLocalLimiter(limitPerMinute int) (*LocalLimiter, error) {
	if limitPerMinute < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limitPerMinute)
	}
	return &LocalLimiter{
		limit:   limitPerMinute,
		every:   time.Minute / time.Duration(limitPerMinute),
		now:     time.Now,
		buckets: make(map[string]*localBucket),
	}, nil
}

// Allow consumes one token for clientID
func (l *LocalLimiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > time.Minute {
		for id, b := range l.buckets {
			if now.Sub(b.lastSeen) > bucketIdleTTL {
				delete(l.buckets, id)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[clientID]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rate.Every(l.every), l.limit)}
		l.buckets[clientID] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   now.Add(l.every),
	}, nil
}

// ============================================================
// Redis-backed distributed limiter
// ============================================================

// RedisLimiter implements a one minute sliding window shared by every
// gateway replica. Each request is a member of a sorted set scored by its
// timestamp. When Redis is unreachable the local limiter answers instead.
type RedisLimiter struct {
	client   *redis.Client
	limit    int
	window   time.Duration
	prefix   string
	fallback *LocalLimiter
	logger   *logger.Logger
}

// NewRedisLimiter wraps an existing client
func NewRedisLimiter(client *redis.Client, limitPerMinute int) (*RedisLimiter, error) {
	fallback, err := NewLocalLimiter(limitPerMinute)
	if err != nil {
		return nil, err
	}
	return &RedisLimiter{
		client:   client,
		limit:    limitPerMinute,
		window:   time.Minute,
		prefix:   "ratelimit:",
		fallback: fallback,
		logger:   logger.New("ratelimit"),
	}, nil
}

// ConnectRedis parses a redis:// URL and verifies the connection
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Allow records the request and reports whether the window is still under the limit
func (l *RedisLimiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	now := time.Now()
	key := l.prefix + clientID

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-l.window).UnixMilli(), 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, 2*l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn(clientID, "", "Redis rate limit check failed, using local limiter", map[string]interface{}{
			"error": err.Error(),
		})
		return l.fallback.Allow(ctx, clientID)
	}

	// count excludes the request just added
	count := int(card.Val())
	remaining := l.limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   now.Add(l.window),
	}, nil
}

// Close releases the Redis client
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// NewLimiter builds the limiter described by cfg. It returns nil when rate
// limiting is disabled. A Redis URL selects the distributed limiter.
func NewLimiter(ctx context.Context, cfg config.ServerConfig) (Limiter, func() error, error) {
	noop := func() error { return nil }
	if cfg.RateLimitPerMinute <= 0 {
		return nil, noop, nil
	}
	if cfg.RedisURL == "" {
		l, err := NewLocalLimiter(cfg.RateLimitPerMinute)
		if err != nil {
			return nil, noop, err
		}
		return l, noop, nil
	}

	client, err := ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, noop, err
	}
	rl, err := NewRedisLimiter(client, cfg.RateLimitPerMinute)
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	return rl, rl.Close, nil
}
