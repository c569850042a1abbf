package ratelimit

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/config"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/logger"
)

const (
	// redisKeyPrefix namespaces claim-limiter keys in a shared Redis
	redisKeyPrefix = "villa:nickname:claim:"

	// maxDecisionWait caps how long a single claim may sit in the decision
	// queue before it is rejected outright
	maxDecisionWait = 5 * time.Second

	// healthCheckInterval is how often Redis availability is re-probed
	healthCheckInterval = 10 * time.Second
)

// decision wraps the verdict of a rate limit check
type decision struct {
	err error
}

// Limiter bounds claim attempts per owner address
//
//go:generate mockgen -source=limiter.go -destination=../mocks/ratelimit_limiter.go -package=mocks -mock_names=Limiter=MockLimiter
type Limiter interface {
	// Allow consumes one claim attempt for the owner. It returns a
	// domain.RateLimitError carrying the retry hint when the owner is over
	// budget, and nil when the attempt may proceed.
	Allow(ctx context.Context, owner string) error

	// Close gracefully shuts down the limiter
	Close() error
}

// limiter is the concrete implementation of the claim limiter.
// Verdicts come from a Redis GCRA limiter so the budget holds across API
// replicas; a per-owner local limiter takes over when Redis is unreachable.
type limiter struct {
	config         config.ClaimConfig
	pool           pond.ResultPool[*decision]
	distributed    adapter.RedisRateLimiter
	redis          adapter.RedisClient
	clock          adapter.Clock
	limit          redis_rate.Limit
	localLimiters  map[string]*rate.Limiter
	localMu        sync.Mutex
	closed         atomic.Bool
	closeOnce      sync.Once
	redisAvailable atomic.Bool
	stopHealth     chan struct{}
}

// NewLimiter creates a new per-owner claim limiter
func NewLimiter(cfg config.ClaimConfig, rc adapter.RedisClient, clock adapter.Clock) (Limiter, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Test Redis connectivity; the limiter still starts when Redis is down
	// because claims fall back to local limiting rather than hard-failing
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisAvailable := true
	if err := rc.Ping(ctx).Err(); err != nil {
		redisAvailable = false
		logger.Warn("Redis unavailable, claim limiting falls back to local", zap.Error(err))
	}

	maxWorkers := runtime.NumCPU() * 4
	pool := pond.NewResultPool[*decision](
		maxWorkers,
		pond.WithQueueSize(1024),
	)

	l := &limiter{
		config:      cfg,
		pool:        pool,
		distributed: rc.NewRateLimiter(),
		redis:       rc,
		clock:       clock,
		limit: redis_rate.Limit{
			Rate:   cfg.RatePerMinute,
			Burst:  cfg.RateBurst,
			Period: time.Minute,
		},
		localLimiters: make(map[string]*rate.Limiter),
		stopHealth:    make(chan struct{}),
	}
	l.redisAvailable.Store(redisAvailable)

	go l.monitorRedisHealth()

	logger.Info("Claim rate limiter initialized",
		zap.Int("rate_per_minute", cfg.RatePerMinute),
		zap.Int("burst", cfg.RateBurst),
		zap.Int("max_workers", maxWorkers),
		zap.Bool("redis_available", redisAvailable),
	)

	return l, nil
}

// Allow consumes one claim attempt for the owner
func (l *limiter) Allow(ctx context.Context, owner string) error {
	if l.closed.Load() {
		return fmt.Errorf("limiter is closed")
	}

	// Addresses are case-insensitive; key on one casing so 0xAb and 0xab
	// share a budget
	owner = strings.ToLower(owner)

	queueCtx, cancel := context.WithTimeout(ctx, maxDecisionWait)
	defer cancel()

	resultTask := l.pool.Submit(func() *decision {
		return &decision{err: l.decide(queueCtx, owner)}
	})

	result, err := resultTask.Wait()
	if err != nil {
		return err
	}
	return result.err
}

// decide renders a single allow/deny verdict. Unlike an outbound-request
// limiter it never blocks waiting for a token: a claim over budget fails
// immediately with the retry hint.
func (l *limiter) decide(ctx context.Context, owner string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if l.redisAvailable.Load() {
		res, err := l.distributed.Allow(ctx, redisKeyPrefix+owner, l.limit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			// Redis error: mark unavailable and fall through to local
			l.redisAvailable.Store(false)
			logger.Warn("Redis rate limiter error, falling back to local",
				zap.String("owner", owner),
				zap.Error(err),
			)
		} else {
			if res.Allowed == 0 {
				return &domain.RateLimitError{Owner: owner, RetryAfter: res.RetryAfter}
			}
			return nil
		}
	}

	return l.decideLocal(owner)
}

// decideLocal applies the per-owner in-process limiter. The reservation is
// canceled when denied so a rejected claim does not consume budget.
func (l *limiter) decideLocal(owner string) error {
	lim := l.localLimiter(owner)

	now := l.clock.Now()
	reservation := lim.ReserveN(now, 1)
	if !reservation.OK() {
		return &domain.RateLimitError{Owner: owner, RetryAfter: time.Minute}
	}

	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return &domain.RateLimitError{Owner: owner, RetryAfter: delay}
	}

	return nil
}

// localLimiter returns the in-process limiter for an owner, creating it on
// first sight
func (l *limiter) localLimiter(owner string) *rate.Limiter {
	l.localMu.Lock()
	defer l.localMu.Unlock()

	lim, ok := l.localLimiters[owner]
	if !ok {
		perSecond := float64(l.config.RatePerMinute) / 60.0
		lim = rate.NewLimiter(rate.Limit(perSecond), l.config.RateBurst)
		l.localLimiters[owner] = lim
	}
	return lim
}

// monitorRedisHealth periodically re-probes Redis and flips availability back
// on once it recovers
func (l *limiter) monitorRedisHealth() {
	for {
		select {
		case <-l.stopHealth:
			return
		case <-l.clock.After(healthCheckInterval):
		}

		if l.closed.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := l.redis.Ping(ctx).Err()
		cancel()

		redisAvailable := err == nil
		wasAvailable := l.redisAvailable.Load()
		l.redisAvailable.Store(redisAvailable)

		if !wasAvailable && redisAvailable {
			logger.Info("Redis connection restored, distributed claim limiting resumed")
		}
	}
}

// Close gracefully shuts down the limiter.
// It waits for queued decisions to drain before closing Redis.
func (l *limiter) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopHealth)

		tasks := l.pool.Stop()
		if errTasks := tasks.Wait(); errTasks != nil {
			logger.Warn("Error waiting for limiter decisions to drain", zap.Error(errTasks))
			err = errTasks
		}

		if closeErr := l.redis.Close(); closeErr != nil {
			logger.Warn("Error closing Redis connection", zap.Error(closeErr))
			err = closeErr
		}
	})
	return err
}

// validateConfig validates and sets defaults for the configuration
func validateConfig(cfg *config.ClaimConfig) error {
	if cfg.RatePerMinute <= 0 {
		return fmt.Errorf("rate_per_minute must be positive")
	}

	if cfg.RateBurst <= 0 {
		cfg.RateBurst = cfg.RatePerMinute
	}

	return nil
}
