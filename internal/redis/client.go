// Package redis provides a resilient client to the shared remote
// cache/counter store: bounded connection pool, retry with exponential
// backoff on transient failures, and a circuit breaker that fails fast
// once the store is deemed unhealthy.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/digitalboi0/Template-man/internal/circuitbreaker"
	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/common/utils"
)

// Client wraps go-redis with retry and circuit-breaking behavior. All
// failures surface as typed errors so callers can distinguish "cache
// unusable, fall back to the source of truth" from a logical miss.
type Client struct {
	rdb     *redis.Client
	config  *Config
	breaker *circuitbreaker.CircuitBreaker
	retry   utils.RetryConfig
	logger  logging.Logger
}

// Config holds connection and resilience settings for the store client.
type Config struct {
	Address       string        `json:"address"`
	Password      string        `json:"password"`
	DB            int           `json:"db"`
	PoolSize      int           `json:"pool_size"`
	SocketTimeout time.Duration `json:"socket_timeout"`

	// Retry policy for transient failures. Zero value gets a bounded default.
	Retry utils.RetryConfig `json:"-"`

	// Breaker configures the circuit breaker. Zero value gets defaults.
	Breaker circuitbreaker.Config `json:"-"`
}

// HealthStatus is the structured result of HealthCheck. It is plain data
// consumed by the health-reporting layer and never carries an error value.
type HealthStatus struct {
	Status       string `json:"status"`
	Detail       string `json:"detail,omitempty"`
	CircuitState string `json:"circuit_state"`
	PoolHits     uint32 `json:"pool_hits"`
	PoolMisses   uint32 `json:"pool_misses"`
	PoolTotal    uint32 `json:"pool_total_conns"`
	PoolIdle     uint32 `json:"pool_idle_conns"`
}

// NewClient creates a store client and verifies connectivity with a ping.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, apperrors.ConfigError("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 50
	}
	if config.SocketTimeout == 0 {
		config.SocketTimeout = 5 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		}
	}
	// Retries only apply to transient failures, never to logical results.
	config.Retry.RetryableErrors = IsTransient

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.SocketTimeout,
		ReadTimeout:  config.SocketTimeout,
		WriteTimeout: config.SocketTimeout,
		MaxRetries:   -1, // retries are handled here, not inside go-redis
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.SocketTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, apperrors.StoreUnavailableError("failed to connect to Redis", err)
	}

	breakerConfig := config.Breaker
	if breakerConfig.MaxFailures == 0 {
		breakerConfig = circuitbreaker.DefaultConfig()
	}

	client := &Client{
		rdb:     rdb,
		config:  config,
		breaker: circuitbreaker.New("redis", breakerConfig),
		retry:   config.Retry,
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "redis"}),
	}

	client.breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		client.logger.Warn("Circuit breaker state changed",
			logging.Field{Key: "breaker", Value: name},
			logging.Field{Key: "from", Value: from.String()},
			logging.Field{Key: "to", Value: to.String()},
		)
	})

	return client, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get retrieves a value. The second return value is false when the key is
// absent - a logical miss, not an error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool

	err := c.do(ctx, "get", func(opCtx context.Context) error {
		result, err := c.rdb.Get(opCtx, key).Result()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		value = result
		found = true
		return nil
	})

	return value, found, err
}

// Set stores a value with a TTL. Strings and byte slices are stored as-is;
// anything else is JSON-encoded.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var data []byte
	var err error

	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return apperrors.InternalError("failed to marshal value", err)
		}
	}

	return c.do(ctx, "set", func(opCtx context.Context) error {
		return c.rdb.Set(opCtx, key, data, ttl).Err()
	})
}

// Incr atomically increments a counter and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	var value int64

	err := c.do(ctx, "incr", func(opCtx context.Context) error {
		result, err := c.rdb.Incr(opCtx, key).Result()
		if err != nil {
			return err
		}
		value = result
		return nil
	})

	return value, err
}

// Delete removes one or more keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return c.do(ctx, "delete", func(opCtx context.Context) error {
		return c.rdb.Del(opCtx, keys...).Err()
	})
}

// Expire sets a TTL on an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.do(ctx, "expire", func(opCtx context.Context) error {
		return c.rdb.Expire(opCtx, key, ttl).Err()
	})
}

// Ping verifies connectivity without going through retry or the breaker.
func (c *Client) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.SocketTimeout)
	defer cancel()
	return c.rdb.Ping(opCtx).Err()
}

// HealthCheck returns a structured status for the health-reporting layer.
// It never returns an error.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	poolStats := c.rdb.PoolStats()
	status := HealthStatus{
		CircuitState: c.breaker.State().String(),
		PoolHits:     poolStats.Hits,
		PoolMisses:   poolStats.Misses,
		PoolTotal:    poolStats.TotalConns,
		PoolIdle:     poolStats.IdleConns,
	}

	if err := c.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Detail = err.Error()
		return status
	}

	status.Status = "healthy"
	return status
}

// BreakerState exposes the current circuit state for diagnostics.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// do runs a store operation through the circuit breaker and the retry
// policy. A half-open circuit is probed with a fresh ping before the
// operation is allowed through.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if !c.breaker.Allow() {
		return apperrors.CircuitOpenError("redis")
	}

	if c.breaker.State() == circuitbreaker.StateHalfOpen {
		if err := c.Ping(ctx); err != nil {
			c.breaker.RecordFailure()
			return apperrors.StoreUnavailableError(
				fmt.Sprintf("redis %s: half-open probe failed", op), err)
		}
	}

	err := utils.RetryWithBackoff(ctx, c.retry, func() error {
		opCtx, cancel := context.WithTimeout(ctx, c.config.SocketTimeout)
		defer cancel()
		return fn(opCtx)
	})

	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Warn("Redis operation failed",
			logging.Field{Key: "operation", Value: op},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return apperrors.StoreUnavailableError(fmt.Sprintf("redis %s failed", op), err)
	}

	c.breaker.RecordSuccess()
	return nil
}

// IsTransient reports whether an error is a connection or timeout failure
// eligible for retry. Logical errors and cancellations are not transient.
func IsTransient(err error) bool {
	if err == nil || err == redis.Nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Wrapped retry errors keep their transient cause
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
