package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_key.lua
var claimKeyScript string

//go:embed scripts/complete_key.lua
var completeKeyScript string

//go:embed scripts/set_flow.lua
var setFlowScript string

const pendingMarker = "__pending__"

var (
	// ErrInFlight is returned when a request with the same idempotency key is still running
	ErrInFlight = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused is returned when an idempotency key comes back with a different request
	ErrKeyReused = errors.New("idempotency key was used for a different request")
)

type Client struct {
	rdb            *redis.Client
	claimScript    *redis.Script
	completeScript *redis.Script
	setFlowScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		claimScript:    redis.NewScript(claimKeyScript),
		completeScript: redis.NewScript(completeKeyScript),
		setFlowScript:  redis.NewScript(setFlowScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// flow keys of a sku share a hash slot
func flowKey(sku string) string {
	return fmt.Sprintf("flow:{%s}", sku)
}

func flowGenerationKey(sku string) string {
	return fmt.Sprintf("flow:{%s}:gen", sku)
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// GetFlow reads a cached flow graph variant of a sku
func (c *Client) GetFlow(ctx context.Context, sku, variant string) ([]byte, bool, error) {
	payload, err := c.rdb.HGet(ctx, flowKey(sku), variant).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// FlowGeneration returns the invalidation counter of a sku; a sku never invalidated is at 0
func (c *Client) FlowGeneration(ctx context.Context, sku string) (int64, error) {
	gen, err := c.rdb.Get(ctx, flowGenerationKey(sku)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetFlow caches a flow graph variant built at generation. The write is dropped,
// and false returned, when the sku was invalidated after that generation was read.
// All variants of a sku share one TTL.
func (c *Client) SetFlow(ctx context.Context, sku, variant string, generation int64, payload []byte, ttl time.Duration) (bool, error) {
	stored, err := c.setFlowScript.Run(ctx, c.rdb,
		[]string{flowKey(sku), flowGenerationKey(sku)},
		variant, payload, ttl.Milliseconds(), generation,
	).Int()
	if err != nil {
		return false, fmt.Errorf("set flow script failed: %w", err)
	}
	return stored == 1, nil
}

// InvalidateSKU drops every cached flow graph of a sku and bumps its generation
func (c *Client) InvalidateSKU(ctx context.Context, sku string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, flowGenerationKey(sku))
	pipe.Del(ctx, flowKey(sku))

	_, err := pipe.Exec(ctx)
	return err
}

// Claim reserves an idempotency key for the request identified by fingerprint.
// It returns claimed=true for the first caller; later callers get the stored response,
// ErrInFlight while the first is running, or ErrKeyReused when their fingerprint differs.
func (c *Client) Claim(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, []byte, error) {
	result, err := c.claimScript.Run(ctx, c.rdb, []string{idempotencyKey(key)}, pendingMarker, fingerprint, ttl.Milliseconds()).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("claim script failed: %w", err)
	}

	fields, ok := result.([]interface{})
	if !ok || len(fields) != 2 {
		return false, nil, fmt.Errorf("unexpected script result type")
	}
	claimedBy, _ := fields[0].(string)
	stored, _ := fields[1].(string)
	if stored == pendingMarker {
		return false, nil, ErrInFlight
	}
	if claimedBy != fingerprint {
		return false, nil, ErrKeyReused
	}
	return false, []byte(stored), nil
}

// Complete stores the response of a claimed key
func (c *Client) Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	_, err := c.completeScript.Run(ctx, c.rdb, []string{idempotencyKey(key)}, pendingMarker, payload, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("complete script failed: %w", err)
	}
	return nil
}

// Release forgets a claimed key so the request can be retried
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}
