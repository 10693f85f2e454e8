// Package registry is the shared step registry: a redis-backed index of
// steps currently in progress, plus the distributed leases that enforce
// at-most-one worker per step across replicas.
//
// The registry is advisory. Any disagreement with the database is resolved
// in favor of the database, and every cache error is non-fatal to callers.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seqlab/nanotrack/pkg/models"
)

// ErrUnavailable is returned when redis cannot be reached. Callers treat it
// as a cache miss and fall back to the persistence adapter.
var ErrUnavailable = errors.New("step registry unavailable")

const (
	stepKeyPrefix  = "nanotrack:step:"
	leaseKeyPrefix = "nanotrack:lease:"
)

// renewScript extends a lease only when the caller still holds it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// releaseScript deletes a lease only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Registry is the redis-backed step registry.
type Registry struct {
	client *redis.Client
}

// Config holds redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Registry{client: client}, nil
}

// NewFromClient wraps an existing redis client (used by tests with miniredis).
func NewFromClient(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// Close releases the redis connection pool.
func (r *Registry) Close() error { return r.client.Close() }

// Ping probes redis reachability for health checks.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Put upserts a step record with an explicit TTL. Idempotent.
func (r *Registry) Put(ctx context.Context, step *models.ProcessingStep, ttl time.Duration) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshaling step %s: %w", step.ID, err)
	}
	if err := r.client.Set(ctx, stepKeyPrefix+step.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, step.ID, err)
	}
	return nil
}

// Get returns the cached step record, or (nil, nil) when absent.
func (r *Registry) Get(ctx context.Context, stepID string) (*models.ProcessingStep, error) {
	data, err := r.client.Get(ctx, stepKeyPrefix+stepID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, stepID, err)
	}
	var step models.ProcessingStep
	if err := json.Unmarshal(data, &step); err != nil {
		return nil, fmt.Errorf("unmarshaling cached step %s: %w", stepID, err)
	}
	return &step, nil
}

// Delete removes a step record. Idempotent.
func (r *Registry) Delete(ctx context.Context, stepID string) error {
	if err := r.client.Del(ctx, stepKeyPrefix+stepID).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, stepID, err)
	}
	return nil
}

// AcquireLease attempts to take the lease for a step. It succeeds only when
// no lease exists or the previous lease has expired.
func (r *Registry) AcquireLease(ctx context.Context, stepID, holderID string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, leaseKeyPrefix+stepID, holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: acquire lease %s: %v", ErrUnavailable, stepID, err)
	}
	return ok, nil
}

// RenewLease extends the lease TTL, but only for the current holder.
func (r *Registry) RenewLease(ctx context.Context, stepID, holderID string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, r.client,
		[]string{leaseKeyPrefix + stepID}, holderID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: renew lease %s: %v", ErrUnavailable, stepID, err)
	}
	return n == 1, nil
}

// ReleaseLease drops the lease if held by holderID. Idempotent.
func (r *Registry) ReleaseLease(ctx context.Context, stepID, holderID string) error {
	if _, err := releaseScript.Run(ctx, r.client,
		[]string{leaseKeyPrefix + stepID}, holderID).Int(); err != nil {
		return fmt.Errorf("%w: release lease %s: %v", ErrUnavailable, stepID, err)
	}
	return nil
}

// RevokeLease unconditionally removes the lease, regardless of holder.
// Used by pause and by deadline enforcement.
func (r *Registry) RevokeLease(ctx context.Context, stepID string) error {
	if err := r.client.Del(ctx, leaseKeyPrefix+stepID).Err(); err != nil {
		return fmt.Errorf("%w: revoke lease %s: %v", ErrUnavailable, stepID, err)
	}
	return nil
}

// LeaseHolder returns the current holder id, or "" when no lease exists.
func (r *Registry) LeaseHolder(ctx context.Context, stepID string) (string, error) {
	holder, err := r.client.Get(ctx, leaseKeyPrefix+stepID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: lease holder %s: %v", ErrUnavailable, stepID, err)
	}
	return holder, nil
}

// Rehydrate re-puts every in-progress step, sizing each TTL from the step's
// estimated duration. Called on orchestrator start after reading the
// authoritative rows from the database.
func (r *Registry) Rehydrate(ctx context.Context, steps []*models.ProcessingStep, ttlMultiplier float64) {
	for _, step := range steps {
		ttl := time.Duration(step.EstimatedDurationHours * ttlMultiplier * float64(time.Hour))
		if err := r.Put(ctx, step, ttl); err != nil {
			slog.Warn("Failed to rehydrate step into registry",
				"step_id", step.ID, "error", err)
		}
	}
}
