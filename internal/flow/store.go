package flow

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"advertiser-onboarding/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

// ErrSnapshotNotFound is returned by Store.Load when no snapshot exists for a flow.
var ErrSnapshotNotFound = stderrors.New("flow snapshot not found")

// Store is the durable key-value boundary of the controller. It holds at most one
// serialized FlowState per pending flow, the per-flow in-flight lock and a short-lived
// copy of each activated flow.
type Store interface {
	Save(ctx context.Context, flowID string, snapshot []byte, ttl time.Duration) error
	Load(ctx context.Context, flowID string) ([]byte, error)
	// MarkActivated replaces the pending snapshot with the activated one.
	MarkActivated(ctx context.Context, flowID string, snapshot []byte, ttl time.Duration) error
	LoadActivated(ctx context.Context, flowID string) ([]byte, error)
	// AcquireLock takes the lock under token. Only the same token releases it.
	AcquireLock(ctx context.Context, flowID, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, flowID, token string) error
	IsLocked(ctx context.Context, flowID string) (bool, error)
}

const (
	snapshotKeyPrefix  = "onboarding:flow:"
	activatedKeyPrefix = "onboarding:activated:"
	lockKeyPrefix      = "onboarding:lock:"
)

func snapshotKey(flowID string) string  { return snapshotKeyPrefix + flowID }
func activatedKey(flowID string) string { return activatedKeyPrefix + flowID }
func lockKey(flowID string) string      { return lockKeyPrefix + flowID }

// releaseScript deletes the lock only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore keeps snapshots as JSON strings with a TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, flowID string, snapshot []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, snapshotKey(flowID), snapshot, ttl).Err(); err != nil {
		return errors.NewNetworkError("redis", fmt.Errorf("save snapshot %s: %w", flowID, err))
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, flowID string) ([]byte, error) {
	data, err := s.client.Get(ctx, snapshotKey(flowID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, errors.NewNetworkError("redis", fmt.Errorf("load snapshot %s: %w", flowID, err))
	}
	return data, nil
}

func (s *RedisStore) MarkActivated(ctx context.Context, flowID string, snapshot []byte, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, activatedKey(flowID), snapshot, ttl)
		pipe.Del(ctx, snapshotKey(flowID))
		return nil
	})
	if err != nil {
		return errors.NewNetworkError("redis", fmt.Errorf("mark activated %s: %w", flowID, err))
	}
	return nil
}

func (s *RedisStore) LoadActivated(ctx context.Context, flowID string) ([]byte, error) {
	data, err := s.client.Get(ctx, activatedKey(flowID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, errors.NewNetworkError("redis", fmt.Errorf("load activated %s: %w", flowID, err))
	}
	return data, nil
}

// AcquireLock sets the flow lock if nobody holds it. The TTL bounds how long a crashed
// holder can block the flow.
func (s *RedisStore) AcquireLock(ctx context.Context, flowID, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey(flowID), token, ttl).Result()
	if err != nil {
		return false, errors.NewNetworkError("redis", fmt.Errorf("acquire lock %s: %w", flowID, err))
	}
	return ok, nil
}

// ReleaseLock is a no-op once the lock expired and was taken by another holder.
func (s *RedisStore) ReleaseLock(ctx context.Context, flowID, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{lockKey(flowID)}, token).Err(); err != nil {
		return errors.NewNetworkError("redis", fmt.Errorf("release lock %s: %w", flowID, err))
	}
	return nil
}

func (s *RedisStore) IsLocked(ctx context.Context, flowID string) (bool, error) {
	n, err := s.client.Exists(ctx, lockKey(flowID)).Result()
	if err != nil {
		return false, errors.NewNetworkError("redis", fmt.Errorf("check lock %s: %w", flowID, err))
	}
	return n > 0, nil
}
