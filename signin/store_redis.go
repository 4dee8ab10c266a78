package signin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisUpdateRetries = 5

// RedisStore keeps flows in Redis as JSON records under prefix:id.
// Update uses WATCH/MULTI so concurrent requests for one flow serialize.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. An empty prefix defaults to "signin".
func NewRedisStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "signin"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":flow:" + id
}

func (s *RedisStore) Create(ctx context.Context, state State) (string, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return "", err
	}

	id := newFlowID()
	ok, err := s.redis.SetNX(ctx, s.key(id), encoded, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: flow id collision", ErrStoreUnavailable)
	}
	return id, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (State, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrFlowNotFound
		}
		return State{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeState(data)
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*State) error) (State, error) {
	key := s.key(id)

	var (
		next  State
		prev  State
		fnErr error
	)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrFlowNotFound
			}
			return err
		}
		if prev, err = decodeState(data); err != nil {
			return err
		}
		next = prev
		if fnErr = fn(&next); fnErr != nil {
			return fnErr
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		fnErr = nil
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return next, nil
		case fnErr != nil:
			return prev, fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrFlowNotFound):
			return State{}, err
		default:
			return State{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return State{}, fmt.Errorf("%w: too much contention on flow", ErrStoreUnavailable)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func decodeState(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("%w: corrupt flow record: %v", ErrStoreUnavailable, err)
	}
	return st, nil
}
