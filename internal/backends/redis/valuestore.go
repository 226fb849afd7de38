package redis

import (
	"context"
	"errors"
	"fmt"
	"posgate/internal/types"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	valueKeyNameTemplate = "_posgate_val_%s"
	deleteBatchSize      = 512
)

// ValueStore implements ports.ValueStore with one Redis string per cache
// key, expired by Redis itself.
type ValueStore struct {
	cli *redis.Client
}

func NewValueStore(cli *redis.Client) *ValueStore {
	return &ValueStore{cli: cli}
}

func (s *ValueStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.cli.Get(ctx, getValueKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.ErrNotFound
		}
		return nil, types.Err(types.ErrDataStoreAccess, err, "")
	}
	return b, nil
}

// Set stores value for ttl. A non-positive ttl stores nothing, since Redis
// would otherwise keep the key forever.
func (s *ValueStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.cli.Set(ctx, getValueKey(key), value, ttl).Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *ValueStore) Delete(ctx context.Context, key string) error {
	if err := s.cli.Del(ctx, getValueKey(key)).Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *ValueStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := scanKeys(ctx, s.cli, getValueKey(escapeGlob(prefix)+"*"))
	if err != nil {
		return 0, err
	}
	deleted := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		n, err := s.cli.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, types.Err(types.ErrDataStoreAccess, err, "")
		}
		deleted += int(n)
	}
	return deleted, nil
}

func getValueKey(key string) string {
	return fmt.Sprintf(valueKeyNameTemplate, key)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
