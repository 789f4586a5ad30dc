package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// DefaultRedisPrefix namespaces report keys.
const DefaultRedisPrefix = "rice:reports:"

// RedisStore keeps summaries in one sorted set per configuration, scored by
// creation time in milliseconds.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore connects to url and verifies the connection.
func NewRedisStore(url string, retention time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, prefix: DefaultRedisPrefix, retention: retention}, nil
}

func (rs *RedisStore) key(config string) string {
	return rs.prefix + config
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Save adds s and trims entries older than the retention window in one pipeline.
func (rs *RedisStore) Save(ctx context.Context, s *Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return apperrors.StorageError("encoding report", err)
	}

	key := rs.key(s.Config)
	pipe := rs.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: scoreOf(s.CreatedAt), Member: data})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", time.Now().Add(-rs.retention).UnixMilli()))
	pipe.Expire(ctx, key, rs.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StorageError("saving report", err)
	}
	return nil
}

func (rs *RedisStore) Latest(ctx context.Context, config string) (*Summary, error) {
	members, err := rs.client.ZRevRange(ctx, rs.key(config), 0, 0).Result()
	if err != nil {
		return nil, apperrors.StorageError("loading latest report", err)
	}
	if len(members) == 0 {
		return nil, apperrors.NotFoundError("report for config " + config)
	}
	return decodeSummary(members[0])
}

func (rs *RedisStore) History(ctx context.Context, config string, since time.Time) ([]*Summary, error) {
	members, err := rs.client.ZRangeByScore(ctx, rs.key(config), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixMilli()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, apperrors.StorageError("loading report history", err)
	}

	out := make([]*Summary, 0, len(members))
	for _, m := range members {
		s, err := decodeSummary(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (rs *RedisStore) Configs(ctx context.Context) ([]string, error) {
	var names []string
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), rs.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.StorageError("listing report configs", err)
	}
	sort.Strings(names)
	return names, nil
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func decodeSummary(member string) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal([]byte(member), &s); err != nil {
		return nil, apperrors.StorageError("decoding report", err)
	}
	return &s, nil
}
