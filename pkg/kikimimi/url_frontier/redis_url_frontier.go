package url_frontier

import (
	"context"
	"math"
	"time"

	"github.com/gomodule/redigo/redis"
	"golang.org/x/xerrors"
)

const redisQueueKey = "kikimimi:frontier"

// RedisのリストによるURLFrontier。プロセスを跨いでキューを保持できる
type RedisURLFrontier struct {
	pool           *redis.Pool
	timeoutSeconds int
}

func NewRedisURLFrontier(redisURL string, pollInterval time.Duration) (*RedisURLFrontier, error) {
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 60 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(redisURL)
		},
	}

	conn := pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		_ = pool.Close()
		return nil, xerrors.Errorf("failed to connect redis: %w", err)
	}

	// BLPOPのタイムアウトは秒単位。0は無期限になってしまうので最低1秒とする
	timeout := int(math.Ceil(pollInterval.Seconds()))
	if timeout < 1 {
		timeout = 1
	}

	return &RedisURLFrontier{pool: pool, timeoutSeconds: timeout}, nil
}

func (f *RedisURLFrontier) Enqueue(_ context.Context, url string) error {
	conn := f.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("RPUSH", redisQueueKey, url); err != nil {
		return xerrors.Errorf("failed to enqueue: %w", err)
	}

	return nil
}

func (f *RedisURLFrontier) Dequeue(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	conn := f.pool.Get()
	defer conn.Close()

	popped, err := redis.Strings(conn.Do("BLPOP", redisQueueKey, f.timeoutSeconds))
	if err == redis.ErrNil {
		return "", ctx.Err()
	} else if err != nil {
		return "", xerrors.Errorf("failed to dequeue: %w", err)
	}

	// [key, value]
	if len(popped) != 2 {
		return "", xerrors.Errorf("unexpected reply of BLPOP: %v", popped)
	}

	return popped[1], nil
}

func (f *RedisURLFrontier) IsEmpty(_ context.Context) (bool, error) {
	conn := f.pool.Get()
	defer conn.Close()

	length, err := redis.Int(conn.Do("LLEN", redisQueueKey))
	if err != nil {
		return false, xerrors.Errorf("failed to get length of queue: %w", err)
	}

	return length == 0, nil
}

func (f *RedisURLFrontier) Reset() error {
	conn := f.pool.Get()
	defer conn.Close()

	_, err := conn.Do("DEL", redisQueueKey)
	return err
}

func (f *RedisURLFrontier) Finish() error {
	return f.pool.Close()
}
