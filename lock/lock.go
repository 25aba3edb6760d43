// Package lock provides the per-project advisory lock taken around live-pointer promotion.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const CName = "publish.lock"

var log = logger.NewNamed(CName)

var ErrNotAcquired = errors.New("lock not acquired")

const retryInterval = 100 * time.Millisecond

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func New() Locker {
	return new(locker)
}

type configGetter interface {
	GetRedis() Config
}

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Db       int    `yaml:"db"`
}

type Locker interface {
	// Lock blocks until key is acquired or ctx is done. The lock expires after ttl
	// if the holder never calls unlock. unlock may be called more than once.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	app.ComponentRunnable
}

type locker struct {
	client *redis.Client
	local  *localLocks
}

func (l *locker) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configGetter).GetRedis()
	if conf.Addr == "" {
		l.local = newLocalLocks()
		return
	}
	l.client = redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.Db,
	})
	return
}

func (l *locker) Name() (name string) {
	return CName
}

func (l *locker) Run(ctx context.Context) (err error) {
	if l.client == nil {
		log.Warn("redis is not configured, using in-process locks")
		return
	}
	return l.client.Ping(ctx).Err()
}

func (l *locker) Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error) {
	if l.client == nil {
		return l.local.lock(ctx, key)
	}
	token := uuid.NewString()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil {
						log.Warn("can't release lock", zap.String("key", key), zap.Error(err))
					}
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *locker) Close(ctx context.Context) (err error) {
	if l.client != nil {
		return l.client.Close()
	}
	return
}

type localLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLocalLocks() *localLocks {
	return &localLocks{locks: map[string]chan struct{}{}}
}

func (l *localLocks) lock(ctx context.Context, key string) (unlock func(), err error) {
	for {
		l.mu.Lock()
		held, ok := l.locks[key]
		if !ok {
			ch := make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-held:
		}
	}
}
