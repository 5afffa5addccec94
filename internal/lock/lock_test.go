package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestLocalAcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(time.Minute)

	release, err := l.Acquire(ctx, "candidate:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := l.Acquire(ctx, "candidate:1"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	other, err := l.Acquire(ctx, "candidate:2")
	if err != nil {
		t.Fatalf("independent keys must not block: %v", err)
	}
	other()

	release()
	release()

	again, err := l.Acquire(ctx, "candidate:1")
	if err != nil {
		t.Fatalf("expected lock to be free after release: %v", err)
	}
	again()
}

func TestLocalLockExpires(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocal(time.Minute)
	l.now = func() time.Time { return clock }

	stale, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	fresh, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("expected expired lock to be taken over: %v", err)
	}

	stale()
	if _, err := l.Acquire(ctx, "k"); !errors.Is(err, ErrHeld) {
		t.Fatalf("stale release must not free the new holder, got %v", err)
	}
	fresh()
}

func TestNewWithoutRedisIsLocal(t *testing.T) {
	locker, closeFn, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer closeFn()

	if _, ok := locker.(*Local); !ok {
		t.Fatalf("expected local locker, got %T", locker)
	}
}

// fakeRedis keeps string keys in memory and runs the lock scripts by hash.
type fakeRedis struct {
	redis.UniversalClient

	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	extends chan string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values:  make(map[string]string),
		ttls:    make(map[string]time.Duration),
		extends: make(chan string, 16),
	}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, token := keys[0], fmt.Sprint(args[0])
	if f.values[key] != token {
		return redis.NewCmdResult(int64(0), nil)
	}

	switch sha {
	case releaseScript.Hash():
		delete(f.values, key)
		delete(f.ttls, key)
	case extendScript.Hash():
		f.ttls[key] = time.Duration(args[1].(int64)) * time.Millisecond
		select {
		case f.extends <- key:
		default:
		}
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script %s", sha))
	}
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeRedis) ttl(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

func (f *fakeRedis) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
}

func TestRedisAcquireRelease(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	l := NewRedis(client, time.Minute)

	release, err := l.Acquire(ctx, "candidate:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, ok := client.get(keyPrefix + "candidate:1"); !ok {
		t.Fatalf("expected the key to be set under %q", keyPrefix)
	}
	if ttl := client.ttl(keyPrefix + "candidate:1"); ttl != time.Minute {
		t.Fatalf("expected SET NX with the configured ttl, got %v", ttl)
	}

	if _, err := l.Acquire(ctx, "candidate:1"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	release()
	release()

	if _, ok := client.get(keyPrefix + "candidate:1"); ok {
		t.Fatalf("expected the key to be deleted on release")
	}
	again, err := l.Acquire(ctx, "candidate:1")
	if err != nil {
		t.Fatalf("expected lock to be free after release: %v", err)
	}
	again()
}

func TestRedisReleaseLeavesForeignHolder(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	l := NewRedis(client, time.Minute)

	release, err := l.Acquire(ctx, "chat:7")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// our key expired and another process took it
	client.set(keyPrefix+"chat:7", "someone-else")
	release()

	if v, _ := client.get(keyPrefix + "chat:7"); v != "someone-else" {
		t.Fatalf("release must not delete a key owned by another token, got %q", v)
	}
}

func TestRedisExtendsHeldLock(t *testing.T) {
	client := newFakeRedis()
	l := NewRedis(client, 30*time.Millisecond)

	release, err := l.Acquire(context.Background(), "candidate:slow")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	select {
	case key := <-client.extends:
		if key != keyPrefix+"candidate:slow" {
			t.Fatalf("unexpected key extended: %s", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the held lock to be extended")
	}

	release()
	if _, ok := client.get(keyPrefix + "candidate:slow"); ok {
		t.Fatalf("expected the key to be deleted on release")
	}
}

func TestRedisLockerAgainstServer(t *testing.T) {
	addr := os.Getenv("HR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set HR_TEST_REDIS_ADDR to run against a redis server")
	}

	ctx := context.Background()
	locker, closeLocker, err := New(ctx, Config{RedisAddr: addr, TTL: 5 * time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer closeLocker()

	if _, ok := locker.(*Redis); !ok {
		t.Fatalf("expected a redis locker, got %T", locker)
	}

	key := "test:" + uuid.NewString()
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, key); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	release()

	again, err := locker.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("expected lock to be free after release: %v", err)
	}
	again()
}
