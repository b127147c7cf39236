package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis emula SETNX y el script de liberación sobre un mapa.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{values: make(map[string]string)} }

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *goredis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return goredis.NewCmdResult(int64(1), nil)
	}
	return goredis.NewCmdResult(int64(0), nil)
}

func TestLocker_ExclusionEntreReplicas(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	a := NewLocker(client, "sweep", time.Minute, zerolog.Nop())
	b := NewLocker(client, "sweep", time.Minute, zerolog.Nop())

	unlock, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	unlockB, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	unlockB()
}

// Liberar tarde (el TTL venció y otra réplica tomó la clave) no borra el candado ajeno.
func TestLocker_NoLiberaCandadoAjeno(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	a := NewLocker(client, "sweep", time.Minute, zerolog.Nop())

	unlock, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	client.mu.Lock()
	client.values["sweep"] = "otra-replica"
	client.mu.Unlock()

	unlock()
	assert.Equal(t, "otra-replica", client.values["sweep"])
}

func TestLocker_ErrorDeRedis(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	_, ok, err := NewLocker(client, "sweep", 0, zerolog.Nop()).TryLock(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
