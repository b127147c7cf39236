// Package redis candado distribuido para tareas que solo debe ejecutar una réplica a la vez.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/pkg/config"
)

var _ inventory.Locker = (*Locker)(nil)

// releaseScript borra la clave solo si sigue siendo nuestra (el TTL pudo vencer y otra réplica tomarla).
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// lockClient comandos de *goredis.Client que usa el candado.
type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

// NewClient conecta y verifica con PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("conectar a redis: %w", err)
	}
	return rdb, nil
}

// Locker SET NX con TTL. El TTL acota cuánto queda tomado el candado si la réplica muere a mitad del barrido.
type Locker struct {
	client lockClient
	key    string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewLocker key identifica la tarea (p. ej. "inventario-sync:reservation-sweep").
func NewLocker(client lockClient, key string, ttl time.Duration, log zerolog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Locker{client: client, key: key, ttl: ttl, log: log}
}

// TryLock no espera: si otra réplica tiene el candado devuelve ok=false.
func (l *Locker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis SETNX %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", l.key).Msg("no se pudo liberar el candado; vencerá por TTL")
		}
	}
	return unlock, true, nil
}
