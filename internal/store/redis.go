package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// ConnSource hands out connections; *redis.Pool satisfies it.
type ConnSource interface {
	GetContext(ctx context.Context) (redis.Conn, error)
}

type RedisOptions struct {
	Address     string
	Password    string
	DB          int
	MaxIdle     int
	IdleTimeout time.Duration
}

// NewPool builds a redigo pool and checks one connection.
func NewPool(ctx context.Context, opts RedisOptions) (*redis.Pool, error) {
	log.L(ctx).Infof("Connecting to redis at %s db %d", opts.Address, opts.DB)
	pool := &redis.Pool{
		MaxIdle:     opts.MaxIdle,
		MaxActive:   0,
		Wait:        true,
		IdleTimeout: opts.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", opts.Address,
				redis.DialPassword(opts.Password),
				redis.DialDatabase(opts.DB),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	conn, err := pool.GetContext(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("redis init: %w", err)
	}
	_ = conn.Close()
	return pool, nil
}

// redisRegistry keeps the registry in one hash: name -> JSON entry.
type redisRegistry struct {
	conns ConnSource
	hash  string
}

func NewRedis(conns ConnSource, prefix string) Registry {
	return &redisRegistry{conns: conns, hash: prefix + "contracts"}
}

func (r *redisRegistry) Put(ctx context.Context, e *Entry) error {
	cp := *e
	cp.Name = key(e.Name)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	value, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	conn, err := r.conns.GetContext(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	if _, err := conn.Do("HSET", r.hash, cp.Name, value); err != nil {
		return fmt.Errorf("redis HSET %s: %w", cp.Name, err)
	}
	return nil
}

func (r *redisRegistry) Get(ctx context.Context, name string) (*Entry, error) {
	conn, err := r.conns.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = conn.Close()
	}()
	reply, err := redis.Bytes(conn.Do("HGET", r.hash, key(name)))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET %s: %w", name, err)
	}
	var e Entry
	if err := json.Unmarshal(reply, &e); err != nil {
		return nil, fmt.Errorf("corrupt registry entry %s: %w", name, err)
	}
	return &e, nil
}

func (r *redisRegistry) List(ctx context.Context) ([]*Entry, error) {
	conn, err := r.conns.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = conn.Close()
	}()
	reply, err := redis.StringMap(conn.Do("HGETALL", r.hash))
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL: %w", err)
	}
	out := make([]*Entry, 0, len(reply))
	for name, raw := range reply {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			log.L(ctx).Warnf("Skipping corrupt registry entry %s: %v", name, err)
			continue
		}
		out = append(out, &e)
	}
	sortEntries(out)
	return out, nil
}
