package rstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

var Logger = logger.GetLogger("rstore")

const (
	// timeout applied to every single store round trip
	defaultOpTimeout = 5 * time.Second

	// batch size hint for SCAN iterations
	scanCount = 100
)

// Options configures the connection to the Redis-compatible server.
type Options struct {
	// Addr is the host:port of the server
	Addr string
	// Password is the optional auth password
	Password string
	// DB is the database number to select
	DB int
	// ConnectTimeout bounds the initial reachability check (0 = 5s)
	ConnectTimeout time.Duration
	// OpTimeout bounds every single operation (0 = 5s)
	OpTimeout time.Duration
}

type storeImpl struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStore creates a new store backed by a Redis-compatible server.
// The server is pinged once during creation: if it is unreachable an error
// with code RetCConnection is returned so the caller can fall back to a
// local store (degraded single-process mode) instead of crashing.
func NewRedisStore(opts Options) (shared.ISharedStore, error) {
	client, opTimeout, err := connect(opts)
	if err != nil {
		return nil, err
	}

	return &storeImpl{
		client:    client,
		opTimeout: opTimeout,
	}, nil
}

// connect creates a client and verifies reachability with a single ping
func connect(opts Options) (*redis.Client, time.Duration, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultOpTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, 0, shared.NewError(shared.RetCConnection,
			fmt.Sprintf("redis at %s unreachable: %v", opts.Addr, err))
	}

	opTimeout := opts.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return client, opTimeout, nil
}

// opCtx returns a context bounding a single store round trip
func (s *storeImpl) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see shared/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	ctx, cancel := s.opCtx()
	defer cancel()

	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return shared.NewError(shared.RetCInternalError, err.Error())
	}
	return nil
}

func (s *storeImpl) SetE(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.opCtx()
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return shared.NewError(shared.RetCInternalError, err.Error())
	}
	return nil
}

func (s *storeImpl) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()

	// SET NX is the atomic CAS primitive the lock manager builds on
	inserted, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, shared.NewError(shared.RetCInternalError, err.Error())
	}
	return inserted, nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()

	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, shared.NewError(shared.RetCInternalError, err.Error())
	}
	return value, true, nil
}

func (s *storeImpl) Delete(key string) error {
	ctx, cancel := s.opCtx()
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return shared.NewError(shared.RetCInternalError, err.Error())
	}
	return nil
}

func (s *storeImpl) Expire(key string, ttl time.Duration) error {
	ctx, cancel := s.opCtx()
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return shared.NewError(shared.RetCInternalError, err.Error())
	}
	return nil
}

func (s *storeImpl) Keys(prefix string) ([]string, error) {
	ctx, cancel := s.opCtx()
	defer cancel()

	// SCAN instead of KEYS so large stores are not blocked
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, shared.NewError(shared.RetCInternalError, err.Error())
	}
	return keys, nil
}

func (s *storeImpl) Close() error {
	return s.client.Close()
}
