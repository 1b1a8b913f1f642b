package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/credstore/redisstore"
	"github.com/MrEthical07/goVerify/credstore/sqlstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// principalStore is what both reference adapters provide.
type principalStore interface {
	goVerify.CredentialStore
	credstore.Seeder
}

type stores struct {
	users  principalStore
	admins principalStore
	close  func()
}

func (s *stores) forKind(kind goVerify.PrincipalKind) (principalStore, error) {
	switch kind {
	case goVerify.KindUser:
		return s.users, nil
	case goVerify.KindAdmin:
		return s.admins, nil
	default:
		return nil, fmt.Errorf("unknown principal kind %q", kind)
	}
}

// openRedis connects to the configured Redis, or to an in-process
// miniredis when dev is set. The returned func releases both.
func openRedis(ctx context.Context, s settings, dev bool) (redis.UniversalClient, func(), error) {
	if dev {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("starting miniredis: %w", err)
		}
		log.Printf("goverifyd: using in-process redis at %s", mr.Addr())
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}, nil
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{s.RedisAddr},
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", s.RedisAddr, err)
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

// openStores opens one credential store per principal kind on the
// configured backend.
func openStores(s settings, rdb redis.UniversalClient) (*stores, error) {
	switch s.Backend {
	case backendSQLite:
		users, err := sqlstore.Open(s.SQLiteDSN, "user")
		if err != nil {
			return nil, err
		}
		admins, err := sqlstore.Open(s.SQLiteDSN, "admin")
		if err != nil {
			_ = users.Close()
			return nil, err
		}
		return &stores{users: users, admins: admins, close: func() {
			_ = users.Close()
			_ = admins.Close()
		}}, nil
	default:
		if rdb == nil {
			return nil, errors.New("redis backend requires a redis connection")
		}
		return &stores{
			users:  redisstore.New(rdb, s.RedisCredKey+":user"),
			admins: redisstore.New(rdb, s.RedisCredKey+":admin"),
			close:  func() {},
		}, nil
	}
}
