//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"testing"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/credstore/redisstore"
	"github.com/MrEthical07/goVerify/credstore/sqlstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const integrationPassword = "correct horse battery"

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the Redis backends to test. miniredis is always
// available; a real server is added when REDIS_ADDR is set.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}
	return modes
}

type seedingStore interface {
	goVerify.CredentialStore
	credstore.Seeder
}

// storeBackends returns one user store per reference adapter.
func storeBackends(t *testing.T, rdb redis.UniversalClient) map[string]seedingStore {
	t.Helper()
	sql, err := sqlstore.Open(t.TempDir()+"/gv.db", "user")
	if err != nil {
		t.Fatalf("sqlstore: %v", err)
	}
	t.Cleanup(func() { _ = sql.Close() })

	return map[string]seedingStore{
		"redisstore": redisstore.New(rdb, "it:cred:user"),
		"sqlstore":   sql,
	}
}

func newIntegrationEngine(t *testing.T, rdb redis.UniversalClient, users seedingStore) *goVerify.Engine {
	t.Helper()
	cfg := goVerify.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("integration-secret-0123456789abcdef")
	cfg.Password.Algorithm = "argon2id"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false

	engine, err := goVerify.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithAdminStore(redisstore.New(rdb, "it:cred:admin")).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.HashPassword(integrationPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := users.PutPrincipal(context.Background(), credstore.Principal{
		ID:           "it-1",
		Email:        "it@example.com",
		PasswordHash: hash,
		Active:       true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return engine
}
