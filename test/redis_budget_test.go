//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/goVerify/credstore/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis Hook that counts Redis round-trips.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// One pipeline is one network round-trip regardless of command count.
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

func newCountedClient(t *testing.T) (*redis.Client, *cmdCounter) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	counter := &cmdCounter{}
	rdb.AddHook(counter)
	// Warm the connection so handshake commands are not counted.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter.Reset()
	return rdb, counter
}

// TestValidateSessionRedisBudget verifies that strict validation is a single
// Lua call once the script is cached.
func TestValidateSessionRedisBudget(t *testing.T) {
	rdb, counter := newCountedClient(t)
	ctx := context.Background()
	engine := newIntegrationEngine(t, rdb, redisstore.New(rdb, "it:cred:user"))
	realm := engine.Users()

	sess, err := realm.LoginWithPassword(ctx, "it@example.com", integrationPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	counter.Reset()
	if _, err := realm.ValidateSession(ctx, sess.Token); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// EVALSHA, then EVAL on a script cache miss.
	if cmds := counter.Commands(); cmds > 2 {
		t.Errorf("first ValidateSession used %d Redis commands; budget is 2", cmds)
	}

	counter.Reset()
	if _, err := realm.ValidateSession(ctx, sess.Token); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("cached ValidateSession used %d Redis commands; budget is 1", cmds)
	}
}

// TestParseSessionTouchesNoRedis verifies that signature-only checks never
// reach the backend.
func TestParseSessionTouchesNoRedis(t *testing.T) {
	rdb, counter := newCountedClient(t)
	ctx := context.Background()
	engine := newIntegrationEngine(t, rdb, redisstore.New(rdb, "it:cred:user"))

	sess, err := engine.Users().LoginWithPassword(ctx, "it@example.com", integrationPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	counter.Reset()
	if _, err := engine.Users().ParseSession(sess.Token); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmds := counter.Commands(); cmds != 0 {
		t.Errorf("ParseSession used %d Redis commands; expected none", cmds)
	}
}

// TestLogoutRedisBudget verifies that single logout is one write.
func TestLogoutRedisBudget(t *testing.T) {
	rdb, counter := newCountedClient(t)
	ctx := context.Background()
	engine := newIntegrationEngine(t, rdb, redisstore.New(rdb, "it:cred:user"))

	sess, err := engine.Users().LoginWithPassword(ctx, "it@example.com", integrationPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	counter.Reset()
	if err := engine.Users().Logout(ctx, sess.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("Logout used %d Redis commands; budget is 1", cmds)
	}
}
