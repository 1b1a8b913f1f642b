package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/credstore/redisstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchSessions    int
	benchConcurrency int
	benchOps         int
	benchRedis       bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure session validation and refresh throughput",
	Long: `Bench seeds sessions through password login and then runs a validate
phase and a refresh phase against them. It uses an in-process Redis unless
--redis is given, in which case it writes under a throwaway key prefix on the
configured server.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&benchSessions, "sessions", 1000, "number of sessions to seed")
	f.IntVar(&benchConcurrency, "concurrency", 64, "number of concurrent workers")
	f.IntVar(&benchOps, "ops", 20000, "operations per phase")
	f.BoolVar(&benchRedis, "redis", false, "run against the configured redis instead of an in-process one")
}

type benchSession struct {
	mu    sync.Mutex
	token string
}

func runBench(cmd *cobra.Command, _ []string) error {
	if benchSessions <= 0 || benchConcurrency <= 0 || benchOps <= 0 {
		return errors.New("sessions, concurrency and ops must be > 0")
	}
	ctx := cmd.Context()
	s := loadSettings(viper.GetViper())

	rdb, release, err := openRedis(ctx, s, !benchRedis)
	if err != nil {
		return err
	}
	defer release()

	cfg := goVerify.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(randomSecret())
	cfg.Session.RedisPrefix = fmt.Sprintf("gvbench%d", time.Now().UnixNano())
	cfg.Password.Algorithm = "argon2id"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false

	users := redisstore.New(rdb, cfg.Session.RedisPrefix+":cred:user")
	engine, err := goVerify.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithAdminStore(redisstore.New(rdb, cfg.Session.RedisPrefix+":cred:admin")).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	const benchPassword = "bench-password"
	hash, err := engine.HashPassword(benchPassword)
	if err != nil {
		return err
	}
	if err := users.PutPrincipal(ctx, credstore.Principal{ID: "bench", Email: "bench@example.invalid", PasswordHash: hash, Active: true}); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "seeding %d sessions...\n", benchSessions)
	start := time.Now()
	states := make([]benchSession, benchSessions)
	for i := range states {
		sess, err := engine.Users().LoginWithPassword(ctx, "bench@example.invalid", benchPassword)
		if err != nil {
			return fmt.Errorf("seeding session %d: %w", i, err)
		}
		states[i].token = sess.Token
	}
	fmt.Fprintf(stdout, "seeded in %s\n", time.Since(start).Round(time.Millisecond))

	realm := engine.Users()
	validate := runPhase(benchOps, benchConcurrency, func(r *rand.Rand) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		token := st.token
		st.mu.Unlock()
		_, err := realm.ValidateSession(ctx, token)
		return err
	})
	refresh := runPhase(benchOps, benchConcurrency, func(r *rand.Rand) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		next, err := realm.RefreshSession(ctx, st.token)
		if err != nil {
			return err
		}
		st.token = next.Token
		return nil
	})

	writeStats(stdout, map[string]phaseStats{"validate": validate, "refresh": refresh})
	return nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for atomic.AddInt64(&cursor, 1) <= int64(ops) {
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func writeStats(w io.Writer, phases map[string]phaseStats) {
	names := make([]string, 0, len(phases))
	for name := range phases {
		names = append(names, name)
	}
	sort.Strings(names)

	table := newTable(w, "Phase", "Ops", "Failures", "Total", "Ops/sec", "p50", "p95", "p99")
	for _, name := range names {
		s := phases[name]
		table.Append([]string{
			name,
			fmt.Sprint(s.ops),
			fmt.Sprint(s.failures),
			s.total.Round(time.Millisecond).String(),
			fmt.Sprintf("%.0f", s.opsPerS),
			s.p50.Round(time.Microsecond).String(),
			s.p95.Round(time.Microsecond).String(),
			s.p99.Round(time.Microsecond).String(),
		})
	}
	table.Render()
}

