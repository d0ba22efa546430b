// Command accounts-loadtest measures login, resume and refresh throughput of
// the engine over the Redis storage backend. Without a Redis address it runs
// against an in-process miniredis.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/password"
	"github.com/MrEthical07/goAccounts/passwordauth"
	redisstore "github.com/MrEthical07/goAccounts/storage/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type account struct {
	username string
	password string

	mu     sync.Mutex
	tokens goAccounts.Tokens
}

func main() {
	var (
		configPath  = flag.String("config", "", "optional YAML config file")
		users       = flag.Int("users", 0, "number of users to seed")
		concurrency = flag.Int("concurrency", 0, "number of concurrent workers")
		ops         = flag.Int("ops", 0, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; miniredis when empty")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *users > 0 {
		cfg.Users = *users
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *ops > 0 {
		cfg.Ops = *ops
	}
	if *redisAddr != "" {
		cfg.RedisAddr = *redisAddr
	}
	if err := cfg.validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx := context.Background()

	addr := cfg.RedisAddr
	var mr *miniredis.Miniredis
	if addr == "" {
		mr, err = miniredis.Run()
		if err != nil {
			logger.Fatal("start miniredis", zap.Error(err))
		}
		defer mr.Close()
		addr = mr.Addr()
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer func() { _ = rdb.Close() }()
	logger.Info("using redis", zap.String("addr", addr), zap.Bool("miniredis", mr != nil))

	engine, svc, err := buildEngine(cfg, rdb, logger)
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer engine.Close()

	accounts := make([]account, cfg.Users)
	startSeed := time.Now()
	runID := time.Now().UnixNano()
	for i := range accounts {
		accounts[i].username = fmt.Sprintf("load-%d-%d", runID, i)
		accounts[i].password = fmt.Sprintf("pw-%d", i)
		if _, err := svc.CreateUser(ctx, passwordauth.CreateUserParams{
			Username: accounts[i].username,
			Password: accounts[i].password,
		}); err != nil {
			logger.Fatal("seed user", zap.Int("index", i), zap.Error(err))
		}
	}
	logger.Info("seeded users", zap.Int("users", cfg.Users), zap.Duration("took", time.Since(startSeed)))

	login := runPhase(cfg, accounts, func(a *account) error {
		res, err := engine.LoginWithService(ctx, passwordauth.ServiceName, passwordauth.LoginParams{
			User:     a.username,
			Password: a.password,
		}, goAccounts.ConnectionInfo{IP: "127.0.0.1", UserAgent: "accounts-loadtest"})
		if err != nil {
			return err
		}
		a.tokens = res.Tokens
		return nil
	})

	resume := runPhase(cfg, accounts, func(a *account) error {
		_, err := engine.ResumeSession(ctx, a.tokens.AccessToken)
		return err
	})

	refresh := runPhase(cfg, accounts, func(a *account) error {
		res, err := engine.RefreshTokens(ctx, a.tokens.AccessToken, a.tokens.RefreshToken, goAccounts.ConnectionInfo{})
		if err != nil {
			return err
		}
		a.tokens = res.Tokens
		return nil
	})

	logStats(logger, "login", login)
	logStats(logger, "resume", resume)
	logStats(logger, "refresh", refresh)
}

func buildEngine(cfg *config, rdb redis.UniversalClient, logger *zap.Logger) (*goAccounts.Engine, *passwordauth.Service, error) {
	ec := goAccounts.DefaultConfig()
	ec.JWT.PrivateKey = []byte(cfg.SigningKey)
	ec.Metrics.Enabled = true
	ec.Metrics.EnableLatencyHistograms = true

	engine, err := goAccounts.New().
		WithConfig(ec).
		WithDatabase(redisstore.New(rdb, redisstore.WithPrefix(cfg.Prefix))).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, nil, err
	}

	hasher, err := password.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	pc := passwordauth.DefaultConfig()
	pc.RequireEmailVerification = false
	svc, err := passwordauth.New(engine, pc, passwordauth.WithHasher(hasher))
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	if err := engine.RegisterService(svc); err != nil {
		engine.Close()
		return nil, nil, err
	}
	return engine, svc, nil
}

// runPhase runs cfg.Ops calls of op spread over cfg.Concurrency workers.
// Calls on the same account are serialized.
func runPhase(cfg *config, accounts []account, op func(*account) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, cfg.Ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= cfg.Ops {
					return
				}
				a := &accounts[r.Intn(len(accounts))]

				a.mu.Lock()
				t0 := time.Now()
				err := op(a)
				d := time.Since(t0)
				a.mu.Unlock()
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

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
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

func logStats(logger *zap.Logger, phase string, s phaseStats) {
	logger.Info("phase done",
		zap.String("phase", phase),
		zap.Int("ops", s.ops),
		zap.Int64("failures", s.failures),
		zap.Duration("total", s.total),
		zap.Float64("ops_per_sec", s.opsPerS),
		zap.Duration("p50", s.p50),
		zap.Duration("p95", s.p95),
		zap.Duration("p99", s.p99),
	)
}
