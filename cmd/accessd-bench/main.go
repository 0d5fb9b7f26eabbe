// Command accessd-bench drives an engine under concurrency: racing code
// exchanges, token verification and API-key gate throughput.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/storemem"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	benchAdmin    = "bench@example.com"
	benchRedirect = "https://bench.example.com/callback"
)

func main() {
	var (
		codes       = flag.Int("codes", 2000, "authorization codes raced in the exchange phase")
		racers      = flag.Int("racers", 8, "concurrent exchanges per code")
		keys        = flag.Int("keys", 50, "API keys in the gate phase")
		rpm         = flag.Int("rpm", 600, "rate limit per key (0 is unlimited)")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (verify + gate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *codes <= 0 || *racers <= 0 || *keys <= 0 || *concurrency <= 0 || *ops <= 0 || *rpm < 0 {
		fmt.Fprintln(os.Stderr, "codes, racers, keys, concurrency and ops must be > 0; rpm must be >= 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	var client *redis.Client
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := newEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if _, err := engine.BootstrapAdmin(ctx, benchAdmin); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap admin: %v\n", err)
		os.Exit(1)
	}
	app, secret, err := engine.RegisterClient(ctx, goAccess.ClientRegistration{
		Name:          "bench",
		RedirectURIs:  []string{benchRedirect},
		AllowedScopes: []string{"profile", "email"},
		AllowAnyone:   true,
		CreatedBy:     benchAdmin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "register client: %v\n", err)
		os.Exit(1)
	}

	race, tokens, err := runExchangeRace(ctx, engine, app.ID, secret, *codes, *racers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "exchange phase: %v\n", err)
		os.Exit(1)
	}
	verifyStats := runVerifyPhase(ctx, engine, tokens, *ops, *concurrency)
	gate, err := runGatePhase(ctx, engine, *keys, *rpm, *ops, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gate phase: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("exchange", race.stats)
	fmt.Printf("exchange: codes=%d winners=%d double_spends=%d\n", *codes, race.winners, race.doubleSpends)
	printStats("verify", verifyStats)
	printStats("gate", gate.stats)
	fmt.Printf("gate: allowed=%d limited=%d budget=%d\n", gate.allowed, gate.limited, gate.budget)

	if race.doubleSpends > 0 || (gate.budget > 0 && gate.allowed > gate.budget) {
		fmt.Fprintln(os.Stderr, "invariant violated")
		os.Exit(1)
	}
}

func newEngine(client *redis.Client) (*goAccess.Engine, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	cfg := goAccess.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.RateLimit.Backend = goAccess.RateLimitRedis
	cfg.Password = goAccess.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	store := storemem.New()
	return goAccess.New().
		WithConfig(cfg).
		WithRedis(client).
		WithClientRegistry(store).
		WithAdminStore(store).
		WithGrantStore(store).
		WithAPIKeyStore(store).
		Build()
}
