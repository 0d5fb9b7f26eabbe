package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
)

type raceResult struct {
	stats        phaseStats
	winners      int64
	doubleSpends int64
}

// runExchangeRace redeems every code from several goroutines at once. Exactly
// one exchange per code may succeed.
func runExchangeRace(ctx context.Context, engine *goAccess.Engine, clientID, secret string, codes, racers int) (raceResult, []string, error) {
	issued := make([]string, codes)
	for i := range issued {
		code, err := engine.CreateAuthorizationCode(ctx, clientID, fmt.Sprintf("user-%d@example.com", i), benchRedirect, []string{"profile"})
		if err != nil {
			return raceResult{}, nil, err
		}
		issued[i] = code
	}

	var (
		res       raceResult
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, codes*racers)
		tokens    = make([]string, 0, codes)
	)

	start := time.Now()
	for _, code := range issued {
		var (
			wg   sync.WaitGroup
			wins int64
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t0 := time.Now()
				resp, err := engine.ExchangeCodeForToken(ctx, goAccess.TokenRequest{
					GrantType:    "authorization_code",
					Code:         code,
					RedirectURI:  benchRedirect,
					ClientID:     clientID,
					ClientSecret: secret,
				})
				d := time.Since(t0)

				mu.Lock()
				defer mu.Unlock()
				latencies = append(latencies, d)
				switch {
				case err == nil:
					wins++
					tokens = append(tokens, resp.AccessToken)
				case !errors.Is(err, goAccess.ErrInvalidGrant):
					failures++
				}
			}()
		}
		wg.Wait()
		res.winners += min(wins, 1)
		if wins > 1 {
			res.doubleSpends += wins - 1
		}
	}
	res.stats = computeStats(time.Since(start), latencies, failures)
	return res, tokens, nil
}

func runVerifyPhase(ctx context.Context, engine *goAccess.Engine, tokens []string, ops, concurrency int) phaseStats {
	if len(tokens) == 0 {
		return phaseStats{}
	}
	return runWorkers(ops, concurrency, 7919, func(r *rand.Rand) error {
		_, err := engine.VerifyAccessToken(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
}

type gateResult struct {
	stats   phaseStats
	allowed int64
	limited int64
	// budget is the most admissions the windows allow; 0 when unlimited.
	budget int64
}

// runGatePhase hammers the API-key gate. Rate-limited calls are expected
// and not counted as failures.
func runGatePhase(ctx context.Context, engine *goAccess.Engine, keys, rpm, ops, concurrency int) (gateResult, error) {
	secrets := make([]string, keys)
	for i := range secrets {
		limit := rpm
		issued, err := engine.CreateAPIKey(ctx, benchAdmin, goAccess.APIKeySpec{
			Name:         fmt.Sprintf("bench-%d", i),
			Permissions:  []string{"users.read"},
			RateLimitRPM: &limit,
		})
		if err != nil {
			return gateResult{}, err
		}
		secrets[i] = issued.Secret
	}

	var res gateResult
	start := time.Now()
	res.stats = runWorkers(ops, concurrency, 6151, func(r *rand.Rand) error {
		_, err := engine.AuthorizeAPIKey(ctx, goAccess.GateRequest{
			Credential: secrets[r.Intn(len(secrets))],
			Required:   []string{"users.read"},
			Action:     "bench",
		})
		switch {
		case err == nil:
			atomic.AddInt64(&res.allowed, 1)
			return nil
		case errors.Is(err, goAccess.ErrRateLimited):
			atomic.AddInt64(&res.limited, 1)
			return nil
		default:
			return err
		}
	})
	if rpm > 0 {
		windows := int64(time.Since(start)/time.Minute) + 1
		res.budget = int64(keys) * int64(rpm) * windows
	}
	return res, nil
}

// runWorkers runs op ops times across concurrency goroutines.
func runWorkers(ops, concurrency int, seed int64, op func(r *rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
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
