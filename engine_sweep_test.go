package goAccess

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweepRemovesExpiredRecords(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	ctx := context.Background()

	staleCode := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")
	usedCode := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")
	if _, err := env.engine.ExchangeCodeForToken(ctx, TokenRequest{
		GrantType: "authorization_code", Code: usedCode, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	}); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	issued := env.createKey(t, 5, "oauth")
	if _, err := env.engine.AuthorizeAPIKey(ctx, GateRequest{Credential: issued.Secret, Required: []string{"oauth"}}); err != nil {
		t.Fatalf("AuthorizeAPIKey: %v", err)
	}

	report, err := env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Total() != 0 {
		t.Fatalf("expected nothing to sweep yet, got %+v", report)
	}

	env.clock.Advance(2 * time.Hour)
	report, err = env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Codes != 2 || report.Tokens != 1 || report.RateQueues != 1 {
		t.Fatalf("unexpected sweep report %+v", report)
	}
	if got := env.engine.metrics.Value(MetricSweepRemoved); got != 4 {
		t.Fatalf("expected 4 removals counted, got %d", got)
	}

	if _, err := env.engine.VerifyAndConsume(ctx, staleCode, "abc", testRedirect); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected swept code to be gone, got %v", err)
	}
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Sweep.Interval = 10 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.engine.RunSweeper(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
