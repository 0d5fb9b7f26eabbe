package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/logging"
	"github.com/MrEthical07/goAccess/storemem"
	"github.com/MrEthical07/goAccess/storepg"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// backend is the record store behind every collaborator interface.
type backend interface {
	goAccess.ClientRegistry
	goAccess.AdminStore
	goAccess.GrantStore
	goAccess.APIKeyStore
}

type runtime struct {
	engine *goAccess.Engine
	logger zerolog.Logger
	redis  *redis.Client
	// pool is nil when records are kept in memory.
	pool *pgxpool.Pool
}

func (rt *runtime) Close() {
	if rt.engine != nil {
		rt.engine.Close()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

func newLogger(v *viper.Viper) zerolog.Logger {
	return logging.New(logging.Options{
		Level:   v.GetString("log-level"),
		Format:  v.GetString("log-format"),
		Service: "accessd",
		Output:  os.Stderr,
	})
}

// engineConfig maps process settings onto the engine configuration.
func engineConfig(v *viper.Viper, logger zerolog.Logger) (goAccess.Config, error) {
	cfg := goAccess.DefaultConfig()
	cfg.Security.ProductionMode = v.GetBool("production")
	cfg.JWT.Issuer = v.GetString("jwt-issuer")
	cfg.OAuth.LoginURL = v.GetString("login-url")
	cfg.OAuth.AccessTokenTTL = v.GetDuration("access-token-ttl")
	cfg.RateLimit.Backend = goAccess.RateLimitBackend(v.GetString("rate-limit-backend"))
	cfg.RateLimit.DefaultRPM = v.GetInt("default-rpm")
	if perms := v.GetStringSlice("api-key-permissions"); len(perms) > 0 {
		cfg.APIKey.Permissions = perms
	}
	cfg.Audit.Enabled = v.GetBool("audit")
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	priv, err := signingKey(v.GetString("jwt-private-key"))
	if err != nil {
		return goAccess.Config{}, err
	}
	if priv == nil {
		if cfg.Security.ProductionMode {
			return goAccess.Config{}, errors.New("jwt-private-key is required in production")
		}
		if _, priv, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return goAccess.Config{}, fmt.Errorf("generate signing key: %w", err)
		}
		logger.Warn().Msg("using an ephemeral signing key; tokens will not survive a restart")
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = priv.Public().(ed25519.PublicKey)
	return cfg, nil
}

// signingKey decodes a base64 ed25519 private key or seed. An empty value
// yields a nil key.
func signingKey(encoded string) (ed25519.PrivateKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode jwt-private-key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("jwt-private-key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// openRuntime connects Redis and the record store and builds the engine.
func openRuntime(ctx context.Context, v *viper.Viper, logger zerolog.Logger) (*runtime, error) {
	cfg, err := engineConfig(v, logger)
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(v.GetString("redis-url"))
	if err != nil {
		return nil, fmt.Errorf("parse redis-url: %w", err)
	}
	rt := &runtime{logger: logger, redis: redis.NewClient(opts)}
	if err := rt.redis.Ping(ctx).Err(); err != nil {
		rt.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	var store backend
	if url := v.GetString("database-url"); url != "" {
		rt.pool, err = storepg.NewPool(ctx, url)
		if err != nil {
			rt.Close()
			return nil, err
		}
		store = storepg.New(rt.pool)
		logger.Info().Msg("using postgres record store")
	} else {
		if cfg.Security.ProductionMode {
			rt.Close()
			return nil, errors.New("database-url is required in production")
		}
		store = storemem.New()
		logger.Warn().Msg("using in-memory record store; records are lost on exit")
	}

	b := goAccess.New().
		WithConfig(cfg).
		WithRedis(rt.redis).
		WithClientRegistry(store).
		WithAdminStore(store).
		WithGrantStore(store).
		WithAPIKeyStore(store).
		WithLogger(logger)
	if cfg.Audit.Enabled {
		b = b.WithAuditSink(goAccess.NewZerologSink(logger.With().Str("component", "audit").Logger()))
	}
	rt.engine, err = b.Build()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return rt, nil
}
