package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(viper.New())
}

func newRootCommandWith(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "accessd",
		Short:         "accessd is an OAuth 2.0 authorization server with admin permissions and API-key gating",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Development: in-memory records, ephemeral signing key
  accessd serve --redis-url redis://localhost:6379/0

  # Postgres-backed records
  ACCESSD_DATABASE_URL=postgres://accessd@localhost/accessd accessd migrate
  ACCESSD_DATABASE_URL=postgres://accessd@localhost/accessd accessd bootstrap-admin root@example.com
  ACCESSD_JWT_PRIVATE_KEY=$(accessd gen-jwt-key) ACCESSD_DATABASE_URL=... accessd serve --production
`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfigFile(v)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to a YAML config file")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	flags.String("redis-url", "redis://localhost:6379/0", "Redis URL for codes, tokens, consents and rate windows")
	flags.String("database-url", "", "Postgres URL for clients, admins and API keys (empty keeps records in memory)")
	flags.String("jwt-private-key", "", "base64 ed25519 private key or seed (empty generates an ephemeral key outside production)")
	flags.String("jwt-issuer", "goaccess", "access token issuer")
	flags.String("login-url", "/login", "where anonymous users are sent by /oauth/authorize")
	flags.Duration("access-token-ttl", time.Hour, "access token lifetime")
	flags.String("rate-limit-backend", string(goAccess.RateLimitRedis), "API-key window backend (memory, redis)")
	flags.Int("default-rpm", 60, "requests per minute for keys created without a rate")
	flags.StringSlice("api-key-permissions", goAccess.DefaultConfig().APIKey.Permissions, "registered API-key permission names")
	flags.Bool("audit", false, "write audit events to the log")
	flags.Bool("production", false, "enforce production hardening checks")
	bindFlags(v, flags)

	v.SetEnvPrefix("ACCESSD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd.AddCommand(
		newServeCommand(v),
		newMigrateCommand(v),
		newBootstrapAdminCommand(v),
		newCreateAPIKeyCommand(v),
		newCreateClientCommand(v),
		newGenJWTKeyCommand(),
	)
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})
}

func loadConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config file %q: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config file %q is a directory", path)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}
