package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/storepg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := v.GetString("database-url")
			if url == "" {
				return errors.New("database-url is required")
			}
			if err := storepg.Migrate(cmd.Context(), url); err != nil {
				return err
			}
			logger := newLogger(v)
			logger.Info().Msg("migrations applied")
			return nil
		},
	}
}

func newBootstrapAdminCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin EMAIL",
		Short: "Create the first admin, who becomes the system admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), v, newLogger(v))
			if err != nil {
				return err
			}
			defer rt.Close()

			admin, err := rt.engine.BootstrapAdmin(cmd.Context(), args[0])
			if errors.Is(err, goAccess.ErrAdminExists) {
				return errors.New("an admin already exists; add further admins through the admin API")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"system_admin": admin.Email})
		},
	}
}

func newCreateAPIKeyCommand(v *viper.Viper) *cobra.Command {
	var (
		actor string
		perms []string
		rpm   int
	)
	cmd := &cobra.Command{
		Use:   "create-api-key NAME",
		Short: "Create an API key and print its secret once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), v, newLogger(v))
			if err != nil {
				return err
			}
			defer rt.Close()

			spec := goAccess.APIKeySpec{Name: args[0], Permissions: perms}
			if cmd.Flags().Changed("rate-limit-rpm") {
				spec.RateLimitRPM = &rpm
			}
			issued, err := rt.engine.CreateAPIKey(cmd.Context(), actor, spec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"id":             issued.Key.ID,
				"name":           issued.Key.Name,
				"permissions":    issued.Key.Permissions,
				"rate_limit_rpm": issued.Key.RateLimitRPM,
				"key":            issued.Secret,
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&actor, "as", "", "admin email performing the action (needs write on the keys page)")
	flags.StringSliceVar(&perms, "permission", nil, "permission granted to the key (repeatable)")
	flags.IntVar(&rpm, "rate-limit-rpm", 0, "requests per minute; 0 is unlimited (default: server default)")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("permission")
	return cmd
}

func newCreateClientCommand(v *viper.Viper) *cobra.Command {
	var reg goAccess.ClientRegistration
	cmd := &cobra.Command{
		Use:   "create-client NAME",
		Short: "Register an OAuth client and print its secret once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), v, newLogger(v))
			if err != nil {
				return err
			}
			defer rt.Close()

			reg.Name = args[0]
			client, secret, err := rt.engine.RegisterClient(cmd.Context(), reg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"client_id":     client.ID,
				"client_secret": secret,
				"redirect_uris": client.RedirectURIs,
			})
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&reg.RedirectURIs, "redirect-uri", nil, "registered redirect URI (repeatable)")
	flags.StringSliceVar(&reg.AllowedScopes, "scope", []string{"profile", "email"}, "scope the client may request (repeatable)")
	flags.BoolVar(&reg.AllowAnyone, "allow-anyone", false, "let every signed-in user authorize the client")
	flags.StringVar(&reg.CreatedBy, "as", "cli", "recorded creator")
	_ = cmd.MarkFlagRequired("redirect-uri")
	return cmd
}

func newGenJWTKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-jwt-key",
		Short: "Print a new base64 ed25519 signing key seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(priv.Seed()))
			return err
		},
	}
}
