package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"norelock.dev/listenify/bragi/internal/auth"
	"norelock.dev/listenify/bragi/internal/config"
	"norelock.dev/listenify/bragi/internal/utils"
	"norelock.dev/listenify/bragi/pkg/jsonrpc"
)

func newTokenCommand(configPath *string) *cobra.Command {
	var (
		scopes   []string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <client>",
		Short: "Issue an API token signed with the configured secret",
		Long: "Issue an API token. Scopes are method names (suggest, search, detail, stream); " +
			"a token without scopes may call every method.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if !cfg.Auth.Enabled() {
				return fmt.Errorf("auth.jwt_secret is not set")
			}
			provider, err := auth.NewJWTProvider(auth.JWTConfig{
				Secret:        cfg.Auth.JWTSecret,
				Issuer:        cfg.Auth.Issuer,
				TokenDuration: duration,
			}, utils.NewNopLogger())
			if err != nil {
				return err
			}
			token, err := provider.GenerateToken(args[0], scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&scopes, "scope", "s", nil, "method the token may call, repeatable")
	cmd.Flags().DurationVar(&duration, "ttl", 0, "token lifetime (default 30 days)")
	return cmd
}

func newCallCommand() *cobra.Command {
	var (
		endpoint string
		token    string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Call a JSON-RPC method of a running server over HTTP",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params are not valid JSON")
				}
				params = json.RawMessage(args[1])
			}

			var opts []jsonrpc.ClientOption
			if token != "" {
				opts = append(opts, jsonrpc.WithHeaders(map[string]string{"Authorization": "Bearer " + token}))
			}
			client := jsonrpc.NewClient(endpoint, opts...)
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var result json.RawMessage
			if err := client.Call(ctx, args[0], params, &result); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:8080/rpc", "JSON-RPC endpoint")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "call timeout")
	return cmd
}

func newConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and its warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, warning := range config.ValidateAndFixConfig(cfg) {
				fmt.Fprintln(out, "warning:", warning)
			}
			fmt.Fprint(out, config.GetConfigString(cfg))
			return nil
		},
	}
}
