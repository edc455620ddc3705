package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatgem/internal/ledger/adapters"
	"chatgem/internal/ledger/ports"
	serverBootstrap "chatgem/internal/server/bootstrap"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func main() {
	color.NoColor = color.NoColor || !isTTY()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "chatgem-server",
		Short:         "Token ledger and payment settlement API for chatgem",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (CHATGEM_* variables override it)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serverBootstrap.RunServer(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the ledger schema migrations to Postgres",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := serverBootstrap.RunMigrate(cmd.Context(), configPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), green("Migrations applied"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Cancel pending transactions older than the configured TTL",
			RunE: func(cmd *cobra.Command, _ []string) error {
				report, err := serverBootstrap.RunSweepOnce(cmd.Context(), configPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s scanned=%d cancelled=%d skipped=%d\n",
					green("Sweep finished:"), report.Scanned, report.Cancelled, report.Skipped)
				return nil
			},
		},
		newTokenCommand(&configPath),
	)
	return root
}

// newTokenCommand issues a bearer token signed with the configured secret
// for local testing against the API.
func newTokenCommand(configPath *string) *cobra.Command {
	var (
		userID string
		email  string
		admin  bool
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := serverBootstrap.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			return issueToken(cmd.OutOrStdout(), cfg, ports.Identity{
				UserID: strings.TrimSpace(userID),
				Email:  strings.TrimSpace(email),
				Admin:  admin,
			}, ttl)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func issueToken(out io.Writer, cfg serverBootstrap.Config, identity ports.Identity, ttl time.Duration) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}
	if identity.UserID == "" {
		return fmt.Errorf("--user is required")
	}
	token, err := adapters.NewJWTIdentityVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(identity, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	if isTTY() {
		fmt.Fprintln(out, gray(fmt.Sprintf("user=%s admin=%t expires in %s", identity.UserID, identity.Admin, ttl)))
	}
	fmt.Fprintln(out, token)
	return nil
}
