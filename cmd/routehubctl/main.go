package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jordanhubbard/routehub/internal/app"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

// loadEnvFile reads ~/.routehub/env and sets any variables not already
// present in the process environment.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	_ = godotenv.Load(filepath.Join(home, ".routehub", "env"))
}

func main() {
	loadEnvFile()
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.err)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &client{}
	root := &cobra.Command{
		Use:           "routehubctl",
		Short:         "CLI for the routehub router and admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `routehubctl talks to a running routehub server.

Environment:
  ROUTEHUB_URL          Base URL (default: http://localhost:8090)
  ROUTEHUB_ADMIN_TOKEN  Bearer token for admin endpoints

  ~/.routehub/env       Loaded on startup. Explicit environment variables
                        take precedence.`,
	}
	root.PersistentFlags().StringVar(&c.baseURL, "url", envOr("ROUTEHUB_URL", "http://localhost:8090"), "routehub base URL")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("ROUTEHUB_ADMIN_TOKEN"), "admin bearer token")

	root.AddCommand(newVersionCommand())
	root.AddCommand(newAdminTokenCommand())
	root.AddCommand(newRouteCommand(c))
	root.AddCommand(newAuditCommand(c))
	root.AddCommand(newUsageCommand(c))
	root.AddCommand(newRateLimitsCommand(c))
	root.AddCommand(newProvidersCommand(c))
	root.AddCommand(newVaultCommand(c))
	root.AddCommand(newConfigCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "routehubctl %s\n", app.Version)
			return err
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
