package main

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/routehub/internal/config"
	"github.com/jordanhubbard/routehub/internal/ratelimit"
	"github.com/jordanhubbard/routehub/internal/router"
	"github.com/jordanhubbard/routehub/internal/store"
)

func newAdminTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "admin-token",
		Short: "Print the admin token (env, data dir, home dir, or Docker)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok := findAdminToken(os.Getenv, os.UserHomeDir, dockerToken)
			if tok == "" {
				return exitError{code: 1, err: fmt.Errorf("admin token not found: set ROUTEHUB_ADMIN_TOKEN or ensure the service is running")}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
}

// findAdminToken looks for the token in the environment, then in the
// .admin-token file the server writes, then inside a running container.
func findAdminToken(getenv func(string) string, home func() (string, error), docker func() string) string {
	if tok := getenv("ROUTEHUB_ADMIN_TOKEN"); tok != "" {
		return tok
	}
	var dirs []string
	if d := getenv("ROUTEHUB_DATA_DIR"); d != "" {
		dirs = append(dirs, d)
	}
	if h, err := home(); err == nil && h != "" {
		dirs = append(dirs, filepath.Join(h, ".routehub"))
	}
	for _, d := range dirs {
		if data, err := os.ReadFile(filepath.Join(d, ".admin-token")); err == nil {
			if tok := strings.TrimSpace(string(data)); tok != "" {
				return tok
			}
		}
	}
	if docker != nil {
		return docker()
	}
	return ""
}

func dockerToken() string {
	for _, name := range []string{"routehub-routehub-1", "routehub"} {
		out, err := exec.Command("docker", "exec", name, "cat", "/data/.admin-token").Output()
		if err == nil {
			if tok := strings.TrimSpace(string(out)); tok != "" {
				return tok
			}
		}
	}
	return ""
}

func newRouteCommand(c *client) *cobra.Command {
	var tenant, caller, provider, model, system string
	var maxTokens int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "route <prompt...>",
		Short: "Send a prompt through the router",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			var messages []router.Message
			if system != "" {
				messages = append(messages, router.Message{Role: "system", Content: system})
			}
			messages = append(messages, router.Message{Role: "user", Content: strings.Join(args, " ")})

			body := map[string]any{"messages": messages}
			if provider != "" {
				body["provider"] = provider
			}
			if model != "" {
				body["model"] = model
			}
			if maxTokens > 0 {
				body["max_tokens"] = maxTokens
			}

			rc := *c
			rc.headers = map[string]string{"X-Tenant-ID": tenant}
			if caller != "" {
				rc.headers["X-Caller-ID"] = caller
			}

			var resp router.ModelResponse
			if err := rc.post(cmd.Context(), "/v1/route", body, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				_, err := fmt.Fprintln(out, prettyJSON(resp))
				return err
			}
			_, _ = fmt.Fprintln(out, resp.Content)
			_, _ = fmt.Fprintln(cmd.ErrOrStderr())
			fallback := ""
			if resp.FallbackUsed {
				fallback = " (fallback)"
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "provider=%s%s model=%s tokens=%d cost=%s latency=%s request_id=%s\n",
				resp.ProviderUsed, fallback, resp.ModelUsed, resp.TokensUsed,
				fmtCost(resp.EstimatedCost, resp.Unpriced), fmtDuration(resp.LatencyMs), resp.RequestID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", os.Getenv("ROUTEHUB_TENANT"), "tenant id")
	cmd.Flags().StringVar(&caller, "caller", "", "caller id")
	cmd.Flags().StringVar(&provider, "provider", "", "explicit provider")
	cmd.Flags().StringVar(&model, "model", "", "explicit model")
	cmd.Flags().StringVar(&system, "system", "", "system message")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum completion tokens")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full JSON response")
	return cmd
}

func newAuditCommand(c *client) *cobra.Command {
	auditCmd := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}

	var tenant, outcome string
	var limit, offset int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			if tenant != "" {
				q.Set("tenant", tenant)
			}
			if outcome != "" {
				q.Set("outcome", outcome)
			}
			var data struct {
				Entries []store.AuditRecord `json:"entries"`
			}
			if err := c.get(cmd.Context(), "/admin/v1/audit?"+q.Encode(), &data); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(data.Entries) == 0 {
				_, err := fmt.Fprintln(out, "No audit entries.")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TIME\tREQUEST ID\tTENANT\tOUTCOME\tPROVIDER\tTOKENS\tCOST\tLATENCY")
			for _, e := range data.Entries {
				prov := e.ProviderUsed
				if prov == "" {
					prov = "-"
				}
				if e.FallbackUsed {
					prov += "*"
				}
				result := e.Outcome
				if e.ErrorClass != "" && e.Outcome != string(router.OutcomeSucceeded) {
					result += "/" + e.ErrorClass
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					fmtTime(e.Timestamp), e.RequestID, e.TenantID, result, prov,
					e.TokensUsed, fmtCost(e.CostUSD, false), fmtDuration(e.LatencyMs))
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant")
	listCmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (succeeded, exhausted, aborted)")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	listCmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")

	showCmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one audit entry with its attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec store.AuditRecord
			if err := c.get(cmd.Context(), "/admin/v1/audit/"+url.PathEscape(args[0]), &rec); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Request:   %s\n", rec.RequestID)
			_, _ = fmt.Fprintf(out, "Tenant:    %s\n", rec.TenantID)
			if rec.CallerID != "" {
				_, _ = fmt.Fprintf(out, "Caller:    %s\n", rec.CallerID)
			}
			_, _ = fmt.Fprintf(out, "Time:      %s\n", fmtTime(rec.Timestamp))
			_, _ = fmt.Fprintf(out, "Outcome:   %s\n", rec.Outcome)
			if rec.ProviderUsed != "" {
				_, _ = fmt.Fprintf(out, "Provider:  %s (%s)\n", rec.ProviderUsed, rec.ModelUsed)
			}
			if rec.ErrorClass != "" {
				_, _ = fmt.Fprintf(out, "Error:     %s\n", rec.ErrorClass)
			}
			_, _ = fmt.Fprintf(out, "Tokens:    %d\n", rec.TokensUsed)
			_, _ = fmt.Fprintf(out, "Cost:      %s\n", fmtCost(rec.CostUSD, false))
			_, _ = fmt.Fprintf(out, "Latency:   %s\n\n", fmtDuration(rec.LatencyMs))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "#\tPROVIDER\tMODEL\tRESULT\tTOKENS\tCOST\tLATENCY")
			for _, a := range rec.Attempts {
				result := "ok"
				if !a.Success {
					result = a.ErrorClass
				}
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
					a.Seq, a.ProviderID, a.Model, result, a.TokensUsed, fmtCost(a.CostUSD, false), fmtDuration(a.LatencyMs))
			}
			return tw.Flush()
		},
	}

	auditCmd.AddCommand(listCmd, showCmd)
	return auditCmd
}

func newUsageCommand(c *client) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "usage <tenant>",
		Short: "Summarize a tenant's usage per provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/admin/v1/usage/" + url.PathEscape(args[0])
			if since != "" {
				path += "?since=" + url.QueryEscape(since)
			}
			var data struct {
				Providers []store.UsageSummary `json:"providers"`
			}
			if err := c.get(cmd.Context(), path, &data); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(data.Providers) == 0 {
				_, err := fmt.Fprintln(out, "No usage in this period.")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PROVIDER\tATTEMPTS\tSUCCESSES\tTOKENS\tCOST")
			var total float64
			for _, u := range data.Providers {
				total += u.CostUSD
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", u.ProviderID, u.Attempts, u.Successes, u.Tokens, fmtCost(u.CostUSD, false))
			}
			_, _ = fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\n", fmtCost(total, false))
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "RFC 3339 time or duration such as 24h (default 24h)")
	return cmd
}

func newRateLimitsCommand(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "ratelimits <tenant>",
		Short: "Show the tenant's current rate-limit windows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data struct {
				Windows []ratelimit.Snapshot `json:"windows"`
			}
			if err := c.get(cmd.Context(), "/admin/v1/ratelimits/"+url.PathEscape(args[0]), &data); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(data.Windows) == 0 {
				_, err := fmt.Fprintln(out, "No active windows.")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PROVIDER\tREQUESTS\tTOKENS\tIN FLIGHT")
			for _, w := range data.Windows {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", w.Provider, w.RequestsInWindow, w.TokensInWindow, w.InFlight)
			}
			return tw.Flush()
		},
	}
}

func newProvidersCommand(c *client) *cobra.Command {
	providersCmd := &cobra.Command{Use: "provider", Aliases: []string{"providers"}, Short: "Inspect configured providers"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List providers in fallback order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var data struct {
				Providers []struct {
					router.ProviderDescriptor
					RequiresCredential bool `json:"requires_credential"`
				} `json:"providers"`
			}
			if err := c.get(cmd.Context(), "/admin/v1/providers", &data); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "#\tID\tNAME\tDEFAULT MODEL\tCREDENTIAL")
			for i, p := range data.Providers {
				cred := "no"
				if p.RequiresCredential {
					cred = "required"
				}
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, p.ID, p.DisplayName, p.DefaultModel, cred)
			}
			return tw.Flush()
		},
	}

	var tenant, caller string
	validateCmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Check the credential the router would use for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			var res struct {
				Valid  bool   `json:"valid"`
				Reason string `json:"reason"`
			}
			body := map[string]string{"tenant_id": tenant, "caller_id": caller}
			if err := c.post(cmd.Context(), "/admin/v1/providers/"+url.PathEscape(args[0])+"/validate", body, &res); err != nil {
				return err
			}
			if !res.Valid {
				reason := res.Reason
				if reason == "" {
					reason = "rejected by provider"
				}
				return exitError{code: 2, err: fmt.Errorf("%s: credential invalid (%s)", args[0], reason)}
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: credential valid\n", args[0])
			return err
		},
	}
	validateCmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	validateCmd.Flags().StringVar(&caller, "caller", "", "caller id")

	providersCmd.AddCommand(listCmd, validateCmd)
	return providersCmd
}

func newVaultCommand(c *client) *cobra.Command {
	vaultCmd := &cobra.Command{Use: "vault", Short: "Manage the credential vault"}

	vaultCmd.AddCommand(&cobra.Command{
		Use:   "unlock <password>",
		Short: "Unlock the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.post(cmd.Context(), "/admin/v1/vault/unlock", map[string]string{"password": args[0]}, nil); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Vault unlocked.")
			return err
		},
	})
	vaultCmd.AddCommand(&cobra.Command{
		Use:   "lock",
		Short: "Lock the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res struct {
				AlreadyLocked bool `json:"already_locked"`
			}
			if err := c.post(cmd.Context(), "/admin/v1/vault/lock", nil, &res); err != nil {
				return err
			}
			msg := "Vault locked."
			if res.AlreadyLocked {
				msg = "Vault was already locked."
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), msg)
			return err
		},
	})
	vaultCmd.AddCommand(&cobra.Command{
		Use:   "rotate <new-password>",
		Short: "Re-encrypt the unlocked vault under a new password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.post(cmd.Context(), "/admin/v1/vault/rotate", map[string]string{"new_password": args[0]}, nil); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Vault password rotated.")
			return err
		},
	})

	var caller string
	setCmd := &cobra.Command{
		Use:   "set <tenant> <provider> <secret>",
		Short: "Store a provider credential for a tenant or caller",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"secret": args[2], "caller_id": caller}
			path := "/admin/v1/credentials/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			var res struct {
				Name string `json:"name"`
			}
			if err := c.do(cmd.Context(), "PUT", path, body, &res); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Stored %s.\n", res.Name)
			return err
		},
	}
	setCmd.Flags().StringVar(&caller, "caller", "", "store for this caller instead of the whole tenant")

	var delCaller string
	deleteCmd := &cobra.Command{
		Use:   "delete <tenant> <provider>",
		Short: "Remove a stored credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/admin/v1/credentials/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			if delCaller != "" {
				path += "?caller_id=" + url.QueryEscape(delCaller)
			}
			if err := c.do(cmd.Context(), "DELETE", path, nil, nil); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
			return err
		},
	}
	deleteCmd.Flags().StringVar(&delCaller, "caller", "", "delete the caller credential")

	listCmd := &cobra.Command{
		Use:   "list <tenant>",
		Short: "List stored credential names for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Credentials []string `json:"credentials"`
				VaultLocked bool     `json:"vault_locked"`
			}
			if err := c.get(cmd.Context(), "/admin/v1/credentials/"+url.PathEscape(args[0]), &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.VaultLocked {
				_, _ = fmt.Fprintln(out, "(vault is locked)")
			}
			for _, n := range res.Credentials {
				_, _ = fmt.Fprintln(out, n)
			}
			return nil
		},
	}

	vaultCmd.AddCommand(setCmd, deleteCmd, listCmd)
	return vaultCmd
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Work with routing configuration files"}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a routing YAML file and print the resulting fallback order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(args[0])
			if err != nil {
				return exitError{code: 2, err: err}
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s: ok\n", args[0])
			_, _ = fmt.Fprintf(out, "default provider: %s\n", f.DefaultProvider)
			order := make([]string, 0, len(f.Descriptors()))
			for _, d := range f.Descriptors() {
				order = append(order, string(d.ID))
			}
			_, _ = fmt.Fprintf(out, "fallback order:   %s\n", strings.Join(order, " -> "))
			_, err = fmt.Fprintf(out, "tenants:          %d\n", len(f.Tenants))
			return err
		},
	})
	return configCmd
}
