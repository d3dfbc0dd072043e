package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"challenge-core/pkg/config"
)

type checkStatus string

const (
	statusHealthy   checkStatus = "HEALTHY"
	statusDegraded  checkStatus = "DEGRADED"
	statusUnhealthy checkStatus = "UNHEALTHY"
)

type checkResult struct {
	Service string      `json:"service"`
	Status  checkStatus `json:"status"`
	Message string      `json:"message"`
	Took    string      `json:"took"`
}

type checkReport struct {
	Overall  checkStatus   `json:"overall"`
	Checked  time.Time     `json:"checked_at"`
	Services []checkResult `json:"services"`
}

// errUnhealthy makes the process exit non-zero without printing twice.
var errUnhealthy = errors.New("unhealthy")

func newCheckCmd() *cobra.Command {
	var (
		accountID string
		serverURL string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check configuration, storage, the data provider and a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = fmt.Sprintf("http://localhost:%s/health", cfg.Port)
			}

			report := runChecks(cmd.Context(), cfg, log, accountID, serverURL)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if report.Overall == statusUnhealthy {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account to connect to through the provider")
	cmd.Flags().StringVar(&serverURL, "url", "", "health endpoint of a running server (default localhost:PORT)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func runChecks(ctx context.Context, cfg *config.Config, log *zap.Logger, accountID, serverURL string) checkReport {
	report := checkReport{Overall: statusHealthy, Checked: time.Now().UTC()}
	add := func(name string, fn func() (checkStatus, string)) {
		start := time.Now()
		st, msg := fn()
		report.Services = append(report.Services, checkResult{
			Service: name, Status: st, Message: msg, Took: time.Since(start).Round(time.Millisecond).String(),
		})
		switch {
		case st == statusUnhealthy:
			report.Overall = statusUnhealthy
		case st == statusDegraded && report.Overall != statusUnhealthy:
			report.Overall = statusDegraded
		}
	}

	add("configuration", func() (checkStatus, string) {
		return statusHealthy, fmt.Sprintf("driver=%s provider=%s interval=%s tz=%s",
			cfg.DBDriver, cfg.Provider, cfg.PollInterval, cfg.Timezone)
	})
	add("database", func() (checkStatus, string) { return checkDatabase(ctx, cfg) })
	add("provider", func() (checkStatus, string) { return checkProvider(ctx, cfg, log, accountID) })
	add("api", func() (checkStatus, string) { return checkServer(ctx, serverURL) })
	return report
}

func checkDatabase(ctx context.Context, cfg *config.Config) (checkStatus, string) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return statusUnhealthy, err.Error()
	}
	defer store.Close()

	ids, err := store.ListResumableAccounts(ctx)
	if err != nil {
		return statusUnhealthy, err.Error()
	}
	return statusHealthy, fmt.Sprintf("connected, %d account(s) marked monitoring", len(ids))
}

func checkProvider(ctx context.Context, cfg *config.Config, log *zap.Logger, accountID string) (checkStatus, string) {
	if accountID == "" {
		return statusDegraded, "no --account given, connection not tried"
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return statusUnhealthy, err.Error()
	}
	defer store.Close()

	prov, err := buildProvider(cfg, store, log)
	if err != nil {
		return statusUnhealthy, err.Error()
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.ProviderConnectTimeout)
	defer cancel()
	conn, err := prov.Connect(cctx, accountID)
	if err != nil {
		return statusUnhealthy, err.Error()
	}
	defer conn.Close()
	if err := conn.WaitSynchronized(cctx); err != nil {
		return statusUnhealthy, err.Error()
	}
	info, err := conn.AccountInfo(cctx)
	if err != nil {
		return statusUnhealthy, err.Error()
	}
	return statusHealthy, fmt.Sprintf("%s via %s: balance=%.2f equity=%.2f", accountID, cfg.Provider, info.Balance, info.Equity)
}

func checkServer(ctx context.Context, url string) (checkStatus, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return statusUnhealthy, err.Error()
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return statusUnhealthy, fmt.Sprintf("not reachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusDegraded, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	var body struct {
		Version        string `json:"version"`
		ActiveMonitors int    `json:"active_monitors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return statusDegraded, "unexpected health body"
	}
	return statusHealthy, fmt.Sprintf("running %s, %d active monitor(s)", body.Version, body.ActiveMonitors)
}

func printReport(w io.Writer, report checkReport) {
	for _, svc := range report.Services {
		icon := "ok  "
		switch svc.Status {
		case statusUnhealthy:
			icon = "FAIL"
		case statusDegraded:
			icon = "WARN"
		}
		fmt.Fprintf(w, "%s %-14s %s (%s)\n", icon, svc.Service, svc.Message, svc.Took)
	}
	fmt.Fprintf(w, "\noverall: %s\n", report.Overall)
}
