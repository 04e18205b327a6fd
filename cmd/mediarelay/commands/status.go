package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediarelay/internal/cli/health"
	"github.com/marmos91/mediarelay/internal/cli/output"
	"github.com/marmos91/mediarelay/internal/cli/timeutil"
)

var (
	statusAddr   string
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of a running worker",
	Long: `Query a running worker's health endpoints and print its uptime, slot
usage and the result of every readiness check.

Examples:
  mediarelay status
  mediarelay status --addr http://relay-1:9090 -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "worker health address (default: http://localhost:<metrics.port>)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format: table, json, yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	printer, err := printerFor(statusOutput)
	if err != nil {
		return err
	}

	addr := statusAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = fmt.Sprintf("http://localhost:%d", cfg.Metrics.Port)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	report, err := health.Probe(ctx, &http.Client{}, addr)
	if err != nil {
		return err
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(report)
	}

	live := report.Liveness.Data
	if err := output.KeyValues(printer.Writer(), [][2]string{
		{"Service", live.Service},
		{"Status", report.Readiness.Status},
		{"Uptime", timeutil.FormatUptime(live.UptimeSec)},
		{"Relays", fmt.Sprintf("%d / %d", live.InFlight, live.Capacity)},
	}); err != nil {
		return err
	}
	printer.Printf("\n")
	return printer.Print(report)
}
