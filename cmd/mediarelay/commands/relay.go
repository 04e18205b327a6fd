package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/mediarelay/internal/cli/output"
	"github.com/marmos91/mediarelay/pkg/config"
	"github.com/marmos91/mediarelay/pkg/relay"
)

var (
	relayChatID int64
	relayUserID int64
	relayOutput string
)

var relayCmd = &cobra.Command{
	Use:   "relay <url>",
	Short: "Relay one URL to a chat and exit",
	Long: `Run the full pipeline once: download the URL with the user's preferred
quality, deliver it to the chat with a progress message, and print where it
went. The user defaults to the chat.

Examples:
  mediarelay relay https://example.com/watch?v=abc --chat 123456
  mediarelay relay https://example.com/clip --chat 123456 --user 42 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().Int64Var(&relayChatID, "chat", 0, "destination chat ID (required)")
	relayCmd.Flags().Int64Var(&relayUserID, "user", 0, "user whose preferences apply (default: the chat)")
	relayCmd.Flags().StringVarP(&relayOutput, "output", "o", "table", "output format: table, json, yaml")
	_ = relayCmd.MarkFlagRequired("chat")
}

// relayResult is the printable outcome of a one-shot relay.
type relayResult struct {
	URL     string `json:"url" yaml:"url"`
	Route   string `json:"route" yaml:"route"`
	Quality string `json:"quality" yaml:"quality"`
	Size    int64  `json:"size" yaml:"size"`
}

func (r relayResult) Headers() []string { return []string{"URL", "Route", "Quality", "Size"} }

func (r relayResult) Rows() [][]string {
	return [][]string{{r.URL, r.Route, r.Quality, humanize.IBytes(uint64(r.Size))}}
}

var _ output.TableRenderer = relayResult{}

func runRelay(cmd *cobra.Command, args []string) error {
	printer, err := printerFor(relayOutput)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.RequireTransport(cfg); err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.shutdown()

	userID := relayUserID
	if userID == 0 {
		userID = relayChatID
	}

	outcome, err := a.pipeline.Handle(ctx, relay.Request{
		URL:    args[0],
		ChatID: relayChatID,
		UserID: userID,
	})
	if err != nil {
		return fmt.Errorf("relay failed: %w", err)
	}

	return printer.Print(relayResult{
		URL:     args[0],
		Route:   outcome.Route,
		Quality: string(outcome.Quality),
		Size:    outcome.Size,
	})
}
