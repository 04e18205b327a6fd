package commands

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediarelay/internal/command"
	"github.com/marmos91/mediarelay/pkg/fetch"
	"github.com/marmos91/mediarelay/pkg/transcode"
)

var versionTools bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "mediarelay %s (commit: %s, built: %s, %s)\n", Version, Commit, Date, runtime.Version())
		if !versionTools {
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		report := func(name string, version func(context.Context) (string, error)) {
			if v, err := version(ctx); err != nil {
				_, _ = fmt.Fprintf(out, "%s: unavailable (%v)\n", name, err)
			} else {
				_, _ = fmt.Fprintf(out, "%s: %s\n", name, v)
			}
		}
		report(cfg.Tools.Fetch.Binary, fetch.New(cfg.Tools.Fetch, command.ExecRunner{}).Version)
		report("ffmpeg", transcode.New(cfg.Tools.Transcode, command.ExecRunner{}).Version)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionTools, "tools", false, "also show the versions of the external tools")
}
