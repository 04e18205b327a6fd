package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediarelay/internal/cli/output"
	"github.com/marmos91/mediarelay/internal/cli/prompt"
	"github.com/marmos91/mediarelay/internal/cli/timeutil"
	"github.com/marmos91/mediarelay/pkg/store"
)

var (
	prefsOutput string
	prefsLimit  int
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Inspect and change user quality preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show a user's quality preference",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <user-id> [h264|h265|audio]",
	Short: "Set a user's quality preference",
	Long: `Set a user's quality preference. Without a quality argument an
interactive menu is shown.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPrefsSet,
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users, most recently active first",
	RunE:  runPrefsList,
}

func init() {
	prefsCmd.PersistentFlags().StringVarP(&prefsOutput, "output", "o", "table", "output format: table, json, yaml")
	prefsListCmd.Flags().IntVar(&prefsLimit, "limit", 50, "maximum number of users (0 for all)")

	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsListCmd)
}

// userRow is one user in prefs output.
type userRow struct {
	UserID     int64  `json:"user_id" yaml:"user_id"`
	Quality    string `json:"quality" yaml:"quality"`
	LastActive string `json:"last_active,omitempty" yaml:"last_active,omitempty"`
	Downloads  int64  `json:"downloads" yaml:"downloads"`
}

// userList renders as a table.
type userList []userRow

func (l userList) Headers() []string {
	return []string{"User", "Quality", "Last Active", "Downloads"}
}

func (l userList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, u := range l {
		rows = append(rows, []string{
			strconv.FormatInt(u.UserID, 10), u.Quality, u.LastActive, strconv.FormatInt(u.Downloads, 10),
		})
	}
	return rows
}

var _ output.TableRenderer = userList(nil)

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user ID %q", s)
	}
	return id, nil
}

func prefsStore(ctx context.Context) (*store.Pool, *output.Printer, error) {
	printer, err := printerFor(prefsOutput)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := openStore(ctx, cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return pool, printer, nil
}

func runPrefsGet(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	pool, printer, err := prefsStore(cmd.Context())
	if err != nil {
		return err
	}

	count, err := pool.CountDownloads(cmd.Context(), userID)
	if err != nil {
		return err
	}
	return printer.Print(userList{{
		UserID:    userID,
		Quality:   string(pool.GetUserQuality(cmd.Context(), userID)),
		Downloads: count,
	}})
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}

	var raw string
	if len(args) == 2 {
		raw = args[1]
	} else {
		raw, err = prompt.Select("Preferred quality", []prompt.Option{
			{Label: "H.264", Value: string(store.QualityH264), Description: "Plays everywhere (default)"},
			{Label: "H.265", Value: string(store.QualityH265), Description: "Smaller files, newer devices"},
			{Label: "Audio only", Value: string(store.QualityAudio), Description: "MP3 extracted from the video"},
		})
		if err != nil {
			return err
		}
	}

	quality, err := store.ParseQuality(raw)
	if err != nil {
		return err
	}

	pool, printer, err := prefsStore(cmd.Context())
	if err != nil {
		return err
	}
	if err := pool.SetUserQuality(cmd.Context(), userID, quality); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}

	printer.Printf("User %d now receives %s\n", userID, quality)
	return nil
}

func runPrefsList(cmd *cobra.Command, args []string) error {
	pool, printer, err := prefsStore(cmd.Context())
	if err != nil {
		return err
	}

	users, err := pool.ListUsers(cmd.Context(), prefsLimit)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	list := make(userList, 0, len(users))
	for _, u := range users {
		count, err := pool.CountDownloads(cmd.Context(), u.TelegramID)
		if err != nil {
			return err
		}
		list = append(list, userRow{
			UserID:     u.TelegramID,
			Quality:    string(u.QualityPreference),
			LastActive: timeutil.Ago(u.LastActive),
			Downloads:  count,
		})
	}
	return printer.Print(list)
}
