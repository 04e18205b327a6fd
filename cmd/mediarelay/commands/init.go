package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediarelay/internal/cli/prompt"
	"github.com/marmos91/mediarelay/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Write a configuration file with every default spelled out.

With --interactive the bot token and session endpoint are asked for and
stored in the file; otherwise set them later or export
MEDIARELAY_BOTAPI_TOKEN and MEDIARELAY_SESSION_ENDPOINT.

Examples:
  mediarelay init
  mediarelay init --interactive
  mediarelay init --config /etc/mediarelay/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "prompt for credentials")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	force := initForce
	if _, err := os.Stat(path); err == nil && !force {
		if !initInteractive {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
		ok, err := prompt.Confirm(fmt.Sprintf("%s exists. Overwrite", path), false)
		if err != nil {
			return err
		}
		if !ok {
			return prompt.ErrAborted
		}
		force = true
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := promptCredentials(cfg); err != nil {
			return err
		}
	}

	if err := config.WriteConfig(path, cfg, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	if cfg.BotAPI.Token == "" {
		fmt.Println("  1. Set botapi.token and session.endpoint in the file")
	} else {
		fmt.Println("  1. Review the configuration file")
	}
	fmt.Println("  2. Start the worker with: mediarelay start")
	fmt.Printf("  3. Or specify the config explicitly: mediarelay start --config %s\n", path)
	return nil
}

func promptCredentials(cfg *config.Config) error {
	token, err := prompt.Secret("Bot API token")
	if err != nil {
		return err
	}
	endpoint, err := prompt.Endpoint("Session endpoint (ws:// or wss://)", cfg.Session.Endpoint)
	if err != nil {
		return err
	}

	cfg.BotAPI.Token = token
	cfg.Session.Token = token
	cfg.Session.Endpoint = endpoint
	return nil
}
