package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
	"github.com/marmos91/dittovault/internal/cliprompt"
	"github.com/marmos91/dittovault/pkg/vault"
)

var createCmd = &cobra.Command{
	Use:   "create <uri>",
	Short: "Create a new, empty vault at uri",
	Long: `Create formats a brand-new repository at uri and leaves it open
just long enough to confirm it initialized cleanly, then closes it.

Examples:
  dvaultctl create file:///srv/backups/photos
  dvaultctl create mem://scratch --kdf-level interactive`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	uri := args[0]

	password := cmdutil.Flags.Password
	if password == "" {
		if env := os.Getenv(cmdutil.EnvPassword); env != "" {
			password = env
		} else {
			var err error
			password, err = cliprompt.NewPassword()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
		}
	}

	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	v, err := vault.Create(ctx, uri, password, cfg)
	if err != nil {
		return fmt.Errorf("create %s: %w", uri, err)
	}
	if err := v.Close(ctx); err != nil {
		return fmt.Errorf("close %s after create: %w", uri, err)
	}

	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("vault created at %s", uri))
	return nil
}
