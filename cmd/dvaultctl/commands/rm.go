package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
	"github.com/marmos91/dittovault/internal/cliprompt"
)

var rmForce bool

var rmCmd = &cobra.Command{
	Use:   "rm <uri> <path>",
	Short: "Remove a file or empty directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runRm,
}

func init() {
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "skip confirmation")
}

func runRm(cmd *cobra.Command, args []string) error {
	uri, path := args[0], args[1]

	confirmed, err := cliprompt.ConfirmWithForce(fmt.Sprintf("Remove %s?", path), rmForce)
	if err != nil {
		if cliprompt.IsAborted(err) {
			fmt.Println("aborted")
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("aborted")
		return nil
	}

	ctx := context.Background()
	v, err := cmdutil.OpenExisting(ctx, uri)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer v.Close(ctx)

	if err := v.Remove(ctx, path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("removed %s", path))
	return nil
}
