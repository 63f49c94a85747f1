package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
)

var mvCmd = &cobra.Command{
	Use:   "mv <uri> <src> <dst>",
	Short: "Rename or move a path within a vault",
	Args:  cobra.ExactArgs(3),
	RunE:  runMv,
}

func runMv(cmd *cobra.Command, args []string) error {
	uri, src, dst := args[0], args[1], args[2]

	ctx := context.Background()
	v, err := cmdutil.OpenExisting(ctx, uri)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer v.Close(ctx)

	if err := v.Rename(ctx, src, dst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", src, dst, err)
	}

	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("%s -> %s", src, dst))
	return nil
}
