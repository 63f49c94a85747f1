package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
)

var mkdirParents bool

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <uri> <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runMkdir,
}

func init() {
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "create missing ancestor directories")
}

func runMkdir(cmd *cobra.Command, args []string) error {
	uri, path := args[0], args[1]

	ctx := context.Background()
	v, err := cmdutil.OpenExisting(ctx, uri)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer v.Close(ctx)

	if mkdirParents {
		err = v.MkdirAll(ctx, path)
	} else {
		err = v.Mkdir(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}

	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("created %s", path))
	return nil
}
