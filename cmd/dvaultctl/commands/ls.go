package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
	"github.com/marmos91/dittovault/internal/cliout"
	"github.com/marmos91/dittovault/pkg/vault"
)

var lsCmd = &cobra.Command{
	Use:   "ls <uri> <path>",
	Short: "List a directory's children",
	Args:  cobra.ExactArgs(2),
	RunE:  runLs,
}

// dirListing adapts a vault.ReadDir result to cliout.TableRenderer.
type dirListing []vault.DirEntry

func (d dirListing) Headers() []string { return []string{"NAME", "KIND"} }

func (d dirListing) Rows() [][]string {
	rows := make([][]string, 0, len(d))
	for _, e := range d {
		rows = append(rows, []string{e.Name, e.Kind.String()})
	}
	return rows
}

func runLs(cmd *cobra.Command, args []string) error {
	uri, path := args[0], args[1]

	ctx := context.Background()
	v, err := cmdutil.OpenReadOnly(ctx, uri)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer v.Close(ctx)

	entries, err := v.ReadDir(ctx, path)
	if err != nil {
		return fmt.Errorf("ls %s: %w", path, err)
	}

	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	if printer.Format() != cliout.FormatTable || len(entries) > 0 {
		return printer.Print(dirListing(entries))
	}
	printer.Println("(empty)")
	return nil
}
