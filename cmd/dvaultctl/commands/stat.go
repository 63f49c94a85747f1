package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
	"github.com/marmos91/dittovault/pkg/vault"
)

var statCmd = &cobra.Command{
	Use:   "stat <uri> <path>",
	Short: "Show a path's metadata",
	Args:  cobra.ExactArgs(2),
	RunE:  runStat,
}

// infoRow adapts a single vault.Info to cliout.TableRenderer.
type infoRow struct {
	path string
	info vault.Info
}

func (r infoRow) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

func (r infoRow) Rows() [][]string {
	return [][]string{
		{"path", r.path},
		{"kind", r.info.Kind.String()},
		{"len", strconv.FormatUint(r.info.Len, 10)},
		{"versions", strconv.Itoa(r.info.Versions)},
		{"ctime", r.info.Ctime.Format(time.RFC3339)},
		{"mtime", r.info.Mtime.Format(time.RFC3339)},
	}
}

func runStat(cmd *cobra.Command, args []string) error {
	uri, path := args[0], args[1]

	ctx := context.Background()
	v, err := cmdutil.OpenReadOnly(ctx, uri)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer v.Close(ctx)

	info, err := v.Stat(ctx, path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	return printer.Print(infoRow{path: path, info: info})
}
