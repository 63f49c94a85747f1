package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
	"github.com/marmos91/dittovault/pkg/vault"
)

var catCmd = &cobra.Command{
	Use:   "cat <uri> <path>",
	Short: "Print a file's current content to stdout",
	Args:  cobra.ExactArgs(2),
	RunE:  runCat,
}

func runCat(cmd *cobra.Command, args []string) error {
	uri, path := args[0], args[1]

	ctx := context.Background()
	v, err := cmdutil.OpenReadOnly(ctx, uri)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer v.Close(ctx)

	f, err := v.OpenFile(ctx, path, vault.ReadOnlyMode)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(os.Stdout)
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(ctx, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
	return w.Flush()
}
