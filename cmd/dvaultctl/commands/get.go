package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
	"github.com/marmos91/dittovault/pkg/vault"
)

var getCmd = &cobra.Command{
	Use:   "get <uri> <vault-src> <local-dst>",
	Short: "Write a vault file's current content to a local path",
	Args:  cobra.ExactArgs(3),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	uri, src, localDst := args[0], args[1], args[2]

	ctx := context.Background()
	v, err := cmdutil.OpenReadOnly(ctx, uri)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer v.Close(ctx)

	f, err := v.OpenFile(ctx, src, vault.ReadOnlyMode)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	out, err := os.Create(localDst)
	if err != nil {
		return fmt.Errorf("create %s: %w", localDst, err)
	}
	defer out.Close()

	written := 0
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(ctx, buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			written += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}
	}

	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("%s -> %s (%d bytes)", src, localDst, written))
	return nil
}
