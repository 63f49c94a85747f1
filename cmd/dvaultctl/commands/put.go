package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
	"github.com/marmos91/dittovault/pkg/vault"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

var putCmd = &cobra.Command{
	Use:   "put <uri> <local-src> <vault-dst>",
	Short: "Write a local file's content into the vault, replacing any existing content",
	Args:  cobra.ExactArgs(3),
	RunE:  runPut,
}

func runPut(cmd *cobra.Command, args []string) error {
	uri, localSrc, dst := args[0], args[1], args[2]

	data, err := os.ReadFile(localSrc)
	if err != nil {
		return fmt.Errorf("read %s: %w", localSrc, err)
	}

	ctx := context.Background()
	v, err := cmdutil.OpenExisting(ctx, uri)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer v.Close(ctx)

	if err := v.CreateFile(ctx, dst); err != nil && !vaulterr.Is(err, vaulterr.AlreadyExists) {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	f, err := v.OpenFile(ctx, dst, vault.ReadWriteMode)
	if err != nil {
		return fmt.Errorf("open %s: %w", dst, err)
	}
	defer f.Close()

	if err := f.Truncate(ctx, 0); err != nil {
		return fmt.Errorf("truncate %s: %w", dst, err)
	}
	if len(data) > 0 {
		if _, err := f.WriteAt(ctx, 0, data); err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
	}

	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("%s -> %s (%d bytes)", localSrc, dst, len(data)))
	return nil
}
