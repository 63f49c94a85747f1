// Package commands implements the dvaultctl CLI commands.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittovault/cmd/dvaultctl/cmdutil"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "dvaultctl",
	Short: "dvaultctl - manage DittoVault encrypted volumes",
	Long: `dvaultctl operates on a DittoVault repository: a single
encrypted, content-addressed, version-retaining file tree stored at a
depot URI (file://, mem://, badger://).

Use "dvaultctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.ConfigFile, "config", "", "path to vault config file")
	rootCmd.PersistentFlags().StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.Password, "password", "", "vault password (falls back to "+cmdutil.EnvPassword+", then an interactive prompt)")
	rootCmd.PersistentFlags().BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.KdfLevel, "kdf-level", "", "override ops_limit/mem_limit: interactive, moderate, sensitive")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
}

// Exit prints an error to stderr and exits with status 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
