// Package cmdutil provides shared utilities for dvaultctl commands.
package cmdutil

import (
	"context"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"

	"github.com/marmos91/dittovault/internal/cliout"
	"github.com/marmos91/dittovault/pkg/vault"
	"github.com/marmos91/dittovault/pkg/vaultconfig"
)

// EnvPassword is the environment variable dvaultctl reads a vault
// password from before falling back to an interactive prompt.
const EnvPassword = "DITTOVAULT_PASSWORD"

// Flags stores the global flag values every subcommand reads.
var Flags = &GlobalFlags{}

// GlobalFlags holds the persistent flag values bound on the root command.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Password   string
	NoColor    bool
	KdfLevel   string
}

// GetOutputFormat parses the --output flag.
func GetOutputFormat() (cliout.Format, error) {
	return cliout.ParseFormat(Flags.Output)
}

// Printer returns a Printer writing to stdout using the configured
// output format and color setting.
func Printer() (*cliout.Printer, error) {
	format, err := GetOutputFormat()
	if err != nil {
		return nil, err
	}
	return cliout.NewPrinter(os.Stdout, format, !Flags.NoColor), nil
}

// ResolvePassword returns the vault password for the current invocation:
// the --password flag, then DITTOVAULT_PASSWORD, then an interactive
// masked prompt.
func ResolvePassword() (string, error) {
	if Flags.Password != "" {
		return Flags.Password, nil
	}
	if v := os.Getenv(EnvPassword); v != "" {
		return v, nil
	}
	prompt := promptui.Prompt{Label: "Password", Mask: '*'}
	result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return result, nil
}

// LoadConfig loads vaultconfig from the --config flag (if set) and
// applies the --kdf-level override when given.
func LoadConfig() (*vaultconfig.Config, error) {
	cfg, err := vaultconfig.Load(Flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	if Flags.KdfLevel != "" {
		level := vaultconfig.KdfLevel(Flags.KdfLevel)
		cfg.OpsLimit = level
		cfg.MemLimit = level
	}
	if err := vaultconfig.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenExisting opens the vault at uri read-write, resolving its password
// the standard way. Callers must Close the returned vault.
func OpenExisting(ctx context.Context, uri string) (*vault.Vault, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	password, err := ResolvePassword()
	if err != nil {
		return nil, err
	}
	return vault.Open(ctx, uri, password, cfg)
}

// OpenReadOnly opens the vault at uri read-only, resolving its password
// the standard way. Callers must Close the returned vault.
func OpenReadOnly(ctx context.Context, uri string) (*vault.Vault, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.ReadOnly = true
	password, err := ResolvePassword()
	if err != nil {
		return nil, err
	}
	return vault.Open(ctx, uri, password, cfg)
}
