package cmdutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittovault/internal/cliout"
	"github.com/marmos91/dittovault/pkg/vaultconfig"
)

func resetFlags(t *testing.T) {
	t.Helper()
	saved := *Flags
	t.Cleanup(func() { *Flags = saved })
	*Flags = GlobalFlags{}
}

func TestResolvePasswordPrefersFlag(t *testing.T) {
	resetFlags(t)
	Flags.Password = "from-flag"
	t.Setenv(EnvPassword, "from-env")

	got, err := ResolvePassword()
	require.NoError(t, err)
	assert.Equal(t, "from-flag", got)
}

func TestResolvePasswordFallsBackToEnv(t *testing.T) {
	resetFlags(t)
	t.Setenv(EnvPassword, "from-env")

	got, err := ResolvePassword()
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}

func TestGetOutputFormatDefaultsToTable(t *testing.T) {
	resetFlags(t)
	Flags.Output = ""

	got, err := GetOutputFormat()
	require.NoError(t, err)
	assert.Equal(t, cliout.FormatTable, got)
}

func TestGetOutputFormatRejectsUnknown(t *testing.T) {
	resetFlags(t)
	Flags.Output = "xml"

	_, err := GetOutputFormat()
	assert.Error(t, err)
}

func TestLoadConfigAppliesKdfLevelOverride(t *testing.T) {
	resetFlags(t)
	Flags.KdfLevel = "interactive"

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, vaultconfig.Interactive, cfg.OpsLimit)
	assert.Equal(t, vaultconfig.Interactive, cfg.MemLimit)
}

func TestLoadConfigWithoutOverrideUsesDefaults(t *testing.T) {
	resetFlags(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, vaultconfig.Moderate, cfg.OpsLimit)
}
