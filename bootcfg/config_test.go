package bootcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileMergesOverDefaultsAndAllowsComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.jsonc")
	body := []byte(`{
		// override just the buffer cache
		"nbuf": 64,
		"nbucket": 17,
	}`)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.NBUF)
	require.Equal(t, 17, cfg.NBUCKET)
	require.Equal(t, Default().BSIZE, cfg.BSIZE)
}

func TestLoadFileMissingPathErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.Error(t, err)
}

func TestParseFlagsOverridesDefaults(t *testing.T) {
	cfg, err := ParseFlags(Default(), []string{"--nbuf=12", "--ncpu=4"})
	require.NoError(t, err)
	require.Equal(t, 12, cfg.NBUF)
	require.Equal(t, 4, cfg.NCPU)
	require.Equal(t, Default().BSIZE, cfg.BSIZE)
}

func TestParseFlagsWithConfigFlagLoadsFileFirst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"bsize": 2048}`), 0o644))

	cfg, err := ParseFlags(Default(), []string{"--config=" + path, "--nbuf=99"})
	require.NoError(t, err)
	require.Equal(t, 2048, cfg.BSIZE)
	require.Equal(t, 99, cfg.NBUF)
}

func TestValidateRejectsZeroPhystop(t *testing.T) {
	cfg := Default()
	cfg.PHYSTOP = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMisalignedPhystop(t *testing.T) {
	cfg := Default()
	cfg.PGSIZE = 100
	cfg.PHYSTOP = 1050
	require.Error(t, cfg.Validate())
}
