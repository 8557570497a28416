package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"launchpad/crypto"
)

func testAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address().String()
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.RPCAddress)
	require.Equal(t, uint32(100), cfg.FeePoints)

	_, err = os.Stat(path)
	require.NoError(t, err)

	// The written default file loads back cleanly.
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "./launchpad-data", cfg.DataDir)
}

func TestLoadParsesRoles(t *testing.T) {
	feeWallet := testAddress(t)
	admin := testAddress(t)
	operator := testAddress(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
RPCAddress = ":9000"
DataDir = "/tmp/launchpad"
FeeWallet = "` + feeWallet + `"
FeePoints = 250
Admin = "` + admin + `"
Operators = ["` + operator + `"]
RequireSignature = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.RPCAddress)
	require.True(t, cfg.RequireSignature)
	require.Equal(t, uint32(250), cfg.FeePoints)

	decoded, err := cfg.FeeWalletAddress()
	require.NoError(t, err)
	require.NotEqual(t, [20]byte{}, decoded)

	operators, err := cfg.OperatorAddresses()
	require.NoError(t, err)
	require.Len(t, operators, 1)
}

func TestLoadRejectsBadAddresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`FeeWallet = "not-an-address"`), 0o644))
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`FeePoints = 20000`), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}
