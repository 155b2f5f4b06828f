package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazyscot/qcp-sub001/internal/bytesize"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

func withConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	old := flagConfigFile
	flagConfigFile = path
	t.Cleanup(func() { flagConfigFile = old })
}

func TestLoadConfigurationMissingExplicitFile(t *testing.T) {
	old := flagConfigFile
	flagConfigFile = filepath.Join(t.TempDir(), "does-not-exist.yaml")
	t.Cleanup(func() { flagConfigFile = old })

	_, err := loadConfiguration("host")
	// An explicitly named but missing config file is an error.
	assert.Error(t, err)
}

func TestLoadConfigurationFromFile(t *testing.T) {
	withConfigFile(t, `
rx: 100M
tx: 12.5M
rtt: 150
congestion: newreno
remote_port: 60000-60010
`)
	cfg, err := loadConfiguration("somewhere")
	require.NoError(t, err)
	assert.Equal(t, bytesize.ByteSize(100_000_000), cfg.RxBandwidth)
	assert.Equal(t, bytesize.ByteSize(12_500_000), cfg.TxBandwidth)
	assert.Equal(t, uint64(150), cfg.RttMs)
	assert.Equal(t, "newreno", cfg.Congestion)
	assert.Equal(t, protocol.PortRange{Begin: 60000, End: 60010}, cfg.RemotePort)
}

func TestLoadConfigurationHostBlocks(t *testing.T) {
	withConfigFile(t, `
rx: 10M
hosts:
  - patterns: ["*.fast.example.com", "!slow.fast.example.com"]
    rx: 125M
    rtt: 20
  - patterns: ["*"]
    congestion: bbr
`)

	cfg, err := loadConfiguration("node1.fast.example.com")
	require.NoError(t, err)
	assert.Equal(t, bytesize.ByteSize(125_000_000), cfg.RxBandwidth)
	assert.Equal(t, uint64(20), cfg.RttMs)
	assert.Equal(t, "bbr", cfg.Congestion)

	cfg, err = loadConfiguration("slow.fast.example.com")
	require.NoError(t, err)
	// Negated pattern: the fast block does not apply.
	assert.Equal(t, bytesize.ByteSize(10_000_000), cfg.RxBandwidth)
	assert.Equal(t, "bbr", cfg.Congestion)

	cfg, err = loadConfiguration("elsewhere.org")
	require.NoError(t, err)
	assert.Equal(t, bytesize.ByteSize(10_000_000), cfg.RxBandwidth)
}

func TestLoadConfigurationRejectsInvalid(t *testing.T) {
	withConfigFile(t, "congestion: vegas\n")
	_, err := loadConfiguration("h")
	assert.Error(t, err)
}
