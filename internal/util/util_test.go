package util

import (
	"bytes"
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "tls", "api.crt")
	key := filepath.Join(dir, "tls", "api.key")

	created, err := EnsureSelfSignedCert(cert, key, []string{"127.0.0.1", "shack.local"})
	require.NoError(t, err)
	assert.True(t, created)

	pair, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Certificate)

	info, err := os.Stat(key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	created, err = EnsureSelfSignedCert(cert, key, nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestInitLoggerWritesFile(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	cfg := DefaultLogConfig()
	cfg.Directory = t.TempDir()
	cfg.Console = false

	closer, err := InitLogger(cfg)
	require.NoError(t, err)
	log.Info().Msg("hello from test")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(cfg.Directory, "flexlink.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), `"app":"flexlink"`)
}

func TestComponentLogger(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	logger := ComponentLogger("radio")
	logger.Info().Msg("connecting")
	assert.Contains(t, buf.String(), `"component":"radio"`)
	assert.Contains(t, buf.String(), "connecting")
}

func TestSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.NotEmpty(t, info.Architecture)
	assert.Positive(t, info.CPUCores)

	usage, err := GetProcessUsage()
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), usage.PID)
}
