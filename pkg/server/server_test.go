package server_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazyscot/qcp-sub001/pkg/client"
	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/server"
)

// startServer runs the server end over one half of a pipe, as the
// spawned remote process would.
func startServer(t *testing.T, controlEnd net.Conn) <-chan error {
	t.Helper()
	cfg := config.SystemDefault()
	cfg.AddressFamily = "4"
	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background(), controlEnd, cfg) }()
	return done
}

func runJob(t *testing.T, job *client.CopyJob) error {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	serverDone := startServer(t, serverEnd)

	cfg := config.SystemDefault()
	cfg.AddressFamily = "4"
	cli := client.New(cfg, false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := cli.Run(ctx, clientEnd, job)

	select {
	case serverErr := <-serverDone:
		assert.NoError(t, serverErr)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not finish")
	}
	return err
}

func TestEndToEndPut(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	content := make([]byte, 2_000_000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	src := filepath.Join(srcDir, "payload.bin")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	job, err := client.NewCopyJob(
		client.FileSpec{Path: src},
		client.FileSpec{Host: "localhost", Path: dstDir},
		false)
	require.NoError(t, err)

	require.NoError(t, runJob(t, job))

	got, err := os.ReadFile(filepath.Join(dstDir, "payload.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "payload mismatch")
}

func TestEndToEndGet(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	content := make([]byte, 500_000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	src := filepath.Join(srcDir, "remote.bin")
	require.NoError(t, os.WriteFile(src, content, 0o640))

	job, err := client.NewCopyJob(
		client.FileSpec{Host: "localhost", Path: src},
		client.FileSpec{Path: filepath.Join(dstDir, "local.bin")},
		true)
	require.NoError(t, err)

	require.NoError(t, runJob(t, job))

	got, err := os.ReadFile(filepath.Join(dstDir, "local.bin"))
	require.NoError(t, err)
	assert.Equal(t, len(content), len(got))
	assert.True(t, bytes.Equal(content, got))

	// Preservation was requested: mode carried over exactly.
	info, err := os.Stat(filepath.Join(dstDir, "local.bin"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestEndToEndGetMissingFile(t *testing.T) {
	job, err := client.NewCopyJob(
		client.FileSpec{Host: "localhost", Path: "/no/such/file"},
		client.FileSpec{Path: filepath.Join(t.TempDir(), "out")},
		false)
	require.NoError(t, err)

	err = runJob(t, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FileNotFound")
}
