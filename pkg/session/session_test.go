package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/stats"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

func testSession(level uint16) *Session {
	return &Session{
		Compat: protocol.Level(level),
		Config: config.SystemDefault(),
		Stats:  stats.NewAggregator(),
	}
}

// serve runs the server side of one stream in the background and
// reports its error on the returned channel.
func serve(t *testing.T, s *Session, stream Stream) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Handle(context.Background(), stream) }()
	return done
}

func writeTestFile(t *testing.T, dir, name string, size int, mode os.FileMode) (string, []byte) {
	t.Helper()
	content := make([]byte, size)
	_, err := rand.Read(content)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	require.NoError(t, os.Chmod(path, mode))
	return path, content
}

func TestGetRoundTrip(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, content := writeTestFile(t, srcDir, "myfile", 300_000, 0o640)

	clientEnd, serverEnd := net.Pipe()
	server := testSession(protocol.OurCompatibilityLevel)
	done := serve(t, server, serverEnd)

	client := testSession(protocol.OurCompatibilityLevel)
	dest, err := client.SendGet(context.Background(), clientEnd, src, dstDir, false)
	require.NoError(t, err)
	require.NoError(t, <-done)

	// Destination was a directory, so the source name was appended.
	assert.Equal(t, filepath.Join(dstDir, "myfile"), dest)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "content mismatch")

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), info.Size())
	// Preservation off: mode is source & ^umask.
	assert.Equal(t, os.FileMode(0o640)&^processUmask(), info.Mode().Perm())

	assert.Equal(t, uint64(300_000), client.Stats.PayloadBytes())
}

func TestGetPreservesMetadata(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, _ := writeTestFile(t, srcDir, "data.bin", 1024, 0o604)

	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)

	client := testSession(protocol.OurCompatibilityLevel)
	dest, err := client.SendGet(context.Background(), clientEnd, src, dstDir, true)
	require.NoError(t, err)
	require.NoError(t, <-done)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	// Preservation on: exact source mode, umask ignored.
	assert.Equal(t, os.FileMode(0o604), info.Mode().Perm())

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	assert.Equal(t, srcInfo.ModTime().Unix(), info.ModTime().Unix())
}

func TestGetAtLevel1UsesV1(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, content := writeTestFile(t, srcDir, "old.bin", 4096, 0o644)

	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(1), serverEnd)

	client := testSession(1)
	dest, err := client.SendGet(context.Background(), clientEnd, src, filepath.Join(dstDir, "out.bin"), false)
	require.NoError(t, err)
	require.NoError(t, <-done)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestGetFileNotFound(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)

	client := testSession(protocol.OurCompatibilityLevel)
	_, err := client.SendGet(context.Background(), clientEnd, "/no/such/file.txt", t.TempDir(), false)
	require.Error(t, err)
	var se *protocol.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.StatusFileNotFound, se.Status)
	require.Error(t, <-done)
}

func TestPutRoundTrip(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, content := writeTestFile(t, srcDir, "upload.bin", 150_000, 0o640)

	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)

	client := testSession(protocol.OurCompatibilityLevel)
	err := client.SendPut(context.Background(), clientEnd, src, dstDir, false)
	require.NoError(t, err)
	require.NoError(t, <-done)

	got, err := os.ReadFile(filepath.Join(dstDir, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutExplicitDestinationName(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, content := writeTestFile(t, srcDir, "a.bin", 1000, 0o600)

	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)

	client := testSession(protocol.OurCompatibilityLevel)
	target := filepath.Join(dstDir, "renamed.bin")
	require.NoError(t, client.SendPut(context.Background(), clientEnd, src, target, false))
	require.NoError(t, <-done)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutMissingParentDirectory(t *testing.T) {
	srcDir := t.TempDir()
	src, _ := writeTestFile(t, srcDir, "a.bin", 100, 0o600)

	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)

	client := testSession(protocol.OurCompatibilityLevel)
	err := client.SendPut(context.Background(), clientEnd, src, "/fjds/no-such-file.txt", false)
	require.Error(t, err)
	var se *protocol.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.StatusDirectoryDoesNotExist, se.Status)
	require.Error(t, <-done)
}

func TestMkdir(t *testing.T) {
	dir := t.TempDir()

	t.Run("success", func(t *testing.T) {
		clientEnd, serverEnd := net.Pipe()
		done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
		client := testSession(protocol.OurCompatibilityLevel)
		target := filepath.Join(dir, "newdir")
		require.NoError(t, client.SendCreateDirectory(clientEnd, target))
		require.NoError(t, <-done)
		info, err := os.Stat(target)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("already exists is fine", func(t *testing.T) {
		clientEnd, serverEnd := net.Pipe()
		done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
		client := testSession(protocol.OurCompatibilityLevel)
		require.NoError(t, client.SendCreateDirectory(clientEnd, filepath.Join(dir, "newdir")))
		require.NoError(t, <-done)
	})

	t.Run("existing file refused", func(t *testing.T) {
		f, _ := writeTestFile(t, dir, "occupied", 10, 0o600)
		clientEnd, serverEnd := net.Pipe()
		done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
		client := testSession(protocol.OurCompatibilityLevel)
		err := client.SendCreateDirectory(clientEnd, f)
		var se *protocol.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, protocol.StatusItIsAFile, se.Status)
		require.Error(t, <-done)
	})

	t.Run("missing parent", func(t *testing.T) {
		clientEnd, serverEnd := net.Pipe()
		done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
		client := testSession(protocol.OurCompatibilityLevel)
		err := client.SendCreateDirectory(clientEnd, filepath.Join(dir, "d", "e"))
		var se *protocol.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, protocol.StatusFileNotFound, se.Status)
		require.Error(t, <-done)
	})

	t.Run("gated below level 4", func(t *testing.T) {
		clientEnd, _ := net.Pipe()
		client := testSession(3)
		err := client.SendCreateDirectory(clientEnd, "x")
		assert.ErrorContains(t, err, "not supported")
	})
}

func TestSetMetadata(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeTestFile(t, dir, "target", 10, 0o600)

	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
	client := testSession(protocol.OurCompatibilityLevel)
	md := []wire.TaggedData{
		wire.TaggedUnsigned(protocol.MetaMode, 0o755),
		wire.TaggedUnsigned(protocol.MetaModificationTime, 1_600_000_000),
	}
	require.NoError(t, client.SendSetMetadata(clientEnd, path, md))
	require.NoError(t, <-done)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.Equal(t, int64(1_600_000_000), info.ModTime().Unix())
}

func TestSetMetadataMissingPath(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
	client := testSession(protocol.OurCompatibilityLevel)
	err := client.SendSetMetadata(clientEnd, "/no/such/path", nil)
	var se *protocol.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.StatusFileNotFound, se.Status)
	require.Error(t, <-done)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", 100, 0o644)
	writeTestFile(t, dir, "b.txt", 200, 0o600)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
	client := testSession(protocol.OurCompatibilityLevel)
	data, err := client.SendList(clientEnd, dir)
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.Len(t, data.Entries, 3)
	byName := map[string]protocol.ListEntry{}
	for _, e := range data.Entries {
		byName[e.Name] = e
	}
	assert.Equal(t, uint64(100), byName["a.txt"].Size)
	assert.Equal(t, protocol.ListEntryFile, byName["a.txt"].Kind)
	assert.Equal(t, protocol.ListEntryDirectory, byName["sub"].Kind)
}

func TestListOfFileRefused(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeTestFile(t, dir, "f", 10, 0o600)

	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
	client := testSession(protocol.OurCompatibilityLevel)
	_, err := client.SendList(clientEnd, path)
	var se *protocol.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.StatusDirectoryDoesNotExist, se.Status)
	require.Error(t, <-done)
}

func TestHandleIdleClose(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)
	// Close without sending a command: clean idle close, no error.
	require.NoError(t, clientEnd.Close())
	assert.NoError(t, <-done)
}

func TestHandleRejectsGatedCommand(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	// Server negotiated level 1: mkdir must be refused.
	done := serve(t, testSession(1), serverEnd)

	cmd := protocol.Command{CreateDir: &protocol.CreateDirectoryArgs{DirName: "x"}}
	require.NoError(t, wire.WriteFramed(clientEnd, &cmd))
	err := readResponse(clientEnd)
	var se *protocol.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.StatusProtocolError, se.Status)
	require.NoError(t, <-done)
}

func TestHandleUnknownCommand(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	done := serve(t, testSession(protocol.OurCompatibilityLevel), serverEnd)

	// A command from the future: discriminant 99.
	var frame bytes.Buffer
	require.NoError(t, wire.WriteUint(&frame, 1))
	frame.WriteByte(99)
	_, err := clientEnd.Write(frame.Bytes())
	require.NoError(t, err)

	respErr := readResponse(clientEnd)
	var se *protocol.StatusError
	require.ErrorAs(t, respErr, &se)
	assert.Equal(t, protocol.StatusProtocolError, se.Status)
	require.Error(t, <-done)
}

func TestStatusForMapping(t *testing.T) {
	status, _ := statusFor(os.ErrNotExist)
	assert.Equal(t, protocol.StatusFileNotFound, status)
	status, _ = statusFor(os.ErrPermission)
	assert.Equal(t, protocol.StatusIncorrectPermissions, status)
	status, msg := statusFor(assert.AnError)
	assert.Equal(t, protocol.StatusIoError, status)
	assert.NotEmpty(t, msg)
}
