package installer

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeExtractor_Zip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "agent.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("nested/ngrok")
	require.NoError(t, err)
	_, err = w.Write([]byte("binary"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	dest := filepath.Join(dir, "out")
	require.NoError(t, NativeExtractor{}.Extract(context.Background(), archive, dest))

	got, err := os.ReadFile(filepath.Join(dest, "nested", "ngrok"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(got))

	found, err := findBinary(dest, "ngrok")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "nested", "ngrok"), found)
}

func TestNativeExtractor_TarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "agent.tgz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte("binary")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "ngrok", Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	dest := filepath.Join(dir, "out")
	require.NoError(t, NativeExtractor{}.Extract(context.Background(), archive, dest))

	got, err := os.ReadFile(filepath.Join(dest, "ngrok"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(got))
}

func TestNativeExtractor_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escaped")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	err = NativeExtractor{}.Extract(context.Background(), archive, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")

	_, statErr := os.Stat(filepath.Join(dir, "escaped"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFindBinary_PrefixFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ngrok-v3"), []byte("x"), 0o644))

	found, err := findBinary(dir, "ngrok")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ngrok-v3"), found)

	_, err = findBinary(t.TempDir(), "ngrok")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}
