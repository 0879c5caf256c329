package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/chunkvault/internal/manifest"
	"github.com/tunnelmesh/chunkvault/internal/store"
	"github.com/tunnelmesh/chunkvault/testutil"
)

const testConfig = `
size: 64MB
log_level: error
chunking:
  min_size: 4KB
  max_size: 32KB
  average_bits: 13
  window: 64KB
`

// run executes one chunkvault invocation against root and returns its
// stdout.
func run(t *testing.T, configPath, root string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath, "--root", root}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func setup(t *testing.T) (configPath, root, work string) {
	t.Helper()
	work = t.TempDir()
	root = filepath.Join(work, "vault")
	require.NoError(t, os.Mkdir(root, 0o755))
	configPath = testutil.TempFile(t, work, "chunkvault.yaml", testConfig)
	return configPath, root, work
}

func isChunk(name string) bool {
	return manifest.IsHash(name)
}

func TestPutGetRoundTrip(t *testing.T) {
	configPath, root, work := setup(t)
	data := testutil.RandomBytes(1, 300<<10)
	src := filepath.Join(work, "source.bin")
	require.NoError(t, os.WriteFile(src, data, 0o644))
	man := filepath.Join(work, "source.manifest")

	_, err := run(t, configPath, root, "put", src, man)
	require.NoError(t, err)
	assert.Positive(t, testutil.CountFiles(t, root, isChunk))

	out, err := run(t, configPath, root, "get", man)
	require.NoError(t, err)
	assert.Equal(t, data, []byte(out))

	dst := filepath.Join(work, "copy.bin")
	_, err = run(t, configPath, root, "get", man, dst)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	out, err = run(t, configPath, root, "cat-range", man, "1000", "1100")
	require.NoError(t, err)
	assert.Equal(t, data[1000:1100], []byte(out))
}

func TestInspect(t *testing.T) {
	configPath, root, work := setup(t)
	data := testutil.RandomBytes(2, 100<<10)
	src := testutil.TempFile(t, work, "source.bin", string(data))
	man := filepath.Join(work, "source.manifest")

	_, err := run(t, configPath, root, "put", src, man)
	require.NoError(t, err)

	out, err := run(t, configPath, root, "inspect", man)
	require.NoError(t, err)

	var got inspection
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, uint64(len(data)), got.Length)
	require.NotEmpty(t, got.Chunks)
	for i, ch := range got.Chunks {
		assert.Equal(t, uint32(i), ch.Index)
		assert.True(t, manifest.IsHash(ch.Hash))
	}
}

func TestRm(t *testing.T) {
	configPath, root, work := setup(t)
	data := testutil.RandomBytes(3, 200<<10)
	src := testutil.TempFile(t, work, "source.bin", string(data))
	first := filepath.Join(work, "first.manifest")
	second := filepath.Join(work, "second.manifest")

	_, err := run(t, configPath, root, "put", src, first)
	require.NoError(t, err)
	chunks := testutil.CountFiles(t, root, isChunk)

	_, err = run(t, configPath, root, "put", src, second)
	require.NoError(t, err)
	assert.Equal(t, chunks, testutil.CountFiles(t, root, isChunk), "identical content is stored once")

	out, err := run(t, configPath, root, "rm", first, "--keep", second)
	require.NoError(t, err)
	assert.Contains(t, out, "shared chunks retained")
	assert.Equal(t, chunks, testutil.CountFiles(t, root, isChunk))
	assert.NoFileExists(t, first)

	got, err := run(t, configPath, root, "get", second)
	require.NoError(t, err)
	assert.Equal(t, data, []byte(got))
}

func TestRm_RemovesUnsharedChunks(t *testing.T) {
	configPath, root, work := setup(t)
	src := testutil.TempFile(t, work, "source.bin", string(testutil.RandomBytes(4, 150<<10)))
	man := filepath.Join(work, "source.manifest")

	_, err := run(t, configPath, root, "put", src, man)
	require.NoError(t, err)

	out, err := run(t, configPath, root, "rm", man)
	require.NoError(t, err)
	assert.Contains(t, out, "0 shared chunks retained")
	assert.Zero(t, testutil.CountFiles(t, root, isChunk))
	assert.FileExists(t, filepath.Join(root, store.SentinelName))
}

func TestUsage(t *testing.T) {
	configPath, root, _ := setup(t)

	out, err := run(t, configPath, root, "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "Root:")
	assert.Contains(t, out, "64.00 MB")
}

func TestSizeFlagOverridesConfig(t *testing.T) {
	configPath, root, _ := setup(t)

	out, err := run(t, configPath, root, "--size", "32MB", "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "32.00 MB")
}

func TestMissingSize(t *testing.T) {
	_, root, work := setup(t)
	configPath := testutil.TempFile(t, work, "nosize.yaml", "log_level: error\n")

	_, err := run(t, configPath, root, "usage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size")
}

func TestMetricsFlag(t *testing.T) {
	configPath, root, _ := setup(t)

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--config", configPath, "--root", root, "--metrics", "usage"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.True(t, strings.Contains(stderr.String(), "chunkvault_quota_bytes"))
}
