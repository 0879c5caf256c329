package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBatch_DeduplicatesNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names := []string{"aaaa1111", "bbbb2222", "aaaa1111", "cccc3333"}
	files, err := s.CreateBatch(ctx, names)
	require.NoError(t, err)
	require.Len(t, files, 3)
	defer func() {
		for _, nf := range files {
			_ = nf.File.Close()
		}
	}()

	assert.Equal(t, "aaaa1111", files[0].Name)
	assert.Equal(t, "bbbb2222", files[1].Name)
	assert.Equal(t, "cccc3333", files[2].Name)
	for _, nf := range files {
		assert.Equal(t, nf.Name, nf.File.Name())
		assert.True(t, s.Exists(nf.Name, true))
	}
	assert.Equal(t, int64(testSize), du(t, s.Folder()))
}

func TestCreateBatch_OneStabilize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	allocs := promtest.ToFloat64(testMetrics.AllocationsTotal.WithLabelValues("ok"))
	stabs := promtest.ToFloat64(testMetrics.StabilizeTotal)

	files, err := s.CreateBatch(ctx, []string{"0000aaaa", "1111bbbb", "2222cccc", "3333dddd"})
	require.NoError(t, err)
	defer func() {
		for _, nf := range files {
			_ = nf.File.Close()
		}
	}()

	assert.Equal(t, allocs+1, promtest.ToFloat64(testMetrics.AllocationsTotal.WithLabelValues("ok")))
	assert.Equal(t, stabs+1, promtest.ToFloat64(testMetrics.StabilizeTotal))
}

func TestCreateBatch_InvalidName(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateBatch(context.Background(), []string{"aaaa1111", "bad/name"})
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.False(t, s.Exists("aaaa1111", true))
}

func TestWriteBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	files, err := s.CreateBatch(ctx, []string{"aaaa1111", "bbbb2222"})
	require.NoError(t, err)

	allocs := promtest.ToFloat64(testMetrics.AllocationsTotal.WithLabelValues("ok"))
	stabs := promtest.ToFloat64(testMetrics.StabilizeTotal)

	items := []WriteItem{
		{File: files[0].File, Data: []byte("first payload"), Original: 100},
		{File: files[1].File, Data: make([]byte, 9000), Original: 20000},
	}
	written, err := s.WriteBatch(ctx, items)
	require.NoError(t, err)
	require.Len(t, written, 2)

	assert.Equal(t, Written{Hash: "aaaa1111", Original: 100, Size: int64(len("first payload"))}, written[0])
	assert.Equal(t, Written{Hash: "bbbb2222", Original: 20000, Size: 9000}, written[1])

	assert.Equal(t, allocs+1, promtest.ToFloat64(testMetrics.AllocationsTotal.WithLabelValues("ok")))
	assert.Equal(t, stabs+1, promtest.ToFloat64(testMetrics.StabilizeTotal))
	assert.Equal(t, int64(testSize), du(t, s.Folder()))

	got, err := files[0].File.Read(ctx, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("first payload"), got)

	for _, nf := range files {
		require.NoError(t, nf.File.Close())
	}
}

func TestWriteBatch_QuotaExceededStillStabilizes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	files, err := s.CreateBatch(ctx, []string{"aaaa1111"})
	require.NoError(t, err)
	defer func() { _ = files[0].File.Close() }()

	_, err = s.WriteBatch(ctx, []WriteItem{{File: files[0].File, Data: make([]byte, testSize)}})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, int64(testSize), du(t, s.Folder()))
}

func TestWriteBatch_ClosedFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	files, err := s.CreateBatch(ctx, []string{"aaaa1111"})
	require.NoError(t, err)
	require.NoError(t, files[0].File.Close())

	_, err = s.WriteBatch(ctx, []WriteItem{{File: files[0].File, Data: []byte("x")}})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int64(testSize), du(t, s.Folder()))
}

func TestDeleteBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	files, err := s.CreateBatch(ctx, []string{"aaaa1111", "aaaa2222", "bbbb3333"})
	require.NoError(t, err)

	items := make([]WriteItem, len(files))
	handles := make([]*File, len(files))
	for i, nf := range files {
		items[i] = WriteItem{File: nf.File, Data: []byte(nf.Name)}
		handles[i] = nf.File
	}
	_, err = s.WriteBatch(ctx, items)
	require.NoError(t, err)

	stabs := promtest.ToFloat64(testMetrics.StabilizeTotal)
	require.NoError(t, s.DeleteBatch(ctx, handles))
	assert.Equal(t, stabs+1, promtest.ToFloat64(testMetrics.StabilizeTotal))

	for _, nf := range files {
		assert.False(t, s.Exists(nf.Name, true))
	}
	for _, dir := range []string{"aa", "bb"} {
		_, err := os.Stat(filepath.Join(s.Folder(), dir))
		assert.True(t, os.IsNotExist(err), "shard %s should be pruned", dir)
	}
	assert.Equal(t, int64(testSize), du(t, s.Folder()))

	// Deleting again is harmless.
	require.NoError(t, s.DeleteBatch(ctx, handles))
}

func TestDeleteBatch_KeepsSharedShard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	files, err := s.CreateBatch(ctx, []string{"aaaa1111", "aaaa2222"})
	require.NoError(t, err)
	defer func() { _ = files[1].File.Close() }()

	require.NoError(t, s.DeleteBatch(ctx, []*File{files[0].File}))
	assert.False(t, s.Exists("aaaa1111", true))
	assert.True(t, s.Exists("aaaa2222", true))
}
