package stream

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/chunkvault/internal/chunker"
	"github.com/tunnelmesh/chunkvault/internal/dedup"
	"github.com/tunnelmesh/chunkvault/internal/store"
	"github.com/tunnelmesh/chunkvault/testutil"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir(), 64<<20, store.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, st.Ready(context.Background()))
	return st
}

func newDedupFile(t *testing.T, st *store.Store) *dedup.File {
	t.Helper()
	f, err := dedup.Open(context.Background(), st, nil,
		dedup.WithLogger(zerolog.Nop()),
		dedup.WithParams(chunker.Params{
			MinSize:     1 << 10,
			MaxSize:     8 << 10,
			AverageBits: 12,
			Polynomial:  chunker.DefaultPolynomial,
			Window:      32 << 10,
		}))
	require.NoError(t, err)
	return f
}

func randomData(n int) []byte {
	return testutil.RandomBytes(int64(n), n)
}

func TestWriterReader_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newDedupFile(t, newStore(t))
	data := randomData(250 << 10)

	w := NewWriter(ctx, f, WithHighWaterMark(64<<10))
	n, err := io.Copy(w, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	require.NoError(t, w.Close())
	assert.Zero(t, f.Buffered())

	got, err := io.ReadAll(NewReader(ctx, f))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriter_HoldsBelowHighWaterMark(t *testing.T) {
	ctx := context.Background()
	f := newDedupFile(t, newStore(t))

	w := NewWriter(ctx, f)
	_, err := w.Write([]byte("Hello world!"))
	require.NoError(t, err)
	assert.Zero(t, f.Buffered(), "bytes stay in the writer until the mark")
	assert.Zero(t, f.Length())

	require.NoError(t, w.Close())
	assert.Equal(t, uint64(12), f.Length())
}

func TestWriter_WriteAfterClose(t *testing.T) {
	ctx := context.Background()
	f := newDedupFile(t, newStore(t))

	w := NewWriter(ctx, f)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.Write([]byte("late"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestReader_SeekAndReadAt(t *testing.T) {
	ctx := context.Background()
	f := newDedupFile(t, newStore(t))
	data := randomData(100 << 10)

	w := NewWriter(ctx, f)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(ctx, f)

	pos, err := r.Seek(-10, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-10), pos)
	tail, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[len(data)-10:], tail)

	_, err = r.Seek(5000, io.SeekStart)
	require.NoError(t, err)
	_, err = r.Seek(100, io.SeekCurrent)
	require.NoError(t, err)
	buf := make([]byte, 50)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, data[5100:5150], buf)

	buf = make([]byte, 100)
	n, err := r.ReadAt(buf, int64(len(data)-40))
	assert.Equal(t, 40, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, data[len(data)-40:], buf[:n])

	_, err = r.ReadAt(buf, int64(len(data)))
	assert.ErrorIs(t, err, io.EOF)

	_, err = r.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestFileWriterReader(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	sf, err := st.Create(ctx, "notes.txt", false)
	require.NoError(t, err)
	defer func() { _ = sf.Close() }()

	w, err := NewFileWriter(ctx, sf)
	require.NoError(t, err)
	_, err = io.WriteString(w, "first line\n")
	require.NoError(t, err)
	_, err = io.WriteString(w, "second line\n")
	require.NoError(t, err)

	got, err := io.ReadAll(NewFileReader(ctx, sf))
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line\n", string(got))

	// A new writer appends.
	w, err = NewFileWriter(ctx, sf)
	require.NoError(t, err)
	_, err = io.WriteString(w, "third\n")
	require.NoError(t, err)

	r := NewFileReader(ctx, sf)
	_, err = r.Seek(-6, io.SeekEnd)
	require.NoError(t, err)
	got, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "third\n", string(got))
}
