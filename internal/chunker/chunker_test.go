package chunker

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/chunkvault/testutil"
)

func smallParams() Params {
	return Params{
		MinSize:     1 << 10,
		MaxSize:     8 << 10,
		AverageBits: 12,
		Polynomial:  DefaultPolynomial,
		Window:      32 << 10,
	}
}

func randomData(seed int64, n int) []byte {
	return testutil.RandomBytes(seed, n)
}

// chunkAll feeds data in writes of the given size and flushes.
func chunkAll(t *testing.T, p Params, data []byte, writeSize int) [][]byte {
	t.Helper()
	e, err := New(p)
	require.NoError(t, err)

	var parts [][]byte
	for off := 0; off < len(data); off += writeSize {
		end := min(off+writeSize, len(data))
		parts = append(parts, e.Write(data[off:end])...)
	}
	parts = append(parts, e.Flush()...)
	assert.Zero(t, e.Buffered())
	return parts
}

func TestDefaultParamsValid(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"zero min", func(p *Params) { p.MinSize = 0 }},
		{"min above max", func(p *Params) { p.MinSize = p.MaxSize + 1 }},
		{"max equals window", func(p *Params) { p.MaxSize = p.Window }},
		{"bits too small", func(p *Params) { p.AverageBits = 9 }},
		{"bits too large", func(p *Params) { p.AverageBits = 31 }},
		{"reducible polynomial", func(p *Params) { p.Polynomial = 0x3DA3358B4DC172 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := smallParams()
			tt.modify(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
			_, err := New(p)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestEngine_NoDataLoss(t *testing.T) {
	data := randomData(1, 200<<10)
	parts := chunkAll(t, smallParams(), data, 4096)

	assert.Equal(t, data, bytes.Join(parts, nil))
	for i, part := range parts {
		assert.LessOrEqual(t, len(part), smallParams().MaxSize, "part %d", i)
		if i < len(parts)-1 {
			assert.GreaterOrEqual(t, len(part), smallParams().MinSize, "part %d", i)
		}
	}
}

func TestEngine_BoundariesIndependentOfWriteSize(t *testing.T) {
	data := randomData(2, 300<<10)
	reference := chunkAll(t, smallParams(), data, len(data))
	require.Greater(t, len(reference), 1)

	for _, size := range []int{1, 7, 1000, 4096, 33 << 10, 100 << 10} {
		got := chunkAll(t, smallParams(), data, size)
		assert.Equal(t, reference, got, "write size %d", size)
	}
}

func TestEngine_WriteHoldsTailUntilWindow(t *testing.T) {
	p := smallParams()
	e, err := New(p)
	require.NoError(t, err)

	data := randomData(3, p.Window-1)
	assert.Empty(t, e.Write(data))
	assert.Equal(t, len(data), e.Buffered())

	parts := e.Write(randomData(4, 1))
	assert.NotEmpty(t, parts)
	assert.Less(t, e.Buffered(), p.Window)
}

func TestEngine_FlushIdempotent(t *testing.T) {
	e, err := New(smallParams())
	require.NoError(t, err)

	data := []byte("Hello world!")
	assert.Empty(t, e.Write(data))

	parts := e.Flush()
	require.Len(t, parts, 1)
	assert.Equal(t, data, parts[0])

	assert.Empty(t, e.Flush())
	assert.Zero(t, e.Buffered())
}

func TestEngine_PartsAreCopies(t *testing.T) {
	e, err := New(smallParams())
	require.NoError(t, err)

	data := []byte("mutable input")
	e.Write(data)
	data[0] = 'X'

	parts := e.Flush()
	require.Len(t, parts, 1)
	assert.Equal(t, []byte("mutable input"), parts[0])
}

func TestEngine_RepeatedContentSharesChunks(t *testing.T) {
	block := randomData(5, 100<<10)
	data := bytes.Repeat(block, 3)

	parts := chunkAll(t, smallParams(), data, 8192)

	seen := make(map[string]int)
	for _, part := range parts {
		seen[string(part)]++
	}
	assert.Less(t, len(seen), len(parts), "repeated input should repeat chunks")
}

func TestEngine_RestoreUndoesCommit(t *testing.T) {
	p := smallParams()
	data := randomData(6, 100<<10)
	reference := chunkAll(t, p, data, len(data))

	e, err := New(p)
	require.NoError(t, err)

	first := e.Write(data)
	require.NotEmpty(t, first)
	e.Restore(first)
	assert.Equal(t, len(data), e.Buffered())

	again := e.Write(nil)
	again = append(again, e.Flush()...)
	assert.Equal(t, reference, again)
}

func TestEngine_RestoreAndTruncateUndoWrite(t *testing.T) {
	p := smallParams()
	head := randomData(7, 10<<10)
	data := randomData(8, 100<<10)

	e, err := New(p)
	require.NoError(t, err)
	require.Empty(t, e.Write(head))
	before := e.Buffered()

	parts := e.Write(data)
	require.NotEmpty(t, parts)
	e.Restore(parts)
	e.Truncate(before)
	assert.Equal(t, len(head), e.Buffered())

	// Retrying the write gives the same result as a single clean pass.
	got := e.Write(data)
	got = append(got, e.Flush()...)
	assert.Equal(t, chunkAll(t, p, append(bytes.Clone(head), data...), len(head)+len(data)), got)
}

func TestEngine_TruncateLongerIsNoop(t *testing.T) {
	e, err := New(smallParams())
	require.NoError(t, err)
	e.Write([]byte("Hello world!"))

	e.Truncate(100)
	assert.Equal(t, 12, e.Buffered())
	e.Truncate(5)
	assert.Equal(t, []byte("Hello"), bytes.Join(e.Flush(), nil))
}
