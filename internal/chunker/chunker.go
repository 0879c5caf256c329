// Package chunker splits a byte stream into content-defined chunks.
//
// Boundaries come from a Rabin fingerprint over a 64-byte rolling window,
// so an insertion or deletion only moves the boundaries near the edit.
// The engine buffers incoming writes in a tail and only fingerprints
// fixed-size ingestion windows that start on a committed boundary. As a
// result the chunks of a stream never depend on how the stream was cut
// into Write calls.
package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	rabin "github.com/restic/chunker"
)

// Default chunking parameters.
const (
	DefaultMinSize     = 512 << 10 // 512 KiB
	DefaultMaxSize     = 8 << 20   // 8 MiB
	DefaultAverageBits = 21        // ~2 MiB average chunk
	DefaultWindow      = 16 << 20  // 16 MiB ingestion window

	// DefaultPolynomial is an irreducible polynomial of degree 53.
	DefaultPolynomial uint64 = 0x3DA3358B4DC173
)

// ErrInvalidParams is returned for chunking parameters that cannot
// produce a valid chunking.
var ErrInvalidParams = errors.New("invalid chunking parameters")

// Params configures the engine.
type Params struct {
	MinSize     int    `yaml:"min_size"`
	MaxSize     int    `yaml:"max_size"`
	AverageBits int    `yaml:"average_bits"`
	Polynomial  uint64 `yaml:"polynomial"`
	Window      int    `yaml:"window"`
}

// DefaultParams returns the default chunking parameters.
func DefaultParams() Params {
	return Params{
		MinSize:     DefaultMinSize,
		MaxSize:     DefaultMaxSize,
		AverageBits: DefaultAverageBits,
		Polynomial:  DefaultPolynomial,
		Window:      DefaultWindow,
	}
}

// Validate checks that 0 < MinSize <= MaxSize < Window, that AverageBits
// is within [10, 30] and that the polynomial is irreducible.
func (p Params) Validate() error {
	if p.MinSize <= 0 || p.MinSize > p.MaxSize {
		return fmt.Errorf("%w: min size %d, max size %d", ErrInvalidParams, p.MinSize, p.MaxSize)
	}
	if p.MaxSize >= p.Window {
		return fmt.Errorf("%w: max size %d must be below window %d", ErrInvalidParams, p.MaxSize, p.Window)
	}
	if p.AverageBits < 10 || p.AverageBits > 30 {
		return fmt.Errorf("%w: average bits %d not in [10, 30]", ErrInvalidParams, p.AverageBits)
	}
	if !rabin.Pol(p.Polynomial).Irreducible() {
		return fmt.Errorf("%w: polynomial %#x is reducible", ErrInvalidParams, p.Polynomial)
	}
	return nil
}

// Engine turns a sequence of writes into chunks. It is not safe for
// concurrent use.
type Engine struct {
	params Params
	pol    rabin.Pol
	tail   []byte
	buf    []byte // scratch space for the fingerprinter, MaxSize bytes
}

// New returns an engine for p.
func New(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params: p,
		pol:    rabin.Pol(p.Polynomial),
		buf:    make([]byte, p.MaxSize),
	}, nil
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Buffered returns the number of bytes held in the tail.
func (e *Engine) Buffered() int {
	return len(e.tail)
}

// Write appends data to the tail and returns every chunk that can be
// committed. Each full window is fingerprinted; all of its chunks but the
// last are committed and the last is carried over, since the data that
// follows may move its end. Returned chunks are independent copies.
func (e *Engine) Write(data []byte) [][]byte {
	e.tail = append(e.tail, data...)

	var out [][]byte
	off := 0
	for len(e.tail)-off >= e.params.Window {
		sizes := e.cut(e.tail[off : off+e.params.Window])
		if len(sizes) < 2 {
			break
		}
		for _, n := range sizes[:len(sizes)-1] {
			out = append(out, bytes.Clone(e.tail[off:off+n]))
			off += n
		}
	}

	if off > 0 {
		e.tail = bytes.Clone(e.tail[off:])
	}
	return out
}

// Flush commits every chunk of the tail, including the last one, and
// empties it.
func (e *Engine) Flush() [][]byte {
	if len(e.tail) == 0 {
		return nil
	}

	var out [][]byte
	off := 0
	for _, n := range e.cut(e.tail) {
		out = append(out, bytes.Clone(e.tail[off:off+n]))
		off += n
	}
	e.tail = nil
	return out
}

// Restore puts chunks returned by the last Write or Flush back in front
// of the tail. After a Flush this leaves the engine as it was before the
// call. After a Write the tail also still holds that call's data; use
// Truncate to drop it.
func (e *Engine) Restore(parts [][]byte) {
	if len(parts) == 0 {
		return
	}
	restored := bytes.Join(parts, nil)
	e.tail = append(restored, e.tail...)
}

// Truncate shortens the tail to its first n bytes. It is a no-op when the
// tail is not longer than n.
func (e *Engine) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if len(e.tail) <= n {
		return
	}
	e.tail = bytes.Clone(e.tail[:n])
}

// cut returns the chunk lengths of data.
func (e *Engine) cut(data []byte) []int {
	c := rabin.NewWithBoundaries(bytes.NewReader(data), e.pol, uint(e.params.MinSize), uint(e.params.MaxSize))
	c.SetAverageBits(e.params.AverageBits)

	var sizes []int
	for {
		chunk, err := c.Next(e.buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Reading from memory cannot fail; treat the rest as one chunk.
			if rest := len(data) - sum(sizes); rest > 0 {
				sizes = append(sizes, rest)
			}
			break
		}
		sizes = append(sizes, int(chunk.Length))
	}
	return sizes
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
