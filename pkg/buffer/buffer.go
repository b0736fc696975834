// Package buffer implements the fixed-max-size, pooled byte buffer the rest
// of the transport is built on (spec §3 "Buffer", §4.1 "Buffer pool").
package buffer

import (
	"errors"
)

// DefaultMaxSize is 1500 Ethernet MTU − 60 IP − 8 UDP.
const DefaultMaxSize = 1432

// MinMaxSize and MaxMaxSize bound the configurable MaxSize (spec §6).
const (
	MinMaxSize = 508
	MaxMaxSize = 65535
)

// ErrOutOfBounds is returned by reads/writes that would run past the
// buffer's backing array or its current size.
var ErrOutOfBounds = errors.New("buffer: out of bounds")

// ErrFrozen is returned by any write (WriteAt, WriteByte, Write) on a
// buffer that has already been returned to its pool. Reads are not
// checked: they still see the buffer's current bytes.
var ErrFrozen = errors.New("buffer: use after return")

// Buffer is a fixed-capacity byte buffer with independent write and read
// cursors. A Buffer is owned by exactly one caller at a time: the pool, the
// send path, a pending-packet table, a reassembly slot, the dispatch queue,
// or the user handler (spec §3 "Ownership summary").
type Buffer struct {
	data    []byte
	size    int
	roff    int
	pooled  bool
	ret     bool
	bucket  int
	wrapped bool // true if data came from the bucketed oversize pool
}

func newBuffer(maxSize int) *Buffer {
	return &Buffer{data: make([]byte, maxSize)}
}

// WrapOversize builds a Buffer over a pre-allocated byte array drawn from
// the bucketed oversize pool, for messages whose known final size exceeds
// MaxSize (spec §4.1, §4.7 "allocates a receive-side Buffer sized exactly
// to ..."). Returning a wrapped Buffer to its Pool releases the backing
// array through the oversize pool instead of the fixed-size free list.
func WrapOversize(data []byte) *Buffer {
	return &Buffer{data: data, wrapped: true}
}

// Reset clears the cursors and size without reallocating the backing array.
func (b *Buffer) Reset() {
	b.size = 0
	b.roff = 0
	b.ret = false
}

// Cap returns the capacity of the backing array.
func (b *Buffer) Cap() int { return len(b.data) }

// Size returns the number of bytes written so far.
func (b *Buffer) Size() int { return b.size }

// SetSize sets the write-cursor position directly, used by channels to
// place it right after header fields written with WriteAt.
func (b *Buffer) SetSize(n int) error {
	if n < 0 || n > len(b.data) {
		return ErrOutOfBounds
	}
	b.size = n
	return nil
}

// Bytes returns the written region of the backing array. Callers must not
// retain it past the buffer's return to the pool.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.size]
}

// Raw returns the full backing array, for writers that need to write past
// the current size (header construction).
func (b *Buffer) Raw() []byte { return b.data }

func (b *Buffer) checkAlive() error {
	if b.ret {
		return ErrFrozen
	}
	return nil
}

// WriteAt writes p at the given absolute offset, extending size if needed.
func (b *Buffer) WriteAt(off int, p []byte) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	if off < 0 || off+len(p) > len(b.data) {
		return ErrOutOfBounds
	}
	copy(b.data[off:], p)
	if off+len(p) > b.size {
		b.size = off + len(p)
	}
	return nil
}

// ReadAt reads len(p) bytes at the given absolute offset.
func (b *Buffer) ReadAt(off int, p []byte) error {
	if off < 0 || off+len(p) > b.size {
		return ErrOutOfBounds
	}
	copy(p, b.data[off:off+len(p)])
	return nil
}

// ReadCursor returns the current read-cursor position.
func (b *Buffer) ReadCursor() int { return b.roff }

// SeekRead moves the read cursor to an absolute offset.
func (b *Buffer) SeekRead(off int) { b.roff = off }

// ReadByte reads a single byte, advancing the read cursor.
func (b *Buffer) ReadByte() (byte, error) {
	if b.roff >= b.size {
		return 0, ErrOutOfBounds
	}
	v := b.data[b.roff]
	b.roff++
	return v, nil
}

// Read reads len(p) bytes starting at the read cursor, advancing it.
func (b *Buffer) Read(p []byte) error {
	if b.roff+len(p) > b.size {
		return ErrOutOfBounds
	}
	copy(p, b.data[b.roff:b.roff+len(p)])
	b.roff += len(p)
	return nil
}

// WriteByte appends a single byte at the write cursor (== size).
func (b *Buffer) WriteByte(v byte) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	if b.size >= len(b.data) {
		return ErrOutOfBounds
	}
	b.data[b.size] = v
	b.size++
	return nil
}

// Write appends p at the write cursor.
func (b *Buffer) Write(p []byte) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	if b.size+len(p) > len(b.data) {
		return ErrOutOfBounds
	}
	copy(b.data[b.size:], p)
	b.size += len(p)
	return nil
}

// Remaining returns the number of unread bytes left in the written region.
func (b *Buffer) Remaining() int { return b.size - b.roff }
