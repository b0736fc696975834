package buffer

import "testing"

func TestBufferWriteReadRoundTrip(t *testing.T) {
	b := newBuffer(DefaultMaxSize)

	if err := b.Write([]byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if b.Size() != 5 {
		t.Fatalf("expected size 5, got %d", b.Size())
	}

	got := make([]byte, 5)
	if err := b.Read(got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestBufferOutOfBounds(t *testing.T) {
	b := newBuffer(8)
	if err := b.Write(make([]byte, 9)); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestBufferWriteAfterReturn(t *testing.T) {
	pool := NewPool(DefaultMaxSize)
	b := pool.Get()
	pool.Put(b)

	if err := b.WriteByte(0x42); err != ErrFrozen {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
}

func TestBufferWriteAtBoundaryOffsets(t *testing.T) {
	b := newBuffer(DefaultMaxSize)
	value := []byte{0x01, 0x02, 0x03, 0x04}

	for _, off := range []int{0, 1, DefaultMaxSize - len(value)} {
		b.Reset()
		if err := b.WriteAt(off, value); err != nil {
			t.Fatalf("offset %d: write failed: %v", off, err)
		}
		got := make([]byte, len(value))
		if err := b.ReadAt(off, got); err != nil {
			t.Fatalf("offset %d: read failed: %v", off, err)
		}
		for i := range value {
			if got[i] != value[i] {
				t.Fatalf("offset %d: mismatch at byte %d", off, i)
			}
		}
	}
}
