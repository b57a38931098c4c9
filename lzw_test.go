package gifn

import (
	"bytes"
	"errors"
	"testing"
)

// decodeLZW runs the decompressor over a sub-block chain built from data
// and collects the emitted color indices.
func decodeLZW(t *testing.T, mcs int, data []byte) ([]byte, error) {
	t.Helper()

	chain := subBlockChain(data)
	f := newPagedFile(bytes.NewReader(chain), int64(len(chain)), nil)

	z, err := newLZWReader(&subBlockReader{f: f}, mcs)
	if err != nil {
		return nil, err
	}

	var out []byte
	for {
		px, ok, err := z.read()
		if err != nil {
			return out, err
		}

		if !ok {
			return out, nil
		}

		out = append(out, px)
	}
}

// TestLZWKwKwK decodes the classic self-referencing sequence: a code that
// was defined on the immediately preceding step expands to its prefix
// phrase followed by that phrase's first pixel.
func TestLZWKwKwK(t *testing.T) {
	var w bitWriter
	w.writeCode(4, 3) // clear
	w.writeCode(1, 3)
	w.writeCode(6, 3) // the entry just defined by the previous code
	w.writeCode(5, 3) // end

	got, err := decodeLZW(t, 2, w.flush())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if !bytes.Equal(got, []byte{1, 1, 1}) {
		t.Errorf("pixels = %v, want [1 1 1]", got)
	}
}

// TestLZWMissingClear verifies that a stream not starting with the clear
// code is rejected.
func TestLZWMissingClear(t *testing.T) {
	var w bitWriter
	w.writeCode(1, 3)
	w.writeCode(5, 3)

	if _, err := decodeLZW(t, 2, w.flush()); !errors.Is(err, ErrSyntax) {
		t.Errorf("error = %v, want ErrSyntax", err)
	}
}

// TestLZWCodeBeyondDictionary verifies that a code past the last defined
// entry is rejected.
func TestLZWCodeBeyondDictionary(t *testing.T) {
	var w bitWriter
	w.writeCode(4, 3) // clear
	w.writeCode(1, 3)
	w.writeCode(7, 3) // only codes up to 6 are defined at this point

	if _, err := decodeLZW(t, 2, w.flush()); !errors.Is(err, ErrSyntax) {
		t.Errorf("error = %v, want ErrSyntax", err)
	}
}

// TestLZWWidthGrowth feeds a literal-only stream long enough to cross two
// code width boundaries, packed exactly the way an encoder would: the width
// grows as soon as the next dictionary code no longer fits the current one.
func TestLZWWidthGrowth(t *testing.T) {
	const mcs = 2

	var w bitWriter
	clear := 1 << mcs
	width := mcs + 1
	limit := 1 << width
	assigned := clear + 1

	w.writeCode(clear, width)

	var want []byte
	for i := 0; i < 30; i++ {
		v := i % 4
		w.writeCode(v, width)
		want = append(want, byte(v))

		assigned++
		if assigned == limit {
			width++
			limit <<= 1
		}
	}
	w.writeCode(clear+1, width)

	got, err := decodeLZW(t, mcs, w.flush())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if !bytes.Equal(got, want) {
		t.Errorf("pixels = %v, want %v", got, want)
	}
}

// TestLZWClearMidStream verifies that a clear code in mid-stream emits no
// pixel and that decoding continues with the code after it.
func TestLZWClearMidStream(t *testing.T) {
	var w bitWriter
	w.writeCode(4, 3)
	w.writeCode(0, 3)
	w.writeCode(4, 3)
	w.writeCode(1, 3)
	w.writeCode(5, 3)

	got, err := decodeLZW(t, 2, w.flush())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if !bytes.Equal(got, []byte{0, 1}) {
		t.Errorf("pixels = %v, want [0 1]", got)
	}
}

// TestLZWStreamTail tests the strict end-of-stream contract: padding bits
// and bytes after the end code must be zero and absent respectively.
func TestLZWStreamTail(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		// clear, end: 6 bits, 2 zero padding bits.
		if got, err := decodeLZW(t, 2, []byte{0x2C}); err != nil || len(got) != 0 {
			t.Errorf("decode = %v, %v, want an empty stream", got, err)
		}
	})

	t.Run("trailing bits", func(t *testing.T) {
		// Same codes with nonzero padding bits.
		if _, err := decodeLZW(t, 2, []byte{0xEC}); !errors.Is(err, ErrSyntax) {
			t.Errorf("error = %v, want ErrSyntax", err)
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		if _, err := decodeLZW(t, 2, []byte{0x2C, 0xAA}); !errors.Is(err, ErrSyntax) {
			t.Errorf("error = %v, want ErrSyntax", err)
		}
	})

	t.Run("no end code", func(t *testing.T) {
		// A lone clear code; the chain terminates mid-stream.
		if _, err := decodeLZW(t, 2, []byte{0x04}); !errors.Is(err, ErrSyntax) {
			t.Errorf("error = %v, want ErrSyntax", err)
		}
	})
}

// TestLZWMinCodeSize verifies the accepted range of the minimum code size.
func TestLZWMinCodeSize(t *testing.T) {
	for _, mcs := range []int{1, 9} {
		if _, err := decodeLZW(t, mcs, []byte{0x2C}); !errors.Is(err, ErrSyntax) {
			t.Errorf("mcs %d: error = %v, want ErrSyntax", mcs, err)
		}
	}
}
