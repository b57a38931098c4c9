package gifn

import (
	"fmt"
)

// maxCodes is the hard GIF dictionary bound. Once the dictionary is full,
// codes keep their 12-bit width and no further entries are added.
const maxCodes = 4096

// subBlockReader yields the bytes of a GIF sub-block chain one at a time.
// The chain is a sequence of (size, bytes) runs terminated by a zero-length
// block; next reports ok=false once the terminator has been consumed.
type subBlockReader struct {
	f      *pagedFile
	remain int  // bytes left in the current sub-block
	done   bool // terminating zero-length block seen
}

func (r *subBlockReader) next() (byte, bool, error) {
	if r.done {
		return 0, false, nil
	}

	for r.remain == 0 {
		size, err := r.f.readByte()
		if err != nil {
			return 0, false, err
		}

		if size == 0 {
			r.done = true

			return 0, false, nil
		}

		r.remain = int(size)
	}

	b, err := r.f.readByte()
	if err != nil {
		return 0, false, err
	}
	r.remain--

	return b, true, nil
}

// lzwEntry is one dictionary phrase: a back-link to its prefix phrase and
// the phrase's final pixel. Codes below the clear code are literal pixels
// and never stored here.
type lzwEntry struct {
	prefix int
	pixel  uint8
}

// lzwReader decompresses the variable-width LZW code stream of one image.
// Codes are packed LSB-first across byte boundaries; the code width starts
// at minCodeSize+1 and grows up to 12 bits as the dictionary fills.
type lzwReader struct {
	src         *subBlockReader
	minCodeSize int
	clearCode   int
	endCode     int
	codeWidth   int
	limit       int  // 1 << codeWidth
	nextFree    int  // next dictionary code to assign
	lastAdded   int  // most recently assigned code
	pending     bool // lastAdded's pixel is unresolved until the next phrase
	acc         uint32
	accBits     int
	started     bool // initial clear code seen
	finished    bool // end code seen
	dict        [maxCodes]lzwEntry
	stack       []uint8 // phrase unroll scratch, emitted top down
}

func newLZWReader(src *subBlockReader, minCodeSize int) (*lzwReader, error) {
	if minCodeSize < 2 || minCodeSize > 8 {
		return nil, fmt.Errorf("LZW minimum code size %d out of range: %w", minCodeSize, ErrSyntax)
	}

	z := &lzwReader{
		src:         src,
		minCodeSize: minCodeSize,
		clearCode:   1 << minCodeSize,
		endCode:     1<<minCodeSize + 1,
		stack:       make([]uint8, 0, maxCodes),
	}
	z.reset()

	return z, nil
}

// reset restores the dictionary state after a clear code.
func (z *lzwReader) reset() {
	z.codeWidth = z.minCodeSize + 1
	z.limit = 1 << z.codeWidth
	z.nextFree = z.clearCode + 2
	z.pending = false
}

// readCode extracts the next code from the bit accumulator, pulling bytes
// from the sub-block chain on demand.
func (z *lzwReader) readCode() (int, error) {
	for z.accBits < z.codeWidth {
		b, ok, err := z.src.next()
		if err != nil {
			return 0, err
		}

		if !ok {
			return 0, fmt.Errorf("image data ended inside an LZW code: %w", ErrSyntax)
		}

		z.acc |= uint32(b) << z.accBits
		z.accBits += 8
	}

	code := int(z.acc & (1<<z.codeWidth - 1))
	z.acc >>= z.codeWidth
	z.accBits -= z.codeWidth

	return code, nil
}

// read returns the next color index of the image, or ok=false once the end
// code has been consumed.
func (z *lzwReader) read() (uint8, bool, error) {
	if len(z.stack) > 0 {
		px := z.stack[len(z.stack)-1]
		z.stack = z.stack[:len(z.stack)-1]

		return px, true, nil
	}

	if z.finished {
		return 0, false, nil
	}

	for {
		code, err := z.readCode()
		if err != nil {
			return 0, false, err
		}

		if !z.started {
			if code != z.clearCode {
				return 0, false, fmt.Errorf("image data does not start with a clear code: %w", ErrSyntax)
			}
			z.started = true

			continue
		}

		switch {
		case code == z.clearCode:
			z.reset()

		case code == z.endCode:
			z.finished = true

			if err := z.drain(); err != nil {
				return 0, false, err
			}

			return 0, false, nil

		default:
			if code >= z.nextFree {
				return 0, false, fmt.Errorf("LZW code %d beyond dictionary size %d: %w", code, z.nextFree, ErrSyntax)
			}

			// Unroll the phrase by walking prefix links down to a literal.
			z.stack = z.stack[:0]
			c := code
			for c >= z.clearCode {
				z.stack = append(z.stack, z.dict[c].pixel)
				c = z.dict[c].prefix
			}
			z.stack = append(z.stack, uint8(c))
			first := uint8(c)

			if z.pending {
				z.dict[z.lastAdded].pixel = first
				if code == z.lastAdded {
					// The phrase was defined by this very code, so its final
					// pixel is its own first pixel.
					z.stack[0] = first
				}
				z.pending = false
			}

			if z.nextFree < maxCodes {
				// The code width must grow in lockstep with the encoder: the
				// encoder switches width before assigning the entry that
				// would not fit the current one.
				if z.nextFree == z.limit && z.codeWidth < 12 {
					z.codeWidth++
					z.limit <<= 1
				}

				z.dict[z.nextFree] = lzwEntry{prefix: code}
				z.lastAdded = z.nextFree
				z.nextFree++
				z.pending = true
			}

			px := z.stack[len(z.stack)-1]
			z.stack = z.stack[:len(z.stack)-1]

			return px, true, nil
		}
	}
}

// drain validates the tail of the stream after the end code: any padding
// bits left in the accumulator and the rest of the sub-block chain must be
// empty, apart from the terminating zero-length block.
func (z *lzwReader) drain() error {
	if z.acc != 0 {
		return fmt.Errorf("trailing bits after the LZW end code: %w", ErrSyntax)
	}
	z.accBits = 0

	b, ok, err := z.src.next()
	if err != nil {
		return err
	}

	if ok {
		return fmt.Errorf("trailing byte 0x%02x after the LZW end code: %w", b, ErrSyntax)
	}

	return nil
}
