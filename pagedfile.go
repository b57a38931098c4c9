package gifn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// pageSize is the granularity of the read cache.
	pageSize = 32 << 10
	// pageCount is the hard cache capacity. The decoder walks the container
	// mostly forward, seeking back only to the first frame when looping, so
	// a handful of pages covers the active working set.
	pageCount = 3
)

// page is one cached, page-aligned window of the underlying file. Pages are
// linked into a freshness chain anchored at a sentinel node.
type page struct {
	index      int64 // file offset divided by pageSize
	data       []byte
	prev, next *page
}

// pagedFile is a random-access byte source with a movable logical cursor.
// It keeps at most pageCount pages in memory; a miss on a full cache evicts
// the least recently used page. The chain sentinel's next points at the
// freshest page and its prev at the oldest one.
type pagedFile struct {
	src    io.ReaderAt
	closer io.Closer // nil when the source needs no closing
	size   int64
	cursor int64
	pages  map[int64]*page
	chain  page // sentinel node
}

// newPagedFile wraps an open byte source of the given size. closer, if not
// nil, is closed together with the pagedFile.
func newPagedFile(src io.ReaderAt, size int64, closer io.Closer) *pagedFile {
	f := &pagedFile{
		src:    src,
		closer: closer,
		size:   size,
		pages:  make(map[int64]*page, pageCount),
	}
	f.chain.prev = &f.chain
	f.chain.next = &f.chain

	return f
}

// openPagedFile opens path read-only and captures its total size.
func openPagedFile(path string) (*pagedFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	st, err := file.Stat()
	if err != nil {
		file.Close()

		return nil, err
	}

	return newPagedFile(file, st.Size(), file), nil
}

// jump sets the logical cursor. Bounds are checked on the next read.
func (f *pagedFile) jump(offset int64) {
	f.cursor = offset
}

// skip moves the logical cursor by n bytes, which may be negative.
func (f *pagedFile) skip(n int64) {
	f.cursor += n
}

// offset returns the logical cursor.
func (f *pagedFile) offset() int64 {
	return f.cursor
}

func (f *pagedFile) unlink(p *page) {
	p.prev.next = p.next
	p.next.prev = p.prev
}

func (f *pagedFile) pushFront(p *page) {
	p.prev = &f.chain
	p.next = f.chain.next
	p.prev.next = p
	p.next.prev = p
}

// fetch returns the cached page with the given index, filling it from the
// underlying source on a miss. A hit moves the page to the fresh end of the
// chain unless it is already there.
func (f *pagedFile) fetch(index int64) (*page, error) {
	if p, ok := f.pages[index]; ok {
		if f.chain.next != p {
			f.unlink(p)
			f.pushFront(p)
		}

		return p, nil
	}

	var p *page
	if len(f.pages) >= pageCount {
		// Recycle the least recently used page.
		p = f.chain.prev
		f.unlink(p)
		delete(f.pages, p.index)
	} else {
		p = &page{data: make([]byte, pageSize)}
	}

	off := index * pageSize
	want := int64(pageSize)
	if off+want > f.size {
		want = f.size - off
	}

	if n, err := f.src.ReadAt(p.data[:want], off); err != nil && !(errors.Is(err, io.EOF) && int64(n) == want) {
		return nil, fmt.Errorf("failed to read page at offset %d: %w", off, err)
	}

	p.index = index
	f.pages[index] = p
	f.pushFront(p)

	return p, nil
}

// readString returns n raw bytes starting at the cursor and advances past
// them. A read crossing a page boundary is served by concatenating
// successive pages.
func (f *pagedFile) readString(n int) ([]byte, error) {
	if f.pages == nil {
		return nil, ErrClosed
	}

	if n < 0 {
		return nil, fmt.Errorf("negative read length %d: %w", n, ErrArgument)
	}

	if f.cursor < 0 || f.cursor+int64(n) > f.size {
		return nil, fmt.Errorf("read of %d bytes at offset %d past end of file: %w", n, f.cursor, ErrSyntax)
	}

	out := make([]byte, n)
	for pos := 0; pos < n; {
		off := f.cursor + int64(pos)

		p, err := f.fetch(off / pageSize)
		if err != nil {
			return nil, err
		}

		pos += copy(out[pos:], p.data[off%pageSize:])
	}

	f.cursor += int64(n)

	return out, nil
}

// readByte reads one unsigned byte.
func (f *pagedFile) readByte() (byte, error) {
	b, err := f.readString(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

// readWord reads one little-endian unsigned 16-bit integer.
func (f *pagedFile) readWord() (uint16, error) {
	b, err := f.readString(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

// readWords reads k little-endian unsigned 16-bit integers.
func (f *pagedFile) readWords(k int) ([]uint16, error) {
	b, err := f.readString(2 * k)
	if err != nil {
		return nil, err
	}

	words := make([]uint16, k)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(b[2*i:])
	}

	return words, nil
}

// close releases the cache and the underlying source. Reads after close
// fail with ErrClosed.
func (f *pagedFile) close() error {
	f.pages = nil
	f.chain.prev = &f.chain
	f.chain.next = &f.chain

	if f.closer != nil {
		c := f.closer
		f.closer = nil

		return c.Close()
	}

	return nil
}
