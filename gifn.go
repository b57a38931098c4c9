package gifn

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
)

// Standard error types for GIF decoding.
var (
	ErrNoGIF    = errors.New("not a GIF file")
	ErrSyntax   = errors.New("syntax error")
	ErrArgument = errors.New("invalid argument")
	ErrClosed   = errors.New("decoder is closed")
)

// LoopMode controls what NextImage does once the last frame of the file
// has been read.
type LoopMode int

const (
	// LoopNever reports false at the end of the file.
	LoopNever LoopMode = iota
	// LoopAlways rewinds to the first frame at the end of the file.
	LoopAlways
	// LoopPlay rewinds at the end of the file only when the file carries a
	// NETSCAPE2.0 looping extension.
	LoopPlay
)

// A GIF header, logical screen descriptor, and the largest possible global
// color table fit comfortably under this size.
const maxHeaderSize = 1024

// A pool for header-sized buffers to reduce allocations in DecodeConfig.
var headerBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, maxHeaderSize)

		return &b
	},
}

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// readAllData reads data from r, pre-allocating if the size is known.
func readAllData(r io.Reader) ([]byte, error) {
	// Pre-allocate buffer if the reader knows its remaining length.
	// This significantly reduces allocations compared to io.ReadAll for large images.
	if rl, ok := r.(readerWithLen); ok {
		size := rl.Len()
		if size > 0 {
			data := make([]byte, size)
			_, err := io.ReadFull(r, data)
			if err != nil {
				return nil, fmt.Errorf("failed to read image data: %w", err)
			}

			return data, nil
		}
	}

	// Fallback for readers that don't implement Len() (e.g., network streams, os.File) or were empty.
	return io.ReadAll(r)
}

// Decode reads a GIF image from r and returns its first frame as an
// [image.Image]. Cells not covered by the frame decode to fully
// transparent pixels. To walk the frames of an animation, use [Open] and
// [Decoder.NextImage] instead.
func Decode(r io.Reader) (image.Image, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	d, err := newDecoder(newPagedFile(bytes.NewReader(data), int64(len(data)), nil))
	if err != nil {
		return nil, err
	}
	defer d.Close()

	return d.Image()
}

// DecodeConfig returns the color model and dimensions of a GIF image without
// decoding the entire image data. The color model is the global color table,
// or nil when the file has none.
func DecodeConfig(r io.Reader) (image.Config, error) {
	// Get a buffer from the pool to avoid allocating a slice on every call.
	bufPtr := headerBufferPool.Get().(*[]byte)
	defer headerBufferPool.Put(bufPtr)
	headerData := *bufPtr

	// Read the start of the file into the pooled buffer. We expect an
	// io.ErrUnexpectedEOF if the file is smaller than our buffer, which is normal.
	n, err := io.ReadFull(r, headerData)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		// A read error or an empty file (n=0, err=io.EOF) is fatal.
		return image.Config{}, err
	}

	if n == 0 {
		return image.Config{}, ErrNoGIF
	}

	d := Decoder{f: newPagedFile(bytes.NewReader(headerData[:n]), int64(n), nil)}
	if err := d.readHeader(); err != nil {
		return image.Config{}, err
	}

	var cm color.Model
	if d.globalPalette != nil {
		cm = paletteModel(d.globalPalette)
	}

	return image.Config{
		ColorModel: cm,
		Width:      d.width,
		Height:     d.height,
	}, nil
}

// paletteModel converts a 0xRRGGBB palette to a color.Palette.
func paletteModel(pal []int) color.Palette {
	p := make(color.Palette, len(pal))
	for i, c := range pal {
		p[i] = color.RGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 0xFF}
	}

	return p
}

// init registers the GIF format with the standard library's image package.
// This allows image.Decode to automatically recognize and decode GIF files using this package.
func init() {
	image.RegisterFormat("gif", "GIF8", Decode, DecodeConfig)
}
