package gifn

import (
	"encoding/binary"
	"fmt"
	"image"
)

// Block introducers and extension labels.
const (
	blockExtension = 0x21
	blockImage     = 0x2C
	blockTrailer   = 0x3B

	extPlainText      = 0x01
	extGraphicControl = 0xF9
	extComment        = 0xFE
	extApplication    = 0xFF
)

// netscapeID marks the application extension that requests looping playback.
const netscapeID = "NETSCAPE2.0"

// Disposal methods carried by a Graphic Control Extension. The wire values
// 0 and 1 both mean combine; reserved values are treated the same way.
const (
	disposalCombine = iota // leave the frame on the canvas
	disposalErase          // restore the frame's rectangle to transparent
	disposalUndo           // restore the canvas as it was before the frame
)

// graphicControl is the state of one Graphic Control Extension, scoped to
// the immediately following image. The zero value carries the defaults for
// an image with no preceding extension.
type graphicControl struct {
	disposal         int
	delayMS          int
	transparentIndex int
	hasTransparency  bool
}

// frameDescriptor describes one image of the file.
type frameDescriptor struct {
	left, top     int
	width, height int
	interlaced    bool
	palette       []int // local palette if present, else the global one
	minCodeSize   int
}

// FileParameters are the file-wide animation metadata gathered by a full
// walk of the container.
type FileParameters struct {
	Comment    string // text of the first comment extension
	HasComment bool   // whether a comment extension is present
	Looped     bool   // whether a NETSCAPE2.0 application extension is present
	LoopCount  int    // loop count from that extension, 0 meaning forever
	ImageCount int    // number of image descriptors in the file
}

// ImageParameters describe the most recently loaded frame.
type ImageParameters struct {
	ImageNo int // 1-based index of the loaded frame
	DelayMS int // delay before the next frame, in milliseconds
}

// Decoder reads the frames of a GIF file one at a time. It is not safe for
// concurrent use.
type Decoder struct {
	f             *pagedFile
	width, height int
	globalPalette []int

	// Offset of the first block after the header, used to rewind when the
	// animation loops.
	firstFrameOffset int64

	// current holds the frame returned by ReadMatrix; background is what
	// the next frame composes over. Depending on the disposal method they
	// alias the same cells or are independent copies.
	current      []int
	background   []int
	eraseRect    image.Rectangle
	erasePending bool

	frameNo int
	delayMS int

	// Graphic control state consumed by the next image.
	gc graphicControl

	// File parameters accumulate across walks. fpSeen is the highest block
	// offset already accounted for, so overlapping walks never double-count.
	fp     FileParameters
	fpSeen int64
	fpDone bool

	closed bool
}

// Open opens the GIF file at path and eagerly loads its first frame.
func Open(path string) (*Decoder, error) {
	f, err := openPagedFile(path)
	if err != nil {
		return nil, err
	}

	return newDecoder(f)
}

// newDecoder parses the file header and loads frame 1, taking ownership of
// f even on failure.
func newDecoder(f *pagedFile) (d *Decoder, err error) {
	defer func() {
		if err != nil {
			f.close()
		}
	}()

	d = &Decoder{f: f}
	if err = d.readHeader(); err != nil {
		return nil, err
	}

	d.background = make([]int, d.width*d.height)
	d.clearCanvases()
	d.firstFrameOffset = f.offset()

	ok, err := d.walk(false)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("missing image data: %w", ErrSyntax)
	}

	return d, nil
}

// readHeader parses the magic, the logical screen descriptor, and the
// global color table if one is present.
func (d *Decoder) readHeader() error {
	magic, err := d.f.readString(6)
	if err != nil {
		return err
	}

	if string(magic) != "GIF87a" && string(magic) != "GIF89a" {
		return fmt.Errorf("bad magic %q: %w", magic, ErrNoGIF)
	}

	dims, err := d.f.readWords(2)
	if err != nil {
		return err
	}

	d.width, d.height = int(dims[0]), int(dims[1])
	if d.width == 0 || d.height == 0 {
		return fmt.Errorf("zero logical screen dimension %dx%d: %w", d.width, d.height, ErrSyntax)
	}

	packed, err := d.f.readByte()
	if err != nil {
		return err
	}

	// The background color index and pixel aspect ratio are not used.
	d.f.skip(2)

	if packed&0x80 != 0 {
		d.globalPalette, err = d.readPalette(1 << (packed&7 + 1))
		if err != nil {
			return err
		}
	}

	return nil
}

// readPalette reads n packed RGB triples into 0xRRGGBB colors.
func (d *Decoder) readPalette(n int) ([]int, error) {
	raw, err := d.f.readString(3 * n)
	if err != nil {
		return nil, err
	}

	pal := make([]int, n)
	for i := range pal {
		pal[i] = int(raw[3*i])<<16 | int(raw[3*i+1])<<8 | int(raw[3*i+2])
	}

	return pal, nil
}

// seen reports whether the block at offset was already accounted for in the
// file parameters, recording it otherwise.
func (d *Decoder) seen(offset int64) bool {
	if offset <= d.fpSeen {
		return true
	}
	d.fpSeen = offset

	return false
}

// walk reads blocks from the cursor. In scan mode it skips image data and
// returns false at the trailer; in decode mode it loads the first image it
// finds and returns true. Either way it keeps the file parameter counters
// current for blocks not observed before. The cursor is left on the trailer
// byte when one is reached, so repeated walks stay at end of file.
func (d *Decoder) walk(scan bool) (bool, error) {
	for {
		blockOffset := d.f.offset()

		introducer, err := d.f.readByte()
		if err != nil {
			return false, err
		}

		fresh := !d.seen(blockOffset)

		switch introducer {
		case blockTrailer:
			d.f.skip(-1)
			d.fpDone = true

			return false, nil

		case blockImage:
			if fresh {
				d.fp.ImageCount++
			}

			if scan {
				if err := d.skipImage(); err != nil {
					return false, err
				}

				continue
			}

			if err := d.readImage(); err != nil {
				return false, err
			}

			return true, nil

		case blockExtension:
			if err := d.readExtension(fresh, scan); err != nil {
				return false, err
			}

		default:
			return false, fmt.Errorf("unknown block type 0x%02x: %w", introducer, ErrSyntax)
		}
	}
}

// readExtension dispatches on the extension label following a 0x21
// introducer. Plain Text and unrecognized labels carry nothing the decoder
// needs and are skipped as plain sub-block chains.
func (d *Decoder) readExtension(fresh, scan bool) error {
	label, err := d.f.readByte()
	if err != nil {
		return err
	}

	switch label {
	case extGraphicControl:
		if scan {
			// A scan must not disturb the control state of the frame the
			// decoder is positioned at.
			return d.skipSubBlocks()
		}

		return d.readGraphicControl()

	case extComment:
		return d.readComment(fresh)

	case extApplication:
		return d.readApplication(fresh)

	default:
		return d.skipSubBlocks()
	}
}

// readGraphicControl parses the 4-byte Graphic Control Extension and stores
// it for the next image.
func (d *Decoder) readGraphicControl() error {
	size, err := d.f.readByte()
	if err != nil {
		return err
	}

	if size != 4 {
		return fmt.Errorf("graphic control block size %d: %w", size, ErrSyntax)
	}

	b, err := d.f.readString(4)
	if err != nil {
		return err
	}

	term, err := d.f.readByte()
	if err != nil {
		return err
	}

	if term != 0 {
		return fmt.Errorf("graphic control terminator 0x%02x: %w", term, ErrSyntax)
	}

	gc := graphicControl{delayMS: int(binary.LittleEndian.Uint16(b[1:3])) * 10}

	switch (b[0] >> 2) & 7 {
	case 2:
		gc.disposal = disposalErase
	case 3:
		gc.disposal = disposalUndo
	default:
		gc.disposal = disposalCombine
	}

	if b[0]&1 != 0 {
		gc.hasTransparency = true
		gc.transparentIndex = int(b[3])
	}

	d.gc = gc

	return nil
}

// readComment consumes a comment extension. Only the first comment of the
// file contributes to the file parameters; later ones are read and dropped.
func (d *Decoder) readComment(fresh bool) error {
	record := fresh && !d.fp.HasComment

	var text []byte
	for {
		size, err := d.f.readByte()
		if err != nil {
			return err
		}

		if size == 0 {
			break
		}

		b, err := d.f.readString(int(size))
		if err != nil {
			return err
		}

		if record {
			text = append(text, b...)
		}
	}

	if record {
		d.fp.Comment = string(text)
		d.fp.HasComment = true
	}

	return nil
}

// readApplication consumes an application extension, noting the NETSCAPE2.0
// looping block and its loop count when present.
func (d *Decoder) readApplication(fresh bool) error {
	size, err := d.f.readByte()
	if err != nil {
		return err
	}

	ident, err := d.f.readString(int(size))
	if err != nil {
		return err
	}

	netscape := string(ident) == netscapeID
	if netscape && fresh {
		d.fp.Looped = true
	}

	for {
		size, err := d.f.readByte()
		if err != nil {
			return err
		}

		if size == 0 {
			return nil
		}

		b, err := d.f.readString(int(size))
		if err != nil {
			return err
		}

		if netscape && fresh && size == 3 && b[0] == 1 {
			d.fp.LoopCount = int(binary.LittleEndian.Uint16(b[1:3]))
		}
	}
}

// skipSubBlocks consumes a sub-block chain up to and including its
// zero-length terminator.
func (d *Decoder) skipSubBlocks() error {
	for {
		size, err := d.f.readByte()
		if err != nil {
			return err
		}

		if size == 0 {
			return nil
		}

		d.f.skip(int64(size))
	}
}

// skipImage consumes an image without decoding it: the 9-byte descriptor,
// the local palette if present, the LZW code size, and the data sub-blocks.
func (d *Decoder) skipImage() error {
	desc, err := d.f.readString(9)
	if err != nil {
		return err
	}

	if desc[8]&0x80 != 0 {
		d.f.skip(3 * (1 << (desc[8]&7 + 1)))
	}

	if _, err := d.f.readByte(); err != nil {
		return err
	}

	return d.skipSubBlocks()
}

// readImage parses an image descriptor and composes the frame onto the
// canvas, consuming the pending graphic control state.
func (d *Decoder) readImage() error {
	words, err := d.f.readWords(4)
	if err != nil {
		return err
	}

	packed, err := d.f.readByte()
	if err != nil {
		return err
	}

	fr := frameDescriptor{
		left:       int(words[0]),
		top:        int(words[1]),
		width:      int(words[2]),
		height:     int(words[3]),
		interlaced: packed&0x40 != 0,
	}

	if fr.width < 1 || fr.height < 1 || fr.left+fr.width > d.width || fr.top+fr.height > d.height {
		return fmt.Errorf("frame rectangle %dx%d at (%d,%d) outside the %dx%d screen: %w",
			fr.width, fr.height, fr.left, fr.top, d.width, d.height, ErrSyntax)
	}

	if packed&0x80 != 0 {
		fr.palette, err = d.readPalette(1 << (packed&7 + 1))
		if err != nil {
			return err
		}
	} else {
		fr.palette = d.globalPalette
	}

	if fr.palette == nil {
		return fmt.Errorf("frame has no local palette and the file has no global one: %w", ErrSyntax)
	}

	mcs, err := d.f.readByte()
	if err != nil {
		return err
	}
	fr.minCodeSize = int(mcs)

	gc := d.gc
	d.gc = graphicControl{}

	return d.composeFrame(&fr, gc)
}

// Size returns the logical screen dimensions.
func (d *Decoder) Size() (width, height int) {
	return d.width, d.height
}

// FileParameters walks the whole file once to gather animation metadata and
// caches the result; later calls are O(1). The walk does not disturb
// in-progress decoding.
func (d *Decoder) FileParameters() (FileParameters, error) {
	if d.closed {
		return FileParameters{}, ErrClosed
	}

	if d.fpDone {
		return d.fp, nil
	}

	saved := d.f.offset()
	_, err := d.walk(true)
	d.f.jump(saved)

	if err != nil {
		return FileParameters{}, err
	}

	return d.fp, nil
}

// ImageParameters returns the index and delay of the most recently loaded
// frame.
func (d *Decoder) ImageParameters() ImageParameters {
	return ImageParameters{ImageNo: d.frameNo, DelayMS: d.delayMS}
}

// ReadMatrix returns the whole current frame as a matrix[y][x] grid of
// 0xRRGGBB colors, with -1 marking transparent cells. The grid is a copy.
func (d *Decoder) ReadMatrix() ([][]int, error) {
	if d.closed {
		return nil, ErrClosed
	}

	return d.ReadMatrixRect(0, 0, d.width, d.height)
}

// ReadMatrixRect returns the given subrectangle of the current frame as a
// matrix[y][x] grid of 0xRRGGBB colors, with -1 marking transparent cells.
// Coordinates are 0-based; the grid is a copy.
func (d *Decoder) ReadMatrixRect(x, y, width, height int) ([][]int, error) {
	if d.closed {
		return nil, ErrClosed
	}

	if x < 0 || y < 0 || width < 1 || height < 1 || x+width > d.width || y+height > d.height {
		return nil, fmt.Errorf("rectangle %dx%d at (%d,%d) outside the %dx%d canvas: %w",
			width, height, x, y, d.width, d.height, ErrArgument)
	}

	m := make([][]int, height)
	for row := range m {
		m[row] = make([]int, width)
		copy(m[row], d.current[(y+row)*d.width+x:])
	}

	return m, nil
}

// Image returns the most recently loaded frame as an RGBA image the size of
// the logical screen. Transparent cells decode to fully transparent pixels.
func (d *Decoder) Image() (image.Image, error) {
	if d.closed {
		return nil, ErrClosed
	}

	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			c := d.current[y*d.width+x]
			if c < 0 {
				continue
			}

			off := img.PixOffset(x, y)
			img.Pix[off] = uint8(c >> 16)
			img.Pix[off+1] = uint8(c >> 8)
			img.Pix[off+2] = uint8(c)
			img.Pix[off+3] = 0xFF
		}
	}

	return img, nil
}

// NextImage loads the next frame and reports whether one was loaded. At the
// end of the file, LoopAlways rewinds to frame 1 unconditionally and
// LoopPlay rewinds when the file carries a looping extension; LoopNever
// reports false.
func (d *Decoder) NextImage(mode LoopMode) (bool, error) {
	if d.closed {
		return false, ErrClosed
	}

	switch mode {
	case LoopNever, LoopAlways, LoopPlay:
	default:
		return false, fmt.Errorf("unknown loop mode %d: %w", mode, ErrArgument)
	}

	ok, err := d.walk(false)
	if err != nil {
		return false, err
	}

	if ok {
		return true, nil
	}

	// The trailer was reached, so fp.Looped is authoritative by now.
	if mode == LoopNever || (mode == LoopPlay && !d.fp.Looped) {
		return false, nil
	}

	d.frameNo = 0
	d.delayMS = 0
	d.gc = graphicControl{}
	d.clearCanvases()
	d.f.jump(d.firstFrameOffset)

	ok, err = d.walk(false)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, fmt.Errorf("missing image data: %w", ErrSyntax)
	}

	return true, nil
}

// Close releases the canvases and the underlying file. Closing twice is a
// no-op; FileParameters, ReadMatrix, ReadMatrixRect, Image and NextImage
// called after Close fail with ErrClosed.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	d.current = nil
	d.background = nil

	return d.f.close()
}
