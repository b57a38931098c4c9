package gifn

import (
	"fmt"
	"image"
)

// transparent is the sentinel color of canvas cells not covered by any
// frame. Palette colors are always non-negative.
const transparent = -1

// clearCanvases restores the initial composition state: a fully transparent
// canvas shared by current and background, with a full-screen erase pending.
func (d *Decoder) clearCanvases() {
	for i := range d.background {
		d.background[i] = transparent
	}
	d.current = d.background
	d.eraseRect = image.Rect(0, 0, d.width, d.height)
	d.erasePending = true
}

// applyErase overwrites the recorded rectangle of the background canvas with
// transparent cells. The erase is deferred from the previous frame so that
// the erased frame stays visible until the next frame is composed.
func (d *Decoder) applyErase() {
	for y := d.eraseRect.Min.Y; y < d.eraseRect.Max.Y; y++ {
		row := d.background[y*d.width+d.eraseRect.Min.X : y*d.width+d.eraseRect.Max.X]
		for i := range row {
			row[i] = transparent
		}
	}
	d.erasePending = false
}

// nextInterlacedRow advances y through the GIF four-pass interlace order
// within a subrectangle of the given height: rows 0,8,16,... then 4,12,...
// then 2,6,... then 1,3,5,... Each overshoot falls through to the next
// pass's start row, which may itself overshoot on very short frames.
func nextInterlacedRow(y, height int) int {
	switch {
	case y%8 == 0:
		y += 8
		if y < height {
			return y
		}
		y = 4
	case y%8 == 4:
		y += 8
		if y < height {
			return y
		}
		y = 2
	case y%4 == 2:
		y += 4
		if y < height {
			return y
		}
		y = 1
	default:
		return y + 2
	}

	for y >= height && y > 1 {
		if y == 4 {
			y = 2
		} else {
			y = 1
		}
	}

	return y
}

// composeFrame decodes one image's pixel stream into the canvases, applying
// the disposal method of the preceding frame and the graphic control state
// attached to this image.
func (d *Decoder) composeFrame(fr *frameDescriptor, gc graphicControl) error {
	if d.erasePending {
		d.applyErase()
	}

	if gc.disposal == disposalUndo {
		// The frame must not leak into the next frame's background, so it
		// is composed onto an independent copy.
		buf := make([]int, len(d.background))
		copy(buf, d.background)
		d.current = buf
	} else {
		// combine and erase write through to the background.
		d.current = d.background
	}

	blocks := &subBlockReader{f: d.f}
	z, err := newLZWReader(blocks, fr.minCodeSize)
	if err != nil {
		return err
	}

	total := fr.width * fr.height
	x, y := 0, 0

	for consumed := 0; consumed < total; consumed++ {
		px, ok, err := z.read()
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("image data ended after %d of %d pixels: %w", consumed, total, ErrSyntax)
		}

		if int(px) >= len(fr.palette) {
			return fmt.Errorf("color index %d outside a palette of %d entries: %w", px, len(fr.palette), ErrSyntax)
		}

		if !gc.hasTransparency || int(px) != gc.transparentIndex {
			d.current[(fr.top+y)*d.width+fr.left+x] = fr.palette[px]
		}

		x++
		if x == fr.width {
			x = 0
			if fr.interlaced {
				y = nextInterlacedRow(y, fr.height)
			} else {
				y++
			}
		}
	}

	// Exactly width*height indices must be in the stream.
	if _, ok, err := z.read(); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("more than %d pixels in image data: %w", total, ErrSyntax)
	}

	switch gc.disposal {
	case disposalErase:
		d.background = d.current
		d.eraseRect = image.Rect(fr.left, fr.top, fr.left+fr.width, fr.top+fr.height)
		d.erasePending = true
	case disposalUndo:
		// The background keeps its pre-frame contents.
	default:
		d.background = d.current
	}

	d.frameNo++
	d.delayMS = gc.delayMS

	return nil
}
