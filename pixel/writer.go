package pixel

import (
	"errors"
	"fmt"
)

// ResizeMode selects the sampling algorithm used when the output dimensions
// differ from the source dimensions.
type ResizeMode int

const (
	// Nearest picks the nearest source pixel. The default.
	Nearest ResizeMode = iota
	// Area averages all source pixels that map onto an output pixel. Only
	// meaningful when downscaling; a Writer asked to upscale with Area
	// falls back to Nearest and reports that through Mode.
	Area
)

func (m ResizeMode) String() string {
	if m == Area {
		return "area"
	}
	return "nearest"
}

var errShortImage = errors.New("pixel: fewer source rows than expected")

// Writer packs incoming source rows into a caller-owned destination buffer,
// applying the configured format, byte order and optional resize. Rows must
// arrive top to bottom, exactly srcH of them, followed by Close.
type Writer struct {
	conv Converter
	mode ResizeMode
	dst  []byte
	bpp  int

	srcW, srcH int
	dstW, dstH int

	srcY, outY int

	// Area accumulators, one bin row at a time.
	binY int
	acc  []uint32
	cnt  []uint32
}

// NewWriter returns a Writer packing a srcW by srcH image into dst, which
// must hold dstW*dstH*BytesPerPixel bytes.
func NewWriter(dst []byte, srcW, srcH, dstW, dstH int, conv Converter, mode ResizeMode) (*Writer, error) {
	bpp := conv.Format.BytesPerPixel()
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return nil, fmt.Errorf("pixel: invalid dimensions %dx%d -> %dx%d", srcW, srcH, dstW, dstH)
	}
	if len(dst) < dstW*dstH*bpp {
		return nil, fmt.Errorf("pixel: destination too small: %d < %d", len(dst), dstW*dstH*bpp)
	}

	if mode == Area && (dstW > srcW || dstH > srcH) {
		mode = Nearest
	}

	w := &Writer{
		conv: conv,
		mode: mode,
		dst:  dst,
		bpp:  bpp,
		srcW: srcW,
		srcH: srcH,
		dstW: dstW,
		dstH: dstH,
	}
	if mode == Area {
		w.acc = make([]uint32, dstW*4)
		w.cnt = make([]uint32, dstW)
	}
	return w, nil
}

// Mode reports the sampling algorithm actually in effect.
func (w *Writer) Mode() ResizeMode {
	return w.mode
}

// sample reads source pixel x from a row of the given channel count,
// expanding grayscale and defaulting alpha to opaque.
func sample(row []byte, x, channels int) (r, g, b, a uint8) {
	switch channels {
	case 1:
		v := row[x]
		return v, v, v, 0xff
	case 3:
		i := x * 3
		return row[i], row[i+1], row[i+2], 0xff
	default:
		i := x * 4
		return row[i], row[i+1], row[i+2], row[i+3]
	}
}

// WriteRow consumes one source row with the given channel count (1, 3 or 4
// bytes per pixel).
func (w *Writer) WriteRow(row []byte, channels int) error {
	if w.srcY >= w.srcH {
		return fmt.Errorf("pixel: more source rows than expected (%d)", w.srcH)
	}
	if len(row) < w.srcW*channels {
		return fmt.Errorf("pixel: short row: %d < %d", len(row), w.srcW*channels)
	}

	if w.mode == Area {
		w.writeRowArea(row, channels)
	} else {
		w.writeRowNearest(row, channels)
	}
	w.srcY++
	return nil
}

func (w *Writer) writeRowNearest(row []byte, channels int) {
	for w.outY < w.dstH && w.outY*w.srcH/w.dstH == w.srcY {
		off := w.outY * w.dstW * w.bpp
		for ox := 0; ox < w.dstW; ox++ {
			r, g, b, a := sample(row, ox*w.srcW/w.dstW, channels)
			w.conv.Put(w.dst[off+ox*w.bpp:], r, g, b, a)
		}
		w.outY++
	}
}

func (w *Writer) writeRowArea(row []byte, channels int) {
	ty := w.srcY * w.dstH / w.srcH
	if ty != w.binY {
		w.flushBin()
		w.binY = ty
	}
	for x := 0; x < w.srcW; x++ {
		r, g, b, a := sample(row, x, channels)
		i := x * w.dstW / w.srcW * 4
		w.acc[i] += uint32(r)
		w.acc[i+1] += uint32(g)
		w.acc[i+2] += uint32(b)
		w.acc[i+3] += uint32(a)
		w.cnt[i/4]++
	}
}

func (w *Writer) flushBin() {
	off := w.binY * w.dstW * w.bpp
	for tx := 0; tx < w.dstW; tx++ {
		n := w.cnt[tx]
		if n == 0 {
			continue
		}
		i := tx * 4
		w.conv.Put(w.dst[off+tx*w.bpp:],
			uint8(w.acc[i]/n), uint8(w.acc[i+1]/n), uint8(w.acc[i+2]/n), uint8(w.acc[i+3]/n))
		w.acc[i], w.acc[i+1], w.acc[i+2], w.acc[i+3] = 0, 0, 0, 0
		w.cnt[tx] = 0
	}
	w.outY = w.binY + 1
}

// Close finalizes the output buffer. It fails if fewer than srcH rows were
// written.
func (w *Writer) Close() error {
	if w.srcY < w.srcH {
		return errShortImage
	}
	if w.mode == Area {
		w.flushBin()
	}
	return nil
}
