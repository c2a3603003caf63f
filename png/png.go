/*
Package png implements a streaming PNG decoder.

Only non-interlaced images with 8 bits per sample are supported; that covers
grayscale, truecolor, palette and the two alpha variants. The decoder hands
out one reconstructed scanline at a time, so memory use is two scanlines
plus the inflate window regardless of image height. Adam7 interlacing needs
seven sub-images reassembled out of order and is rejected as unsupported.
*/
package png

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/bodgit/sdimage/decode"
)

var signature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

const (
	colorGray      = 0
	colorRGB       = 2
	colorPalette   = 3
	colorGrayAlpha = 4
	colorRGBA      = 6
)

// sampleCount maps a color type to samples per pixel in the filtered stream.
var sampleCount = map[byte]int{
	colorGray:      1,
	colorRGB:       3,
	colorPalette:   1,
	colorGrayAlpha: 2,
	colorRGBA:      4,
}

type decoder struct {
	br *bufio.Reader

	width, height int
	colorType     byte
	samples       int
	palette       []byte // 3 bytes per entry

	header     decode.Header
	headerDone bool

	ir *idatReader
	zr io.ReadCloser

	// prev and cur hold reconstructed (unfiltered) samples for the filter
	// predictors; out holds the converted row handed to the caller.
	prev, cur, out []byte
	y              int
	finished       bool
}

// New returns a Decoder for a PNG stream. It is the Factory for decode.PNG.
func New(r io.Reader) decode.Decoder {
	return &decoder{br: bufio.NewReader(r)}
}

// DecodeHeader reads the signature and all chunks up to the first IDAT.
func (d *decoder) DecodeHeader() (decode.Header, error) {
	if d.headerDone {
		return d.header, nil
	}

	var sig [8]byte
	if err := d.readFull(sig[:], decode.ErrCorruptHeader); err != nil {
		return decode.Header{}, err
	}
	for i, b := range signature {
		if sig[i] != b {
			return decode.Header{}, fmt.Errorf("png: bad signature: %w", decode.ErrCorruptHeader)
		}
	}

	ihdrSeen := false
	for {
		length, ctype, err := d.readChunkHeader()
		if err != nil {
			return decode.Header{}, err
		}

		if !ihdrSeen && ctype != "IHDR" {
			return decode.Header{}, fmt.Errorf("png: %s before IHDR: %w", ctype, decode.ErrCorruptHeader)
		}

		switch ctype {
		case "IHDR":
			if ihdrSeen {
				return decode.Header{}, fmt.Errorf("png: duplicate IHDR: %w", decode.ErrCorruptHeader)
			}
			if err := d.readIHDR(length); err != nil {
				return decode.Header{}, err
			}
			ihdrSeen = true

		case "PLTE":
			if err := d.readPLTE(length); err != nil {
				return decode.Header{}, err
			}

		case "IDAT":
			if d.colorType == colorPalette && d.palette == nil {
				return decode.Header{}, fmt.Errorf("png: missing PLTE: %w", decode.ErrCorruptHeader)
			}
			d.ir = &idatReader{
				br:        d.br,
				remaining: length,
				crc:       crc32.ChecksumIEEE([]byte(ctype)),
			}
			d.headerDone = true
			return d.header, nil

		case "IEND":
			return decode.Header{}, fmt.Errorf("png: no image data: %w", decode.ErrCorruptHeader)

		default:
			if err := d.skipChunk(length, ctype, decode.ErrCorruptHeader); err != nil {
				return decode.Header{}, err
			}
		}
	}
}

func (d *decoder) readIHDR(length uint32) error {
	if length != 13 {
		return fmt.Errorf("png: bad IHDR length: %w", decode.ErrCorruptHeader)
	}
	buf, err := d.readChunkData(length, "IHDR", decode.ErrCorruptHeader)
	if err != nil {
		return err
	}

	w := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	h := uint32(buf[4])<<24 | uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	if w == 0 || h == 0 {
		return fmt.Errorf("png: zero dimension: %w", decode.ErrCorruptHeader)
	}
	if w >= 1<<24 || h >= 1<<24 {
		return fmt.Errorf("png: image too large: %w", decode.ErrUnsupportedFormat)
	}
	d.width, d.height = int(w), int(h)

	depth, ct, comp, filt, interlace := buf[8], buf[9], buf[10], buf[11], buf[12]
	if depth != 8 {
		return fmt.Errorf("png: %d-bit depth: %w", depth, decode.ErrUnsupportedFormat)
	}
	samples, ok := sampleCount[ct]
	if !ok {
		return fmt.Errorf("png: color type %d: %w", ct, decode.ErrCorruptHeader)
	}
	if comp != 0 || filt != 0 {
		return fmt.Errorf("png: bad compression/filter method: %w", decode.ErrCorruptHeader)
	}
	if interlace != 0 {
		return fmt.Errorf("png: interlaced PNG: %w", decode.ErrUnsupportedFormat)
	}
	d.colorType = ct
	d.samples = samples

	var layout decode.Layout
	switch ct {
	case colorGray:
		layout = decode.Gray
	case colorRGB, colorPalette:
		layout = decode.RGB
	case colorGrayAlpha, colorRGBA:
		layout = decode.RGBA
	}
	d.header = decode.Header{Width: d.width, Height: d.height, Layout: layout}
	return nil
}

func (d *decoder) readPLTE(length uint32) error {
	if length%3 != 0 || length > 3*256 {
		return fmt.Errorf("png: bad PLTE length: %w", decode.ErrCorruptHeader)
	}
	buf, err := d.readChunkData(length, "PLTE", decode.ErrCorruptHeader)
	if err != nil {
		return err
	}
	d.palette = buf
	return nil
}

func (d *decoder) NextRows(max int) ([][]byte, error) {
	if max < 1 {
		return nil, nil
	}
	if !d.headerDone {
		if _, err := d.DecodeHeader(); err != nil {
			return nil, err
		}
	}

	if d.y >= d.height {
		if !d.finished {
			if err := d.finish(); err != nil {
				return nil, err
			}
		}
		return nil, io.EOF
	}

	if d.zr == nil {
		zr, err := zlib.NewReader(d.ir)
		if err != nil {
			return nil, fmt.Errorf("png: %w: %w", err, decode.ErrData)
		}
		d.zr = zr
		rowBytes := d.width * d.samples
		d.prev = make([]byte, rowBytes)
		d.cur = make([]byte, rowBytes)
		d.out = make([]byte, d.width*d.header.Layout.Channels())
	}

	var ftype [1]byte
	if _, err := io.ReadFull(d.zr, ftype[:]); err != nil {
		return nil, dataErr(err)
	}
	if _, err := io.ReadFull(d.zr, d.cur); err != nil {
		return nil, dataErr(err)
	}
	if err := unfilter(ftype[0], d.cur, d.prev, d.samples); err != nil {
		return nil, err
	}
	if err := d.convertRow(); err != nil {
		return nil, err
	}

	d.prev, d.cur = d.cur, d.prev
	d.y++
	return [][]byte{d.out}, nil
}

// finish drains the zlib stream and walks the trailing chunks to IEND.
func (d *decoder) finish() error {
	var tmp [1]byte
	if n, err := d.zr.Read(tmp[:]); n != 0 || err != io.EOF {
		if err != nil && err != io.EOF {
			return dataErr(err)
		}
		return fmt.Errorf("png: trailing pixel data: %w", decode.ErrData)
	}
	if err := d.zr.Close(); err != nil {
		return fmt.Errorf("png: %w: %w", err, decode.ErrData)
	}
	if err := d.ir.drain(); err != nil {
		return err
	}

	// Skip ancillary chunks after the image data; IEND must follow.
	length, ctype := d.ir.pendingLen, d.ir.pendingType
	for {
		if ctype == "IEND" {
			if length != 0 {
				return fmt.Errorf("png: bad IEND length: %w", decode.ErrData)
			}
			if _, err := d.readChunkData(0, ctype, decode.ErrData); err != nil {
				return err
			}
			d.finished = true
			return nil
		}
		if err := d.skipChunk(length, ctype, decode.ErrData); err != nil {
			return err
		}
		var err error
		length, ctype, err = d.readChunkHeader()
		if err != nil {
			return err
		}
	}
}

func (d *decoder) readChunkHeader() (uint32, string, error) {
	var b [8]byte
	if err := d.readFull(b[:], decode.ErrCorruptHeader); err != nil {
		return 0, "", err
	}
	length := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if length >= 1<<31 {
		return 0, "", fmt.Errorf("png: chunk too large: %w", decode.ErrCorruptHeader)
	}
	return length, string(b[4:8]), nil
}

// readChunkData reads a chunk's payload and verifies its CRC.
func (d *decoder) readChunkData(length uint32, ctype string, kind error) ([]byte, error) {
	buf := make([]byte, length)
	if err := d.readFull(buf, kind); err != nil {
		return nil, err
	}
	var cb [4]byte
	if err := d.readFull(cb[:], kind); err != nil {
		return nil, err
	}
	want := uint32(cb[0])<<24 | uint32(cb[1])<<16 | uint32(cb[2])<<8 | uint32(cb[3])
	got := crc32.Update(crc32.ChecksumIEEE([]byte(ctype)), crc32.IEEETable, buf)
	if got != want {
		return nil, fmt.Errorf("png: %s checksum mismatch: %w", ctype, kind)
	}
	return buf, nil
}

func (d *decoder) skipChunk(length uint32, ctype string, kind error) error {
	_, err := d.readChunkData(length, ctype, kind)
	return err
}

func (d *decoder) readFull(p []byte, kind error) error {
	if _, err := io.ReadFull(d.br, p); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("png: truncated file: %w", kind)
		}
		return fmt.Errorf("png: %w", err)
	}
	return nil
}

func dataErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("png: truncated pixel data: %w", decode.ErrData)
	}
	return fmt.Errorf("png: %w: %w", err, decode.ErrData)
}

// idatReader concatenates consecutive IDAT chunk payloads into one stream
// for the inflater, verifying each chunk's CRC as it is consumed.
type idatReader struct {
	br        *bufio.Reader
	remaining uint32
	crc       uint32
	done      bool

	// The header of the first non-IDAT chunk, read while looking for more
	// image data.
	pendingLen  uint32
	pendingType string
}

func (ir *idatReader) Read(p []byte) (int, error) {
	for ir.remaining == 0 {
		if ir.done {
			return 0, io.EOF
		}
		if err := ir.finishChunk(); err != nil {
			return 0, err
		}
	}

	if uint32(len(p)) > ir.remaining {
		p = p[:ir.remaining]
	}
	n, err := ir.br.Read(p)
	ir.crc = crc32.Update(ir.crc, crc32.IEEETable, p[:n])
	ir.remaining -= uint32(n)
	if err == io.EOF {
		err = fmt.Errorf("png: truncated IDAT: %w", decode.ErrData)
	}
	return n, err
}

// finishChunk verifies the CRC of the exhausted IDAT chunk and advances to
// the next one, or records the first trailing chunk and reports EOF via done.
func (ir *idatReader) finishChunk() error {
	var cb [8]byte
	if _, err := io.ReadFull(ir.br, cb[:4]); err != nil {
		return fmt.Errorf("png: truncated IDAT: %w", decode.ErrData)
	}
	want := uint32(cb[0])<<24 | uint32(cb[1])<<16 | uint32(cb[2])<<8 | uint32(cb[3])
	if ir.crc != want {
		return fmt.Errorf("png: IDAT checksum mismatch: %w", decode.ErrData)
	}

	if _, err := io.ReadFull(ir.br, cb[:]); err != nil {
		return fmt.Errorf("png: truncated file: %w", decode.ErrData)
	}
	length := uint32(cb[0])<<24 | uint32(cb[1])<<16 | uint32(cb[2])<<8 | uint32(cb[3])
	ctype := string(cb[4:8])
	if ctype != "IDAT" {
		ir.pendingLen, ir.pendingType = length, ctype
		ir.done = true
		return nil
	}
	ir.remaining = length
	ir.crc = crc32.ChecksumIEEE(cb[4:8])
	return nil
}

// drain consumes anything left of the IDAT chunks after the inflater has
// reported the end of the compressed stream.
func (ir *idatReader) drain() error {
	buf := make([]byte, 512)
	for {
		_, err := ir.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
