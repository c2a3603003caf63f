/*
Package jpeg implements a streaming baseline JPEG decoder.

The decoder works one MCU row at a time: it never materializes the whole
image, only a band of 8 or 16 pixel rows plus the Huffman and quantization
tables, so a large photo can be converted on a device with very little free
memory. Progressive JPEG needs the full coefficient plane resident and is
rejected as unsupported.
*/
package jpeg

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bodgit/sdimage/decode"
)

const (
	markerSOF0 = 0xc0 // baseline DCT
	markerSOF1 = 0xc1 // extended sequential DCT
	markerSOF2 = 0xc2 // progressive DCT
	markerDHT  = 0xc4
	markerSOI  = 0xd8
	markerEOI  = 0xd9
	markerSOS  = 0xda
	markerDQT  = 0xdb
	markerDRI  = 0xdd
	markerAPP0 = 0xe0
	markerCOM  = 0xfe
)

// zigzag maps the stream order of DCT coefficients to their natural
// position in the 8x8 block.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

type component struct {
	id     uint8
	h, v   int // sampling factors
	tq     uint8
	td, ta uint8
	dcPred int32

	// One band (v*8 rows) of decoded samples for this component.
	pixels []byte
	stride int
}

type decoder struct {
	br bitReader

	width, height int
	ncomp         int
	comp          [3]component
	hmax, vmax    int

	mcuWidth, mcuHeight int // MCU size in pixels
	mbWidth, mbHeight   int // image size in MCUs

	quant     [4][64]uint16 // zigzag order, as read from DQT
	quantSet  [4]bool
	dcTab     [4]huffTable
	acTab     [4]huffTable
	restart   int // restart interval in MCUs, 0 when disabled
	rstMCU    int // MCUs decoded since the last restart marker
	rstMarker uint8

	block [64]int32

	header     decode.Header
	headerDone bool

	mbRow    int      // next MCU row to decode
	rowBuf   [][]byte // output rows of the current band
	bandRows int      // valid rows in rowBuf
	rowPos   int      // next row to hand out
}

// New returns a Decoder for a baseline JPEG stream. It is the Factory for
// decode.JPEG.
func New(r io.Reader) decode.Decoder {
	d := &decoder{}
	d.br.r = bufio.NewReader(r)
	return d
}

// DecodeHeader parses segments up to and including SOS, leaving the stream
// positioned at the entropy-coded data.
func (d *decoder) DecodeHeader() (decode.Header, error) {
	if d.headerDone {
		return d.header, nil
	}

	if err := d.readSOI(); err != nil {
		return decode.Header{}, err
	}

	sofSeen := false
	for {
		marker, err := d.readMarker()
		if err != nil {
			return decode.Header{}, err
		}

		switch {
		case marker == markerSOF0 || marker == markerSOF1:
			if sofSeen {
				return decode.Header{}, fmt.Errorf("jpeg: duplicate SOF: %w", decode.ErrCorruptHeader)
			}
			if err := d.readSOF(); err != nil {
				return decode.Header{}, err
			}
			sofSeen = true

		case marker == markerSOF2:
			return decode.Header{}, fmt.Errorf("jpeg: progressive JPEG: %w", decode.ErrUnsupportedFormat)

		case marker >= 0xc3 && marker <= 0xcf && marker != markerDHT && marker != 0xc8 && marker != 0xcc:
			return decode.Header{}, fmt.Errorf("jpeg: SOF%d coding: %w", marker-0xc0, decode.ErrUnsupportedFormat)

		case marker == markerDHT:
			if err := d.readDHT(); err != nil {
				return decode.Header{}, err
			}

		case marker == markerDQT:
			if err := d.readDQT(); err != nil {
				return decode.Header{}, err
			}

		case marker == markerDRI:
			if err := d.readDRI(); err != nil {
				return decode.Header{}, err
			}

		case marker == markerSOS:
			if !sofSeen {
				return decode.Header{}, fmt.Errorf("jpeg: SOS before SOF: %w", decode.ErrCorruptHeader)
			}
			if err := d.readSOS(); err != nil {
				return decode.Header{}, err
			}
			d.headerDone = true
			return d.header, nil

		case marker == markerEOI || marker == markerSOI:
			return decode.Header{}, fmt.Errorf("jpeg: no image data: %w", decode.ErrCorruptHeader)

		default:
			// APPn, COM and anything unrecognized carries a length.
			if err := d.skipSegment(); err != nil {
				return decode.Header{}, err
			}
		}
	}
}

func (d *decoder) readSOI() error {
	var b [2]byte
	if err := d.readFull(b[:]); err != nil {
		return err
	}
	if b[0] != 0xff || b[1] != markerSOI {
		return fmt.Errorf("jpeg: missing SOI: %w", decode.ErrCorruptHeader)
	}
	return nil
}

// readMarker reads the next marker, tolerating fill bytes before it.
func (d *decoder) readMarker() (uint8, error) {
	c, err := d.br.r.ReadByte()
	if err != nil {
		return 0, headerErr(err)
	}
	if c != 0xff {
		return 0, fmt.Errorf("jpeg: expected marker, got %#02x: %w", c, decode.ErrCorruptHeader)
	}
	for {
		c, err = d.br.r.ReadByte()
		if err != nil {
			return 0, headerErr(err)
		}
		if c != 0xff {
			return c, nil
		}
	}
}

// readLength reads a segment length and returns the payload size.
func (d *decoder) readLength() (int, error) {
	var b [2]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	n := int(b[0])<<8 | int(b[1])
	if n < 2 {
		return 0, fmt.Errorf("jpeg: short segment: %w", decode.ErrCorruptHeader)
	}
	return n - 2, nil
}

func (d *decoder) skipSegment() error {
	n, err := d.readLength()
	if err != nil {
		return err
	}
	if _, err := d.br.r.Discard(n); err != nil {
		return headerErr(err)
	}
	return nil
}

func (d *decoder) readSOF() error {
	n, err := d.readLength()
	if err != nil {
		return err
	}
	if n < 6 {
		return fmt.Errorf("jpeg: short SOF: %w", decode.ErrCorruptHeader)
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return err
	}

	if buf[0] != 8 {
		return fmt.Errorf("jpeg: %d-bit precision: %w", buf[0], decode.ErrUnsupportedFormat)
	}
	d.height = int(buf[1])<<8 | int(buf[2])
	d.width = int(buf[3])<<8 | int(buf[4])
	d.ncomp = int(buf[5])
	if d.width == 0 || d.height == 0 {
		return fmt.Errorf("jpeg: zero dimension: %w", decode.ErrCorruptHeader)
	}
	if d.ncomp != 1 && d.ncomp != 3 {
		return fmt.Errorf("jpeg: %d components: %w", d.ncomp, decode.ErrUnsupportedFormat)
	}
	if n != 6+3*d.ncomp {
		return fmt.Errorf("jpeg: bad SOF length: %w", decode.ErrCorruptHeader)
	}

	d.hmax, d.vmax = 1, 1
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.id = buf[6+3*i]
		c.h = int(buf[7+3*i] >> 4)
		c.v = int(buf[7+3*i] & 0x0f)
		c.tq = buf[8+3*i]
		if c.h < 1 || c.h > 2 || c.v < 1 || c.v > 2 {
			return fmt.Errorf("jpeg: sampling %dx%d: %w", c.h, c.v, decode.ErrUnsupportedFormat)
		}
		if c.tq > 3 {
			return fmt.Errorf("jpeg: quant selector %d: %w", c.tq, decode.ErrCorruptHeader)
		}
		if c.h > d.hmax {
			d.hmax = c.h
		}
		if c.v > d.vmax {
			d.vmax = c.v
		}
	}
	if d.ncomp == 1 {
		// Grayscale is always decoded as a plain 8x8 grid.
		d.comp[0].h, d.comp[0].v = 1, 1
		d.hmax, d.vmax = 1, 1
	}

	d.mcuWidth = 8 * d.hmax
	d.mcuHeight = 8 * d.vmax
	d.mbWidth = (d.width + d.mcuWidth - 1) / d.mcuWidth
	d.mbHeight = (d.height + d.mcuHeight - 1) / d.mcuHeight

	layout := decode.RGB
	if d.ncomp == 1 {
		layout = decode.Gray
	}
	d.header = decode.Header{Width: d.width, Height: d.height, Layout: layout}
	return nil
}

func (d *decoder) readDQT() error {
	n, err := d.readLength()
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return err
	}

	for len(buf) > 0 {
		pq, tq := buf[0]>>4, buf[0]&0x0f
		if pq != 0 {
			return fmt.Errorf("jpeg: 16-bit quant table: %w", decode.ErrUnsupportedFormat)
		}
		if tq > 3 || len(buf) < 65 {
			return fmt.Errorf("jpeg: bad DQT: %w", decode.ErrCorruptHeader)
		}
		for i := 0; i < 64; i++ {
			d.quant[tq][i] = uint16(buf[1+i])
		}
		d.quantSet[tq] = true
		buf = buf[65:]
	}
	return nil
}

func (d *decoder) readDHT() error {
	n, err := d.readLength()
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return err
	}

	for len(buf) > 0 {
		if len(buf) < 17 {
			return fmt.Errorf("jpeg: bad DHT: %w", decode.ErrCorruptHeader)
		}
		tc, th := buf[0]>>4, buf[0]&0x0f
		if tc > 1 || th > 3 {
			return fmt.Errorf("jpeg: bad DHT selector: %w", decode.ErrCorruptHeader)
		}
		counts := buf[1:17]
		total := 0
		for _, c := range counts {
			total += int(c)
		}
		if len(buf) < 17+total {
			return fmt.Errorf("jpeg: bad DHT: %w", decode.ErrCorruptHeader)
		}
		tab := &d.dcTab[th]
		if tc == 1 {
			tab = &d.acTab[th]
		}
		if err := tab.build(counts, buf[17:17+total]); err != nil {
			return err
		}
		buf = buf[17+total:]
	}
	return nil
}

func (d *decoder) readDRI() error {
	n, err := d.readLength()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("jpeg: bad DRI: %w", decode.ErrCorruptHeader)
	}
	var b [2]byte
	if err := d.readFull(b[:]); err != nil {
		return err
	}
	d.restart = int(b[0])<<8 | int(b[1])
	return nil
}

func (d *decoder) readSOS() error {
	n, err := d.readLength()
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return err
	}
	if n < 1 || int(buf[0]) != d.ncomp || n != 1+2*d.ncomp+3 {
		return fmt.Errorf("jpeg: bad SOS: %w", decode.ErrCorruptHeader)
	}

	for i := 0; i < d.ncomp; i++ {
		id := buf[1+2*i]
		sel := buf[2+2*i]
		found := false
		for j := 0; j < d.ncomp; j++ {
			if d.comp[j].id == id {
				d.comp[j].td = sel >> 4
				d.comp[j].ta = sel & 0x0f
				if d.comp[j].td > 3 || d.comp[j].ta > 3 {
					return fmt.Errorf("jpeg: bad SOS selector: %w", decode.ErrCorruptHeader)
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("jpeg: unknown component %d in SOS: %w", id, decode.ErrCorruptHeader)
		}
	}

	// Baseline spectral selection is fixed; anything else is a
	// progressive scan that slipped past the SOF check.
	ss, se, ahal := buf[n-3], buf[n-2], buf[n-1]
	if ss != 0 || se != 63 || ahal != 0 {
		return fmt.Errorf("jpeg: non-baseline scan: %w", decode.ErrUnsupportedFormat)
	}

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		if !d.quantSet[c.tq] {
			return fmt.Errorf("jpeg: missing quant table %d: %w", c.tq, decode.ErrCorruptHeader)
		}
		if !d.dcTab[c.td].defined || !d.acTab[c.ta].defined {
			return fmt.Errorf("jpeg: missing Huffman table: %w", decode.ErrCorruptHeader)
		}
		c.stride = d.mbWidth * c.h * 8
		c.pixels = make([]byte, c.stride*c.v*8)
	}

	channels := d.header.Layout.Channels()
	d.rowBuf = make([][]byte, d.mcuHeight)
	for i := range d.rowBuf {
		d.rowBuf[i] = make([]byte, d.width*channels)
	}
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

	if d.rowPos >= d.bandRows {
		if d.mbRow >= d.mbHeight {
			return nil, io.EOF
		}
		if err := d.decodeBand(); err != nil {
			return nil, err
		}
	}

	n := d.bandRows - d.rowPos
	if n > max {
		n = max
	}
	rows := d.rowBuf[d.rowPos : d.rowPos+n]
	d.rowPos += n
	return rows, nil
}

func (d *decoder) readFull(p []byte) error {
	if _, err := io.ReadFull(d.br.r, p); err != nil {
		return headerErr(err)
	}
	return nil
}

func headerErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("jpeg: truncated header: %w", decode.ErrCorruptHeader)
	}
	return fmt.Errorf("jpeg: %w", err)
}
