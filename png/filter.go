package png

import (
	"fmt"

	"github.com/bodgit/sdimage/decode"
)

const (
	filterNone = iota
	filterSub
	filterUp
	filterAverage
	filterPaeth
)

// unfilter reconstructs one scanline in place. cur holds the filtered
// samples, prev the reconstructed samples of the previous scanline (all
// zeros for the first one).
func unfilter(ftype byte, cur, prev []byte, bpp int) error {
	switch ftype {
	case filterNone:

	case filterSub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}

	case filterUp:
		for i := range cur {
			cur[i] += prev[i]
		}

	case filterAverage:
		for i := 0; i < bpp; i++ {
			cur[i] += prev[i] / 2
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += byte((int(cur[i-bpp]) + int(prev[i])) / 2)
		}

	case filterPaeth:
		for i := 0; i < bpp; i++ {
			cur[i] += paeth(0, prev[i], 0)
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += paeth(cur[i-bpp], prev[i], prev[i-bpp])
		}

	default:
		return fmt.Errorf("png: filter type %d: %w", ftype, decode.ErrData)
	}
	return nil
}

// paeth is the predictor from the PNG specification, section 9.4.
func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := p-int(a), p-int(b), p-int(c)
	if pa < 0 {
		pa = -pa
	}
	if pb < 0 {
		pb = -pb
	}
	if pc < 0 {
		pc = -pc
	}
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

// convertRow translates the reconstructed samples in cur into the declared
// row layout in out.
func (d *decoder) convertRow() error {
	switch d.colorType {
	case colorGray, colorRGB, colorRGBA:
		copy(d.out, d.cur)

	case colorPalette:
		n := len(d.palette) / 3
		for x := 0; x < d.width; x++ {
			idx := int(d.cur[x])
			if idx >= n {
				return fmt.Errorf("png: palette index %d out of range: %w", idx, decode.ErrData)
			}
			copy(d.out[3*x:3*x+3], d.palette[3*idx:3*idx+3])
		}

	case colorGrayAlpha:
		for x := 0; x < d.width; x++ {
			g, a := d.cur[2*x], d.cur[2*x+1]
			o := d.out[4*x : 4*x+4]
			o[0], o[1], o[2], o[3] = g, g, g, a
		}
	}
	return nil
}
