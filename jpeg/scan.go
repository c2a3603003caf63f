package jpeg

import (
	"fmt"

	"github.com/bodgit/sdimage/decode"
)

// decodeBand decodes one MCU row of entropy-coded data and converts it to
// output rows in rowBuf.
func (d *decoder) decodeBand() error {
	for mbx := 0; mbx < d.mbWidth; mbx++ {
		if d.restart > 0 && d.rstMCU == d.restart {
			if err := d.readRestart(); err != nil {
				return err
			}
		}
		for i := 0; i < d.ncomp; i++ {
			c := &d.comp[i]
			for v := 0; v < c.v; v++ {
				for h := 0; h < c.h; h++ {
					off := v*8*c.stride + (mbx*c.h+h)*8
					if err := d.decodeBlock(c, off); err != nil {
						return err
					}
				}
			}
		}
		d.rstMCU++
	}

	rows := d.mcuHeight
	if top := d.mbRow * d.mcuHeight; top+rows > d.height {
		rows = d.height - top
	}
	d.convertBand(rows)

	d.mbRow++
	d.bandRows = rows
	d.rowPos = 0
	return nil
}

// decodeBlock Huffman-decodes, dequantizes and inverse-transforms one 8x8
// block into the component's band buffer at off.
func (d *decoder) decodeBlock(c *component, off int) error {
	d.block = [64]int32{}
	qt := &d.quant[c.tq]

	s, err := d.dcTab[c.td].decodeSymbol(&d.br)
	if err != nil {
		return scanErr(err)
	}
	if s > 11 {
		return fmt.Errorf("jpeg: bad DC magnitude %d: %w", s, decode.ErrData)
	}
	diff, err := d.br.receiveExtend(int(s))
	if err != nil {
		return scanErr(err)
	}
	c.dcPred += diff
	d.block[0] = c.dcPred * int32(qt[0])

	for k := 1; k <= 63; {
		rs, err := d.acTab[c.ta].decodeSymbol(&d.br)
		if err != nil {
			return scanErr(err)
		}
		run, size := int(rs>>4), int(rs&0x0f)
		if size == 0 {
			if run != 15 {
				break // EOB
			}
			k += 16
			continue
		}
		k += run
		if k > 63 {
			return fmt.Errorf("jpeg: coefficient index out of range: %w", decode.ErrData)
		}
		v, err := d.br.receiveExtend(size)
		if err != nil {
			return scanErr(err)
		}
		// The quant table is kept in stream order, so index it with the
		// zigzag position and scatter into the natural position.
		d.block[zigzag[k]] = v * int32(qt[k])
		k++
	}

	idct(&d.block, c.pixels, off, c.stride)
	return nil
}

// readRestart consumes an RSTn marker between restart intervals and resets
// the DC predictors.
func (d *decoder) readRestart() error {
	d.br.align()

	var b [2]byte
	if err := d.readFull(b[:]); err != nil {
		return fmt.Errorf("jpeg: missing restart marker: %w", decode.ErrData)
	}
	if b[0] != 0xff || b[1] != 0xd0+d.rstMarker {
		return fmt.Errorf("jpeg: bad restart marker %#02x%02x: %w", b[0], b[1], decode.ErrData)
	}
	d.rstMarker = (d.rstMarker + 1) & 7
	d.rstMCU = 0
	for i := 0; i < d.ncomp; i++ {
		d.comp[i].dcPred = 0
	}
	return nil
}

// convertBand turns the per-component band buffers into interleaved output
// rows, upsampling chroma by nearest neighbour.
func (d *decoder) convertBand(rows int) {
	if d.ncomp == 1 {
		c := &d.comp[0]
		for y := 0; y < rows; y++ {
			copy(d.rowBuf[y], c.pixels[y*c.stride:y*c.stride+d.width])
		}
		return
	}

	cy, ccb, ccr := &d.comp[0], &d.comp[1], &d.comp[2]
	for y := 0; y < rows; y++ {
		yRow := cy.pixels[(y*cy.v/d.vmax)*cy.stride:]
		cbRow := ccb.pixels[(y*ccb.v/d.vmax)*ccb.stride:]
		crRow := ccr.pixels[(y*ccr.v/d.vmax)*ccr.stride:]
		out := d.rowBuf[y]

		for x := 0; x < d.width; x++ {
			yy := int32(yRow[x*cy.h/d.hmax]) << 8
			cb := int32(cbRow[x*ccb.h/d.hmax]) - 128
			cr := int32(crRow[x*ccr.h/d.hmax]) - 128

			out[3*x] = clip((yy + 359*cr + 128) >> 8)
			out[3*x+1] = clip((yy - 88*cb - 183*cr + 128) >> 8)
			out[3*x+2] = clip((yy + 454*cb + 128) >> 8)
		}
	}
}

func scanErr(err error) error {
	if err == errMarker {
		return fmt.Errorf("jpeg: unexpected marker in scan: %w", decode.ErrData)
	}
	return err
}
