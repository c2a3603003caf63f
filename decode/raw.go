package decode

import (
	"fmt"
	"io"
)

// rawDecoder copies pre-packed pixel rows straight through. The dimensions
// and pixel size cannot be recovered from the data and must be supplied by
// configuration.
type rawDecoder struct {
	r             io.Reader
	width, height int
	pixelBytes    int
	row           []byte
	y             int
}

// NewRaw returns a degenerate decoder for uncompressed pixel data that is
// already in the caller's output format. The stream must hold exactly
// width*height*pixelBytes bytes; anything shorter or longer fails with
// ErrSizeMismatch.
func NewRaw(r io.Reader, width, height, pixelBytes int) Decoder {
	return &rawDecoder{
		r:          r,
		width:      width,
		height:     height,
		pixelBytes: pixelBytes,
	}
}

func (d *rawDecoder) DecodeHeader() (Header, error) {
	if d.width <= 0 || d.height <= 0 || d.pixelBytes <= 0 {
		return Header{}, fmt.Errorf("raw: dimensions not configured: %w", ErrCorruptHeader)
	}
	return Header{Width: d.width, Height: d.height, Layout: Packed}, nil
}

func (d *rawDecoder) NextRows(max int) ([][]byte, error) {
	if max < 1 {
		return nil, nil
	}

	if d.y >= d.height {
		// The source must end exactly at the last row.
		var tmp [1]byte
		if n, err := d.r.Read(tmp[:]); n != 0 || (err != io.EOF && err != io.ErrUnexpectedEOF) {
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("raw: %w", err)
			}
			return nil, fmt.Errorf("raw: trailing data: %w", ErrSizeMismatch)
		}
		return nil, io.EOF
	}

	if d.row == nil {
		d.row = make([]byte, d.width*d.pixelBytes)
	}

	if _, err := io.ReadFull(d.r, d.row); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("raw: short data at row %d: %w", d.y, ErrSizeMismatch)
		}
		return nil, fmt.Errorf("raw: %w", err)
	}
	d.y++

	return [][]byte{d.row}, nil
}
