package png

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	stdpng "image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodgit/sdimage/decode"
)

func decodeAll(t *testing.T, data []byte) (decode.Header, [][]byte, error) {
	t.Helper()

	d := New(bytes.NewReader(data))
	hdr, err := d.DecodeHeader()
	if err != nil {
		return hdr, nil, err
	}

	var rows [][]byte
	for {
		batch, err := d.NextRows(4)
		if err == io.EOF {
			return hdr, rows, nil
		}
		if err != nil {
			return hdr, rows, err
		}
		for _, row := range batch {
			rows = append(rows, append([]byte(nil), row...))
		}
	}
}

func TestDecodeNRGBA(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 5, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 50), G: uint8(y * 80), B: uint8(x*y + 7), A: uint8(255 - x),
			})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, img))

	hdr, rows, err := decodeAll(t, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, decode.Header{Width: 5, Height: 3, Layout: decode.RGBA}, hdr)
	require.Len(t, rows, 3)
	for y, row := range rows {
		assert.Equal(t, img.Pix[y*img.Stride:y*img.Stride+5*4], row)
	}
}

func TestDecodeGray(t *testing.T) {
	t.Parallel()

	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 16)
	}

	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, img))

	hdr, rows, err := decodeAll(t, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, decode.Header{Width: 4, Height: 4, Layout: decode.Gray}, hdr)
	require.Len(t, rows, 4)
	for y, row := range rows {
		assert.Equal(t, img.Pix[y*img.Stride:y*img.Stride+4], row)
	}
}

func TestDecodePaletted(t *testing.T) {
	t.Parallel()

	// More than 16 colors forces the encoder to 8 bits per pixel.
	palette := make(color.Palette, 32)
	for i := range palette {
		palette[i] = color.NRGBA{R: uint8(i * 8), G: uint8(255 - i*8), B: uint8(i), A: 0xff}
	}
	img := image.NewPaletted(image.Rect(0, 0, 8, 2), palette)
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 2)
	}

	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, img))

	hdr, rows, err := decodeAll(t, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, decode.Header{Width: 8, Height: 2, Layout: decode.RGB}, hdr)
	require.Len(t, rows, 2)
	for y, row := range rows {
		for x := 0; x < 8; x++ {
			c := palette[img.Pix[y*img.Stride+x]].(color.NRGBA)
			assert.Equal(t, []byte{c.R, c.G, c.B}, row[3*x:3*x+3])
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 16, 16))))

	_, _, err := decodeAll(t, buf.Bytes()[:buf.Len()-10])
	assert.ErrorIs(t, err, decode.ErrData)
}

func TestDecodeCorruptIDAT(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, img))

	data := buf.Bytes()
	i := bytes.Index(data, []byte("IDAT"))
	require.True(t, i > 0)
	data[i+10] ^= 0xff

	_, _, err := decodeAll(t, data)
	assert.ErrorIs(t, err, decode.ErrData)
}

func TestDecodeBadSignature(t *testing.T) {
	t.Parallel()

	_, _, err := decodeAll(t, []byte("definitely not a PNG file"))
	assert.ErrorIs(t, err, decode.ErrCorruptHeader)
}

func TestDecode16Bit(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, image.NewNRGBA64(image.Rect(0, 0, 2, 2))))

	_, _, err := decodeAll(t, buf.Bytes())
	assert.ErrorIs(t, err, decode.ErrUnsupportedFormat)
}

func TestDecodeInterlaced(t *testing.T) {
	t.Parallel()

	// Hand-built header: the standard encoder never writes Adam7.
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 2)
	binary.BigEndian.PutUint32(ihdr[4:], 2)
	ihdr[8] = 8  // depth
	ihdr[9] = 2  // truecolor
	ihdr[12] = 1 // Adam7

	data := append([]byte(nil), signature...)
	data = append(data, makeChunk("IHDR", ihdr)...)

	_, _, err := decodeAll(t, data)
	assert.ErrorIs(t, err, decode.ErrUnsupportedFormat)
}

func makeChunk(ctype string, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+12)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, ctype...)
	buf = append(buf, payload...)
	crc := crc32.Update(crc32.ChecksumIEEE([]byte(ctype)), crc32.IEEETable, payload)
	return binary.BigEndian.AppendUint32(buf, crc)
}
