package pixel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutRGB565(t *testing.T) {
	t.Parallel()

	tables := []struct {
		name    string
		order   ByteOrder
		r, g, b uint8
		b0, b1  byte
	}{
		{"red little", LittleEndian, 0xff, 0x00, 0x00, 0x00, 0xf8},
		{"red big", BigEndian, 0xff, 0x00, 0x00, 0xf8, 0x00},
		{"green little", LittleEndian, 0x00, 0xff, 0x00, 0xe0, 0x07},
		{"blue little", LittleEndian, 0x00, 0x00, 0xff, 0x1f, 0x00},
		{"white big", BigEndian, 0xff, 0xff, 0xff, 0xff, 0xff},
		{"black big", BigEndian, 0x00, 0x00, 0x00, 0x00, 0x00},
	}

	for _, table := range tables {
		table := table
		t.Run(table.name, func(t *testing.T) {
			t.Parallel()

			c := Converter{Format: RGB565, Order: table.order}
			dst := make([]byte, 2)
			c.Put(dst, table.r, table.g, table.b, 0xff)
			assert.Equal(t, []byte{table.b0, table.b1}, dst)
		})
	}
}

func TestPutRGB888(t *testing.T) {
	t.Parallel()

	c := Converter{Format: RGB888}
	dst := make([]byte, 3)
	c.Put(dst, 0x12, 0x34, 0x56, 0xff)
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, dst)
}

func TestPutRGBA(t *testing.T) {
	t.Parallel()

	c := Converter{Format: RGBA}
	dst := make([]byte, 4)
	c.Put(dst, 0x12, 0x34, 0x56, 0x78)
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, dst)
}

func TestAtRGB565(t *testing.T) {
	t.Parallel()

	for _, order := range []ByteOrder{LittleEndian, BigEndian} {
		c := Converter{Format: RGB565, Order: order}
		dst := make([]byte, 2)
		c.Put(dst, 0xff, 0x00, 0x00, 0xff)

		r, g, b, a := c.At(dst)
		// 5-bit red reads back widened by shifting.
		assert.Equal(t, uint8(0xf8), r)
		assert.Equal(t, uint8(0x00), g)
		assert.Equal(t, uint8(0x00), b)
		assert.Equal(t, uint8(0xff), a)
	}
}

func TestAtRoundTrip(t *testing.T) {
	t.Parallel()

	c := Converter{Format: RGBA}
	dst := make([]byte, 4)
	c.Put(dst, 1, 2, 3, 4)
	r, g, b, a := c.At(dst)
	assert.Equal(t, [4]uint8{1, 2, 3, 4}, [4]uint8{r, g, b, a})
}

func TestBytesPerPixel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, RGB565.BytesPerPixel())
	assert.Equal(t, 3, RGB888.BytesPerPixel())
	assert.Equal(t, 4, RGBA.BytesPerPixel())
}

func TestByteOrderString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "LITTLE_ENDIAN", LittleEndian.String())
	assert.Equal(t, "BIG_ENDIAN", BigEndian.String())
}
