/*
Package pixel converts decoded image rows into the packed formats used by
embedded displays: RGB565, RGB888 and RGBA, with a configurable byte order
for the 16-bit packed format.
*/
package pixel

// Format is the packed output pixel format.
type Format int

const (
	// RGB565 packs a pixel into two bytes as 5-6-5 red/green/blue. The
	// zero value, matching the configuration default.
	RGB565 Format = iota
	RGB888
	RGBA
)

// BytesPerPixel returns the storage size of one packed pixel.
func (f Format) BytesPerPixel() int {
	switch f {
	case RGB888:
		return 3
	case RGBA:
		return 4
	}
	return 2
}

func (f Format) String() string {
	switch f {
	case RGB888:
		return "RGB888"
	case RGBA:
		return "RGBA"
	}
	return "RGB565"
}

// ByteOrder selects the byte order of multi-byte packed pixels. It only
// affects RGB565; RGB888 and RGBA store one channel per byte in a fixed
// order, so for those formats the setting is a documented no-op.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "BIG_ENDIAN"
	}
	return "LITTLE_ENDIAN"
}

// Converter packs and unpacks single pixels for one format/order pair.
type Converter struct {
	Format Format
	Order  ByteOrder
}

// Put packs one pixel into dst, which must hold at least BytesPerPixel
// bytes. Sources without an alpha channel should pass a=0xff.
func (c Converter) Put(dst []byte, r, g, b, a uint8) {
	switch c.Format {
	case RGB888:
		dst[0] = r
		dst[1] = g
		dst[2] = b
	case RGBA:
		dst[0] = r
		dst[1] = g
		dst[2] = b
		dst[3] = a
	default:
		v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
		if c.Order == BigEndian {
			dst[0] = byte(v >> 8)
			dst[1] = byte(v)
		} else {
			dst[0] = byte(v)
			dst[1] = byte(v >> 8)
		}
	}
}

// At unpacks the pixel stored at dst[0:BytesPerPixel]. RGB565 channels are
// widened by shifting, mirroring how the display stack reads them back.
func (c Converter) At(dst []byte) (r, g, b, a uint8) {
	switch c.Format {
	case RGB888:
		return dst[0], dst[1], dst[2], 0xff
	case RGBA:
		return dst[0], dst[1], dst[2], dst[3]
	default:
		var v uint16
		if c.Order == BigEndian {
			v = uint16(dst[0])<<8 | uint16(dst[1])
		} else {
			v = uint16(dst[0]) | uint16(dst[1])<<8
		}
		return uint8(v>>11) << 3, uint8(v>>5&0x3f) << 2, uint8(v&0x1f) << 3, 0xff
	}
}
