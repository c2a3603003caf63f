/*
Package decode defines the streaming decoder contract shared by the image
format packages.

A Decoder reads compressed bytes from an underlying stream and produces
decoded pixel rows incrementally, top to bottom, so that peak memory stays
bounded by a small number of rows rather than the whole image.
*/
package decode

import (
	"bytes"
	"errors"
	"io"
)

var (
	// ErrUnsupportedFormat means the byte stream does not match any
	// registered image format.
	ErrUnsupportedFormat = errors.New("decode: unsupported image format")

	// ErrCorruptHeader means the stream ended before a complete header was
	// read or the header violates the format's structural constraints.
	ErrCorruptHeader = errors.New("decode: corrupt image header")

	// ErrData means the compressed data is malformed mid-stream.
	ErrData = errors.New("decode: malformed image data")

	// ErrSizeMismatch means a raw image's byte count does not equal
	// width*height*bytes-per-pixel.
	ErrSizeMismatch = errors.New("decode: raw image size mismatch")
)

// Format identifies an image file format.
type Format int

const (
	Unknown Format = iota
	JPEG
	PNG
	Raw
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "JPEG"
	case PNG:
		return "PNG"
	case Raw:
		return "RAW"
	}
	return "unknown"
}

// SniffLen is the number of leading bytes Sniff needs to classify a file.
const SniffLen = 8

var (
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	pngMagic  = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
)

// Sniff classifies the first bytes of a file. It never returns Raw; raw
// data has no signature and must be declared by configuration.
func Sniff(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, jpegMagic):
		return JPEG
	case bytes.HasPrefix(header, pngMagic):
		return PNG
	}
	return Unknown
}

// Layout describes the channel layout of decoded rows.
type Layout int

const (
	// Packed rows are already in the caller's requested output format and
	// bypass pixel conversion. Produced only by the raw decoder.
	Packed Layout = iota
	Gray
	RGB
	RGBA
)

// Channels returns the number of bytes per pixel in a row of this layout.
// Packed rows have no fixed channel count and return 0.
func (l Layout) Channels() int {
	switch l {
	case Gray:
		return 1
	case RGB:
		return 3
	case RGBA:
		return 4
	}
	return 0
}

// Header is the result of parsing an image header.
type Header struct {
	Width, Height int
	Layout        Layout
}

// Decoder produces decoded pixel rows from a compressed stream.
type Decoder interface {
	// DecodeHeader parses the stream up to the start of the pixel data and
	// returns the image dimensions and row layout.
	DecodeHeader() (Header, error)

	// NextRows returns up to max decoded rows in top-to-bottom order and
	// io.EOF once the image is exhausted. Returned rows alias internal
	// buffers and are only valid until the next call.
	NextRows(max int) ([][]byte, error)
}

// Factory constructs a Decoder reading from r.
type Factory func(r io.Reader) Decoder

// Table maps a sniffed format to its decoder factory. It is passed in
// explicitly at construction time; there is no process-wide registry.
type Table map[Format]Factory
