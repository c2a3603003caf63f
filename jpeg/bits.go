package jpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bodgit/sdimage/decode"
)

// errMarker signals that a marker byte interrupted the entropy-coded
// segment. The caller decides whether a marker is legitimate there.
var errMarker = errors.New("jpeg: marker in entropy-coded segment")

// bitReader reads the entropy-coded segment bit by bit, undoing the 0xFF00
// byte stuffing as it goes. It holds at most one partially consumed byte so
// that align leaves the underlying reader exactly at the next whole byte.
type bitReader struct {
	r   *bufio.Reader
	acc byte
	n   int
}

func (b *bitReader) bit() (int32, error) {
	if b.n == 0 {
		c, err := b.r.ReadByte()
		if err != nil {
			return 0, entropyErr(err)
		}
		if c == 0xff {
			c2, err := b.r.ReadByte()
			if err != nil {
				return 0, entropyErr(err)
			}
			if c2 != 0x00 {
				// A real marker. Put it back so the segment reader
				// can pick it up after align.
				_ = b.r.UnreadByte()
				return 0, errMarker
			}
		}
		b.acc = c
		b.n = 8
	}
	b.n--
	return int32(b.acc>>uint(b.n)) & 1, nil
}

// receive reads count bits MSB first.
func (b *bitReader) receive(count int) (int32, error) {
	var v int32
	for i := 0; i < count; i++ {
		bit, err := b.bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | bit
	}
	return v, nil
}

// receiveExtend reads count bits and sign-extends them per the JPEG
// EXTEND procedure.
func (b *bitReader) receiveExtend(count int) (int32, error) {
	if count == 0 {
		return 0, nil
	}
	v, err := b.receive(count)
	if err != nil {
		return 0, err
	}
	if v < 1<<uint(count-1) {
		v += (-1 << uint(count)) + 1
	}
	return v, nil
}

// align discards any partially consumed byte so that the next read from the
// underlying reader starts on a byte boundary.
func (b *bitReader) align() {
	b.n = 0
}

func entropyErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("jpeg: truncated scan: %w", decode.ErrData)
	}
	return fmt.Errorf("jpeg: %w", err)
}
