package jpeg

import (
	"fmt"

	"github.com/bodgit/sdimage/decode"
)

const maxCodeLength = 16

// huffTable is a canonical Huffman table decoded one bit at a time. The
// mincode/maxcode/valptr form needs a few hundred bytes per table where a
// flat lookup table would need kilobytes, which matters on small targets.
type huffTable struct {
	defined bool
	mincode [maxCodeLength + 1]int32
	maxcode [maxCodeLength + 1]int32
	valptr  [maxCodeLength + 1]int32
	vals    [256]uint8
}

// build derives the decoding tables from the DHT segment's code-length
// counts and symbol values.
func (h *huffTable) build(counts []byte, vals []byte) error {
	total := 0
	for _, c := range counts {
		total += int(c)
	}
	if total == 0 || total > len(h.vals) || total != len(vals) {
		return fmt.Errorf("jpeg: bad Huffman table: %w", decode.ErrCorruptHeader)
	}
	copy(h.vals[:], vals)

	var code, k int32
	for l := 1; l <= maxCodeLength; l++ {
		n := int32(counts[l-1])
		if n == 0 {
			h.maxcode[l] = -1
		} else {
			h.valptr[l] = k
			h.mincode[l] = code
			code += n
			k += n
			h.maxcode[l] = code - 1
		}
		if code > 1<<uint(l) {
			return fmt.Errorf("jpeg: overfull Huffman table: %w", decode.ErrCorruptHeader)
		}
		code <<= 1
	}
	h.defined = true
	return nil
}

// decodeSymbol reads one Huffman-coded symbol from the bitstream.
func (h *huffTable) decodeSymbol(br *bitReader) (uint8, error) {
	var code int32
	for l := 1; l <= maxCodeLength; l++ {
		bit, err := br.bit()
		if err != nil {
			return 0, err
		}
		code = code<<1 | bit
		if code <= h.maxcode[l] {
			return h.vals[h.valptr[l]+code-h.mincode[l]], nil
		}
	}
	return 0, fmt.Errorf("jpeg: invalid Huffman code: %w", decode.ErrData)
}
