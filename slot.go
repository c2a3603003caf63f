package sdimage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bodgit/sdimage/decode"
	"github.com/bodgit/sdimage/pixel"
)

// State is the lifecycle state of a slot.
type State int

const (
	Unloaded State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	case Failed:
		return "FAILED"
	}
	return "UNLOADED"
}

// rowBatch is how many decoded rows are requested per decoder call between
// cancellation checks.
const rowBatch = 8

// Slot holds one cached image. All methods are safe for concurrent use.
type Slot struct {
	cfg     SlotConfig
	storage *Storage

	mu      sync.Mutex
	state   State
	loadErr error
	cancel  context.CancelFunc
	path    string

	pixels        []byte
	width, height int
	natW, natH    int
	mode          pixel.ResizeMode
}

// ID returns the slot's configured identifier.
func (sl *Slot) ID() string {
	return sl.cfg.ID
}

// Path returns the file the slot currently points at. A LoadFrom path
// replaces it only once that load has succeeded.
func (sl *Slot) Path() string {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.path
}

// State returns the slot's lifecycle state.
func (sl *Slot) State() State {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.state
}

// Err returns the error that put the slot into the Failed state, or nil.
func (sl *Slot) Err() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.loadErr
}

// Format returns the packed pixel format the slot caches.
func (sl *Slot) Format() pixel.Format {
	return sl.cfg.Format
}

// Order returns the byte order of the cached buffer.
func (sl *Slot) Order() pixel.ByteOrder {
	return sl.cfg.Order
}

// Pixels returns the packed buffer of a Loaded slot. The buffer is owned by
// the slot and only valid until the next load or unload.
func (sl *Slot) Pixels() ([]byte, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.state != Loaded {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotLoaded, sl.cfg.ID, sl.state)
	}
	return sl.pixels, nil
}

// Width returns the cached buffer's width in pixels, 0 when not loaded.
func (sl *Slot) Width() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.width
}

// Height returns the cached buffer's height in pixels, 0 when not loaded.
func (sl *Slot) Height() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.height
}

// NaturalSize returns the decoded image's own dimensions before any
// resize, 0x0 when not loaded.
func (sl *Slot) NaturalSize() (int, int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.natW, sl.natH
}

// ResizeMode returns the sampling mode in effect: for a Loaded slot the one
// actually used, otherwise the configured one.
func (sl *Slot) ResizeMode() pixel.ResizeMode {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.state == Loaded {
		return sl.mode
	}
	return sl.cfg.ResizeMode
}

// At reads back the pixel at (x, y) from the packed buffer, widening the
// channels to 8 bits.
func (sl *Slot) At(x, y int) (r, g, b, a uint8, err error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.state != Loaded {
		return 0, 0, 0, 0, fmt.Errorf("%w: %q is %s", ErrNotLoaded, sl.cfg.ID, sl.state)
	}
	if x < 0 || x >= sl.width || y < 0 || y >= sl.height {
		return 0, 0, 0, 0, fmt.Errorf("sdimage: pixel (%d,%d) outside %dx%d", x, y, sl.width, sl.height)
	}
	conv := pixel.Converter{Format: sl.cfg.Format, Order: sl.cfg.Order}
	bpp := sl.cfg.Format.BytesPerPixel()
	r, g, b, a = conv.At(sl.pixels[(y*sl.width+x)*bpp:])
	return r, g, b, a, nil
}

// Reload loads the slot again from its current path.
func (sl *Slot) Reload(ctx context.Context) error {
	return sl.load(ctx, sl.currentPath())
}

// Unload frees the slot's buffer. A load in flight is cancelled and will
// finish in the Unloaded state rather than Failed.
func (sl *Slot) Unload() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.state == Loading {
		sl.cancel()
		return
	}
	sl.free()
	sl.state = Unloaded
	sl.loadErr = nil
}

// free drops the buffer and its metadata. Caller holds mu.
func (sl *Slot) free() {
	sl.pixels = nil
	sl.width, sl.height = 0, 0
	sl.natW, sl.natH = 0, 0
}

func (sl *Slot) currentPath() string {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.path
}

func (sl *Slot) autoLoad() bool {
	if sl.cfg.AutoLoad != nil {
		return *sl.cfg.AutoLoad
	}
	return sl.storage.autoLoad
}

// load runs the whole pipeline synchronously: open, sniff, decode, convert.
// The old buffer is freed before decoding starts so that both never coexist.
func (sl *Slot) load(ctx context.Context, path string) error {
	sl.mu.Lock()
	if sl.state == Loading {
		sl.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyLoading, sl.cfg.ID)
	}
	sl.free()
	sl.loadErr = nil
	sl.state = Loading
	loadCtx, cancel := context.WithCancel(ctx)
	sl.cancel = cancel
	sl.mu.Unlock()
	defer cancel()

	res, err := sl.decodeFile(loadCtx, path)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.cancel = nil

	if cerr := loadCtx.Err(); cerr != nil {
		// Cancelled, most likely by Unload. Not a decode failure.
		sl.state = Unloaded
		return cerr
	}
	if err != nil {
		sl.state = Failed
		sl.loadErr = err
		sl.storage.logger.Printf("slot %s: load %s: %v", sl.cfg.ID, path, err)
		return err
	}

	sl.state = Loaded
	sl.pixels = res.pixels
	sl.width, sl.height = res.width, res.height
	sl.natW, sl.natH = res.natW, res.natH
	sl.mode = res.mode
	sl.path = path
	sl.storage.logger.Printf("slot %s: loaded %s, %dx%d %s", sl.cfg.ID, path, res.width, res.height, sl.cfg.Format)
	return nil
}

type loadResult struct {
	pixels        []byte
	width, height int
	natW, natH    int
	mode          pixel.ResizeMode
}

func (sl *Slot) decodeFile(ctx context.Context, path string) (*loadResult, error) {
	st := sl.storage

	// The block source is single-stream; hold it for the whole decode.
	st.ioMu.Lock()
	defer st.ioMu.Unlock()

	f, err := st.source.Open(st.fullPath(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	conv := pixel.Converter{Format: sl.cfg.Format, Order: sl.cfg.Order}
	bpp := sl.cfg.Format.BytesPerPixel()

	head, err := br.Peek(decode.SniffLen)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("sdimage: %s: %w", path, err)
	}

	var dec decode.Decoder
	if factory, ok := st.decoders[decode.Sniff(head)]; ok {
		dec = factory(br)
	} else {
		// No signature matched. Raw data is only accepted when the slot
		// declares its dimensions, and must then be byte-exact.
		if sl.cfg.Resize == nil {
			return nil, fmt.Errorf("sdimage: %s: %w", path, decode.ErrUnsupportedFormat)
		}
		w, h := sl.cfg.Resize.Width, sl.cfg.Resize.Height
		if want := int64(w) * int64(h) * int64(bpp); f.Size() != want {
			return nil, fmt.Errorf("sdimage: %s is %d bytes, want %d: %w", path, f.Size(), want, decode.ErrSizeMismatch)
		}
		dec = decode.NewRaw(br, w, h, bpp)
	}

	hdr, err := dec.DecodeHeader()
	if err != nil {
		return nil, err
	}

	outW, outH := hdr.Width, hdr.Height
	if sl.cfg.Resize != nil {
		outW, outH = sl.cfg.Resize.Width, sl.cfg.Resize.Height
	}
	res := &loadResult{
		width: outW, height: outH,
		natW: hdr.Width, natH: hdr.Height,
		mode: sl.cfg.ResizeMode,
	}
	buf := make([]byte, outW*outH*bpp)

	if hdr.Layout == decode.Packed {
		// Raw rows are already in the output format.
		off := 0
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := dec.NextRows(rowBatch)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				off += copy(buf[off:], row)
			}
		}
		res.pixels = buf
		return res, nil
	}

	w, err := pixel.NewWriter(buf, hdr.Width, hdr.Height, outW, outH, conv, sl.cfg.ResizeMode)
	if err != nil {
		return nil, err
	}
	channels := hdr.Layout.Channels()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := dec.NextRows(rowBatch)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if err := w.WriteRow(row, channels); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	res.mode = w.Mode()
	res.pixels = buf
	return res, nil
}
