package sdimage_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodgit/sdimage"
	"github.com/bodgit/sdimage/block"
	"github.com/bodgit/sdimage/decode"
	"github.com/bodgit/sdimage/pixel"
)

type memFile struct {
	*bytes.Reader
}

func (f *memFile) Close() error { return nil }

type memSource map[string][]byte

func (s memSource) Open(path string) (block.File, error) {
	data, ok := s[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, block.ErrNotFound)
	}
	return &memFile{bytes.NewReader(data)}, nil
}

// gatedFile blocks the first read until the gate closes, to hold a load in
// flight.
type gatedFile struct {
	*bytes.Reader
	gate <-chan struct{}
}

func (f *gatedFile) Read(p []byte) (int, error) {
	<-f.gate
	return f.Reader.Read(p)
}

func (f *gatedFile) Close() error { return nil }

type gatedSource struct {
	data []byte
	gate <-chan struct{}
}

func (s *gatedSource) Open(path string) (block.File, error) {
	return &gatedFile{Reader: bytes.NewReader(s.data), gate: s.gate}, nil
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[4*i], img.Pix[4*i+1], img.Pix[4*i+2], img.Pix[4*i+3] = c.R, c.G, c.B, c.A
	}
	return encodePNG(t, img)
}

func newStorage(t *testing.T, source block.Source, config sdimage.Config) *sdimage.Storage {
	t.Helper()
	s, err := sdimage.New(source, config, nil)
	require.NoError(t, err)
	return s
}

func TestLoadPNGResize(t *testing.T) {
	t.Parallel()

	source := memSource{
		"/photo.png": solidPNG(t, 128, 128, color.NRGBA{R: 255, A: 255}),
	}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{
			ID:     "photo",
			Path:   "/photo.png",
			Format: pixel.RGB565,
			Resize: &sdimage.Dimensions{Width: 64, Height: 64},
		}},
	})

	require.NoError(t, s.Load(context.Background(), "photo"))

	slot, err := s.Get("photo")
	require.NoError(t, err)
	assert.Equal(t, sdimage.Loaded, slot.State())
	assert.Equal(t, 64, slot.Width())
	assert.Equal(t, 64, slot.Height())

	w, h := slot.NaturalSize()
	assert.Equal(t, 128, w)
	assert.Equal(t, 128, h)

	pixels, err := slot.Pixels()
	require.NoError(t, err)
	assert.Len(t, pixels, 64*64*2)

	// Solid red in RGB565 little-endian.
	assert.Equal(t, []byte{0x00, 0xf8}, pixels[:2])
}

func TestLoadPNGExactPixels(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 4})
	img.SetNRGBA(1, 0, color.NRGBA{R: 5, G: 6, B: 7, A: 8})
	img.SetNRGBA(0, 1, color.NRGBA{R: 9, G: 10, B: 11, A: 12})
	img.SetNRGBA(1, 1, color.NRGBA{R: 13, G: 14, B: 15, A: 16})

	source := memSource{"/a.png": encodePNG(t, img)}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{ID: "a", Path: "/a.png", Format: pixel.RGBA}},
	})

	require.NoError(t, s.Load(context.Background(), "a"))

	slot, err := s.Get("a")
	require.NoError(t, err)
	pixels, err := slot.Pixels()
	require.NoError(t, err)
	assert.Equal(t, img.Pix, pixels)
}

func TestLoadJPEG(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < 16*16; i++ {
		img.Pix[4*i], img.Pix[4*i+1], img.Pix[4*i+2], img.Pix[4*i+3] = 200, 100, 50, 255
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))

	source := memSource{"/a.jpg": buf.Bytes()}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{ID: "a", Path: "/a.jpg", Format: pixel.RGB888}},
	})

	require.NoError(t, s.Load(context.Background(), "a"))

	slot, err := s.Get("a")
	require.NoError(t, err)
	pixels, err := slot.Pixels()
	require.NoError(t, err)
	require.Len(t, pixels, 16*16*3)
	for i := 0; i < 16*16; i++ {
		assert.InDelta(t, 200, pixels[3*i], 8)
		assert.InDelta(t, 100, pixels[3*i+1], 8)
		assert.InDelta(t, 50, pixels[3*i+2], 8)
	}
}

func TestLoadRaw(t *testing.T) {
	t.Parallel()

	// 2x2 RGB565 little-endian, passed through untouched.
	raw := []byte{0x00, 0xf8, 0xe0, 0x07, 0x1f, 0x00, 0xff, 0xff}
	source := memSource{"/fb.raw": raw}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{
			ID:     "fb",
			Path:   "/fb.raw",
			Format: pixel.RGB565,
			Resize: &sdimage.Dimensions{Width: 2, Height: 2},
		}},
	})

	require.NoError(t, s.Load(context.Background(), "fb"))

	slot, err := s.Get("fb")
	require.NoError(t, err)
	pixels, err := slot.Pixels()
	require.NoError(t, err)
	assert.Equal(t, raw, pixels)

	r, g, b, a, err := slot.At(0, 0)
	require.NoError(t, err)
	assert.Equal(t, [4]uint8{0xf8, 0x00, 0x00, 0xff}, [4]uint8{r, g, b, a})
}

func TestLoadRawSizeMismatch(t *testing.T) {
	t.Parallel()

	source := memSource{"/fb.raw": make([]byte, 7)}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{
			ID:     "fb",
			Path:   "/fb.raw",
			Format: pixel.RGB565,
			Resize: &sdimage.Dimensions{Width: 2, Height: 2},
		}},
	})

	err := s.Load(context.Background(), "fb")
	assert.ErrorIs(t, err, decode.ErrSizeMismatch)

	slot, gerr := s.Get("fb")
	require.NoError(t, gerr)
	assert.Equal(t, sdimage.Failed, slot.State())
	assert.ErrorIs(t, slot.Err(), decode.ErrSizeMismatch)
}

func TestLoadUnknownFormatWithoutDimensions(t *testing.T) {
	t.Parallel()

	source := memSource{"/x.bin": []byte("certainly not an image")}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{ID: "x", Path: "/x.bin", Format: pixel.RGB565}},
	})

	err := s.Load(context.Background(), "x")
	assert.ErrorIs(t, err, decode.ErrUnsupportedFormat)
}

func TestUnknownSlot(t *testing.T) {
	t.Parallel()

	s := newStorage(t, memSource{}, sdimage.Config{})

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, sdimage.ErrUnknownSlot)
	assert.ErrorIs(t, s.Load(context.Background(), "nope"), sdimage.ErrUnknownSlot)
	assert.ErrorIs(t, s.Unload("nope"), sdimage.ErrUnknownSlot)
}

func TestUnloadIdempotent(t *testing.T) {
	t.Parallel()

	source := memSource{"/a.png": solidPNG(t, 4, 4, color.NRGBA{G: 255, A: 255})}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{ID: "a", Path: "/a.png", Format: pixel.RGB565}},
	})

	require.NoError(t, s.Load(context.Background(), "a"))
	require.NoError(t, s.Unload("a"))
	require.NoError(t, s.Unload("a"))

	slot, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, sdimage.Unloaded, slot.State())

	_, err = slot.Pixels()
	assert.ErrorIs(t, err, sdimage.ErrNotLoaded)
}

func TestAlreadyLoading(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	source := &gatedSource{data: solidPNG(t, 8, 8, color.NRGBA{B: 255, A: 255}), gate: gate}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{ID: "a", Path: "/a.png", Format: pixel.RGB565}},
	})

	slot, err := s.Get("a")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.Load(context.Background(), "a")
	}()

	require.Eventually(t, func() bool {
		return slot.State() == sdimage.Loading
	}, time.Second, 2*time.Millisecond)

	assert.ErrorIs(t, s.Load(context.Background(), "a"), sdimage.ErrAlreadyLoading)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, sdimage.Loaded, slot.State())
}

func TestUnloadCancelsLoad(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	source := &gatedSource{data: solidPNG(t, 8, 8, color.NRGBA{B: 255, A: 255}), gate: gate}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{ID: "a", Path: "/a.png", Format: pixel.RGB565}},
	})

	slot, err := s.Get("a")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.Load(context.Background(), "a")
	}()

	require.Eventually(t, func() bool {
		return slot.State() == sdimage.Loading
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, s.Unload("a"))
	close(gate)

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, sdimage.Unloaded, slot.State())
	assert.NoError(t, slot.Err())
}

func TestLoadAll(t *testing.T) {
	t.Parallel()

	source := memSource{
		"/a.png": solidPNG(t, 4, 4, color.NRGBA{R: 255, A: 255}),
		"/b.png": solidPNG(t, 4, 4, color.NRGBA{G: 255, A: 255}),
		"/c.png": []byte("\x89PNG\r\n\x1a\ntruncated"),
	}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{
			{ID: "a", Path: "/a.png", Format: pixel.RGB565},
			{ID: "b", Path: "/b.png", Format: pixel.RGB565},
			{ID: "c", Path: "/c.png", Format: pixel.RGB565},
		},
	})

	errs := s.LoadAll(context.Background())
	require.Len(t, errs, 1)
	assert.Contains(t, errs, "c")

	for _, slot := range s.Slots() {
		if slot.ID() == "c" {
			assert.Equal(t, sdimage.Failed, slot.State())
		} else {
			assert.Equal(t, sdimage.Loaded, slot.State())
		}
	}
}

func TestLoadFrom(t *testing.T) {
	t.Parallel()

	source := memSource{
		"/a.png": solidPNG(t, 4, 4, color.NRGBA{R: 255, A: 255}),
		"/b.png": solidPNG(t, 8, 8, color.NRGBA{G: 255, A: 255}),
	}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{ID: "a", Path: "/a.png", Format: pixel.RGB565}},
	})

	slot, err := s.Get("a")
	require.NoError(t, err)

	require.NoError(t, s.LoadFrom(context.Background(), "a", "/b.png"))
	assert.Equal(t, "/b.png", slot.Path())
	assert.Equal(t, 8, slot.Width())

	// A failed load must not adopt the new path.
	assert.Error(t, s.LoadFrom(context.Background(), "a", "/missing.png"))
	assert.Equal(t, "/b.png", slot.Path())
	assert.Equal(t, sdimage.Failed, slot.State())

	// Reload recovers using the adopted path.
	require.NoError(t, slot.Reload(context.Background()))
	assert.Equal(t, sdimage.Loaded, slot.State())
}

func TestInitAutoLoad(t *testing.T) {
	t.Parallel()

	off := false
	source := memSource{
		"/a.png": solidPNG(t, 4, 4, color.NRGBA{R: 255, A: 255}),
		"/b.png": solidPNG(t, 4, 4, color.NRGBA{G: 255, A: 255}),
	}
	s := newStorage(t, source, sdimage.Config{
		AutoLoad: true,
		Slots: []sdimage.SlotConfig{
			{ID: "a", Path: "/a.png", Format: pixel.RGB565},
			{ID: "b", Path: "/b.png", Format: pixel.RGB565, AutoLoad: &off},
		},
	})

	require.NoError(t, s.Init(context.Background()))

	a, _ := s.Get("a")
	b, _ := s.Get("b")
	assert.Equal(t, sdimage.Loaded, a.State())
	assert.Equal(t, sdimage.Unloaded, b.State())
}

func TestInitContinuesPastFailures(t *testing.T) {
	t.Parallel()

	source := memSource{
		"/b.png": solidPNG(t, 4, 4, color.NRGBA{G: 255, A: 255}),
	}
	s := newStorage(t, source, sdimage.Config{
		AutoLoad: true,
		Slots: []sdimage.SlotConfig{
			{ID: "a", Path: "/missing.png", Format: pixel.RGB565},
			{ID: "b", Path: "/b.png", Format: pixel.RGB565},
		},
	})

	require.NoError(t, s.Init(context.Background()))

	a, _ := s.Get("a")
	b, _ := s.Get("b")
	assert.Equal(t, sdimage.Failed, a.State())
	assert.Equal(t, sdimage.Loaded, b.State())
}

func TestRootPrefix(t *testing.T) {
	t.Parallel()

	source := memSource{"/images/a.png": solidPNG(t, 4, 4, color.NRGBA{R: 255, A: 255})}
	s := newStorage(t, source, sdimage.Config{
		Root:  "/images",
		Slots: []sdimage.SlotConfig{{ID: "a", Path: "/a.png", Format: pixel.RGB565}},
	})

	require.NoError(t, s.Load(context.Background(), "a"))
}

func TestAreaUpscaleFallsBack(t *testing.T) {
	t.Parallel()

	source := memSource{"/a.png": solidPNG(t, 4, 4, color.NRGBA{R: 255, A: 255})}
	s := newStorage(t, source, sdimage.Config{
		Slots: []sdimage.SlotConfig{{
			ID:         "a",
			Path:       "/a.png",
			Format:     pixel.RGB565,
			Resize:     &sdimage.Dimensions{Width: 8, Height: 8},
			ResizeMode: pixel.Area,
		}},
	})

	require.NoError(t, s.Load(context.Background(), "a"))

	slot, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, pixel.Nearest, slot.ResizeMode())
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := sdimage.New(nil, sdimage.Config{}, nil)
	assert.Error(t, err)

	_, err = sdimage.New(memSource{}, sdimage.Config{
		Slots: []sdimage.SlotConfig{{ID: "a", Path: "a.png"}},
	}, nil)
	assert.Error(t, err, "path without leading slash")

	_, err = sdimage.New(memSource{}, sdimage.Config{
		Slots: []sdimage.SlotConfig{
			{ID: "a", Path: "/a.png"},
			{ID: "a", Path: "/b.png"},
		},
	}, nil)
	assert.Error(t, err, "duplicate slot ID")
}
