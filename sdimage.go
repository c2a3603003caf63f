/*
Package sdimage caches images from SD card storage as packed pixel buffers
ready for an embedded display.

Each configured slot names a file on the backing block source and the packed
format it should be held in. Loading a slot streams the file through a
format-sniffing decoder and the pixel converter into a single allocation of
width*height*bytes-per-pixel, so peak memory is the output buffer plus a few
decoder rows. Slots move between the Unloaded, Loading, Loaded and Failed
states and can be loaded, reloaded from a different path and unloaded at
runtime.
*/
package sdimage

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/bodgit/sdimage/block"
	"github.com/bodgit/sdimage/decode"
	"github.com/bodgit/sdimage/jpeg"
	"github.com/bodgit/sdimage/pixel"
	"github.com/bodgit/sdimage/png"
)

// Dimensions is an output size in pixels.
type Dimensions struct {
	Width, Height int
}

// SlotConfig describes one image slot.
type SlotConfig struct {
	// ID names the slot in API calls. Required, unique.
	ID string

	// Path is the file on the block source, with a leading slash.
	Path string

	// Format and Order select the packed pixel layout of the cached
	// buffer.
	Format pixel.Format
	Order  pixel.ByteOrder

	// Resize forces the cached buffer to these dimensions instead of the
	// image's own. Required for raw files, whose dimensions cannot be
	// recovered from the data.
	Resize     *Dimensions
	ResizeMode pixel.ResizeMode

	// AutoLoad overrides the storage-wide auto-load default for this slot.
	AutoLoad *bool
}

// Config describes an image storage instance.
type Config struct {
	// Root is prepended to every slot path, e.g. "/images".
	Root string

	// AutoLoad makes Init load every slot that does not override it.
	AutoLoad bool

	// Decoders maps sniffed formats to decoder factories. Defaults to
	// DefaultDecoders.
	Decoders decode.Table

	Slots []SlotConfig
}

// DefaultDecoders returns the decoder table with the built-in JPEG and PNG
// decoders.
func DefaultDecoders() decode.Table {
	return decode.Table{
		decode.JPEG: jpeg.New,
		decode.PNG:  png.New,
	}
}

// New validates the configuration and returns a Storage. No files are
// opened until Init or an explicit load.
func New(source block.Source, config Config, logger *log.Logger) (*Storage, error) {
	if source == nil {
		return nil, fmt.Errorf("sdimage: nil block source")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if config.Decoders == nil {
		config.Decoders = DefaultDecoders()
	}
	if config.Root != "" && !strings.HasPrefix(config.Root, "/") {
		return nil, fmt.Errorf("sdimage: root %q must start with a slash", config.Root)
	}

	s := &Storage{
		source:   source,
		logger:   logger,
		root:     strings.TrimSuffix(config.Root, "/"),
		autoLoad: config.AutoLoad,
		decoders: config.Decoders,
		index:    make(map[string]*Slot, len(config.Slots)),
	}

	for _, sc := range config.Slots {
		if sc.ID == "" {
			return nil, fmt.Errorf("sdimage: slot with empty ID")
		}
		if _, ok := s.index[sc.ID]; ok {
			return nil, fmt.Errorf("sdimage: duplicate slot %q", sc.ID)
		}
		if err := validatePath(sc.Path); err != nil {
			return nil, fmt.Errorf("sdimage: slot %q: %w", sc.ID, err)
		}
		if sc.Resize != nil && (sc.Resize.Width <= 0 || sc.Resize.Height <= 0) {
			return nil, fmt.Errorf("sdimage: slot %q: invalid resize %dx%d", sc.ID, sc.Resize.Width, sc.Resize.Height)
		}

		slot := &Slot{
			cfg:     sc,
			storage: s,
			path:    sc.Path,
		}
		s.slots = append(s.slots, slot)
		s.index[sc.ID] = slot
	}

	return s, nil
}

func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q must start with a slash", path)
	}
	return nil
}
