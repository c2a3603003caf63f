package sdimage

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bodgit/sdimage/block"
	"github.com/bodgit/sdimage/decode"
)

// Storage manages a set of image slots backed by one block source.
type Storage struct {
	source   block.Source
	logger   *log.Logger
	root     string
	autoLoad bool
	decoders decode.Table

	slots []*Slot
	index map[string]*Slot

	// The block source is not safe for concurrent reads, so only one slot
	// streams from it at a time.
	ioMu sync.Mutex
}

// Init loads every slot whose effective auto-load setting is on. A failed
// load leaves that slot Failed and moves on; only context cancellation
// aborts the pass.
func (s *Storage) Init(ctx context.Context) error {
	for _, slot := range s.slots {
		if !slot.autoLoad() {
			continue
		}
		if err := slot.load(ctx, slot.currentPath()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Printf("auto-load %s: %v", slot.ID(), err)
		}
	}
	return nil
}

// Get returns the slot with the given ID.
func (s *Storage) Get(id string) (*Slot, error) {
	slot, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, id)
	}
	return slot, nil
}

// Slots returns the slots in configuration order.
func (s *Storage) Slots() []*Slot {
	return s.slots
}

// Load loads a slot from its current path. Loading a Loaded slot frees the
// old buffer first; a slot with a load already in flight fails with
// ErrAlreadyLoading.
func (s *Storage) Load(ctx context.Context, id string) error {
	slot, err := s.Get(id)
	if err != nil {
		return err
	}
	return slot.load(ctx, slot.currentPath())
}

// LoadFrom loads a slot from a different file. The new path replaces the
// slot's current path only once the load succeeds.
func (s *Storage) LoadFrom(ctx context.Context, id, path string) error {
	slot, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := validatePath(path); err != nil {
		return fmt.Errorf("sdimage: slot %q: %w", id, err)
	}
	return slot.load(ctx, path)
}

// Unload frees a slot's buffer. Unloading an Unloaded slot is a no-op;
// unloading a Loading slot cancels the load in flight.
func (s *Storage) Unload(id string) error {
	slot, err := s.Get(id)
	if err != nil {
		return err
	}
	slot.Unload()
	return nil
}

// LoadAll loads every slot that is not already Loaded and returns the
// per-slot errors, keyed by slot ID. An empty map means everything loaded.
func (s *Storage) LoadAll(ctx context.Context) map[string]error {
	errs := make(map[string]error)
	for _, slot := range s.slots {
		if slot.State() == Loaded {
			continue
		}
		if err := slot.load(ctx, slot.currentPath()); err != nil {
			errs[slot.ID()] = err
		}
	}
	return errs
}

// DumpConfig logs the storage configuration and slot states.
func (s *Storage) DumpConfig() {
	s.logger.Printf("image storage: root %q, auto-load %t, %d slots", s.root, s.autoLoad, len(s.slots))
	for _, slot := range s.slots {
		c := &slot.cfg
		size := "native"
		if c.Resize != nil {
			size = fmt.Sprintf("%dx%d %s", c.Resize.Width, c.Resize.Height, c.ResizeMode)
		}
		s.logger.Printf("  slot %s: %s, %s %s, %s, state %s",
			c.ID, slot.Path(), c.Format, c.Order, size, slot.State())
	}
}

// fullPath maps a slot path to a path on the block source.
func (s *Storage) fullPath(path string) string {
	return s.root + path
}
