package sdimage

import "errors"

var (
	// ErrAlreadyLoading is returned by a load request for a slot that has a
	// load in flight.
	ErrAlreadyLoading = errors.New("sdimage: slot is already loading")

	// ErrUnknownSlot is returned for a slot ID that is not configured.
	ErrUnknownSlot = errors.New("sdimage: unknown slot")

	// ErrNotLoaded is returned by pixel accessors on a slot that holds no
	// image.
	ErrNotLoaded = errors.New("sdimage: slot is not loaded")
)
