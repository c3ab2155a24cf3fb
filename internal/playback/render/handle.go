package render

import "github.com/zsiec/cadence/internal/playback/types"

// CheckInFunc returns an image to the cache it was checked out from.
type CheckInFunc func(img *types.Image, flushHint bool, originFrame int)

// Handle is exclusive ownership of one image. Cached images go back to the
// cache exactly once, on Release; sentinel handles own nothing.
type Handle struct {
	img      *types.Image
	frame    int
	sentinel bool
	checkIn  CheckInFunc
	released bool
}

// NewHandle wraps an image checked out from the cache.
func NewHandle(img *types.Image, frame int, checkIn CheckInFunc) *Handle {
	return &Handle{img: img, frame: frame, checkIn: checkIn}
}

func sentinelHandle(img *types.Image, frame int) *Handle {
	return &Handle{img: img, frame: frame, sentinel: true}
}

func (h *Handle) Image() *types.Image {
	if h == nil || h.released {
		return nil
	}
	return h.img
}

func (h *Handle) Frame() int {
	if h == nil {
		return 0
	}
	return h.frame
}

// Release checks the image back in. Further calls do nothing.
func (h *Handle) Release() {
	h.release(false, 0)
}

func (h *Handle) release(flushHint bool, originFrame int) {
	if h == nil || h.released {
		return
	}
	h.released = true
	if !h.sentinel && h.img != nil && h.checkIn != nil {
		h.checkIn(h.img, flushHint, originFrame)
	}
}

// Slot holds at most one handle. Installing a handle releases the previous
// one, so a slot can never leak an image.
type Slot struct {
	h *Handle
}

// Set installs h, releasing whatever the slot held.
func (s *Slot) Set(h *Handle) {
	if s.h != nil && s.h != h {
		s.h.Release()
	}
	s.h = h
}

// Clear releases the held handle and empties the slot.
func (s *Slot) Clear() {
	s.Set(nil)
}

// MoveFrom takes the handle held by other, releasing this slot's handle with
// a flush hint pointing at the frame that replaces it.
func (s *Slot) MoveFrom(other *Slot) {
	next := other.h
	other.h = nil
	if s.h != nil && s.h != next {
		s.h.release(true, next.Frame())
	}
	s.h = next
}

func (s *Slot) Handle() *Handle {
	return s.h
}

func (s *Slot) Image() *types.Image {
	return s.h.Image()
}

func (s *Slot) Empty() bool {
	return s.h == nil
}

// Holds reports whether the slot has a cached (non-sentinel) image for frame.
func (s *Slot) Holds(frame int) bool {
	return s.h != nil && !s.h.sentinel && s.h.frame == frame && s.h.Image() != nil
}
