package types

import "strings"

// Frame buffer attribute names inspected for per-tick status.
const (
	AttrPartialImage          = "PartialImage"
	AttrRequestedFrameLoading = "RequestedFrameLoading"
	AttrType                  = "Type"
	AttrMessage               = "Message"

	TypeError   = "Error"
	TypeWarning = "Warning"
)

// FrameBuffer carries the attributes a produced frame was tagged with.
// Pixel storage belongs to the graph and is not modelled here.
type FrameBuffer struct {
	Attributes map[string]string
	Bytes      int64
}

// Attribute returns the named attribute.
func (fb *FrameBuffer) Attribute(name string) (string, bool) {
	if fb == nil || fb.Attributes == nil {
		return "", false
	}
	v, ok := fb.Attributes[name]
	return v, ok
}

// Image is a node of an evaluated image tree. Leaves usually carry a
// FrameBuffer; composites carry children.
type Image struct {
	Frame    int
	Buffer   *FrameBuffer
	Children []*Image
}

// Walk visits img and all descendants depth first.
func (img *Image) Walk(fn func(*Image)) {
	if img == nil {
		return
	}
	fn(img)
	for _, c := range img.Children {
		c.Walk(fn)
	}
}

// StatusFlags summarises the displayability of the current image.
type StatusFlags uint32

const (
	StatusPartial StatusFlags = 1 << iota
	StatusLoading
	StatusError
	StatusWarning
	StatusNoImage
)

func (f StatusFlags) Has(flag StatusFlags) bool {
	return f&flag != 0
}

// Incomplete is true when any buffer is partial or still loading, or there is
// nothing to show.
func (f StatusFlags) Incomplete() bool {
	return f&(StatusPartial|StatusLoading|StatusNoImage) != 0
}

func (f StatusFlags) String() string {
	if f == 0 {
		return "ok"
	}
	var parts []string
	names := []struct {
		flag StatusFlags
		name string
	}{
		{StatusPartial, "partial"},
		{StatusLoading, "loading"},
		{StatusError, "error"},
		{StatusWarning, "warning"},
		{StatusNoImage, "no-image"},
	}
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// StatusOf derives status flags from the buffers of an image tree. A nil
// image, or a tree with no buffers at all, reports StatusNoImage.
func StatusOf(img *Image) StatusFlags {
	var flags StatusFlags
	buffers := 0

	img.Walk(func(node *Image) {
		fb := node.Buffer
		if fb == nil {
			return
		}
		buffers++
		if _, ok := fb.Attribute(AttrPartialImage); ok {
			flags |= StatusPartial
		}
		if _, ok := fb.Attribute(AttrRequestedFrameLoading); ok {
			flags |= StatusLoading
		}
		switch t, _ := fb.Attribute(AttrType); t {
		case TypeError:
			flags |= StatusError
		case TypeWarning:
			flags |= StatusWarning
		}
	})

	if buffers == 0 {
		flags |= StatusNoImage
	}
	return flags
}
