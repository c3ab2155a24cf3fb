package types

import "fmt"

// PlayMode selects what happens when playback reaches a range boundary.
type PlayMode int

const (
	PlayLoop PlayMode = iota
	PlayPingPong
	PlayOnce
)

func (m PlayMode) String() string {
	switch m {
	case PlayLoop:
		return "loop"
	case PlayPingPong:
		return "pingpong"
	case PlayOnce:
		return "once"
	default:
		return fmt.Sprintf("PlayMode(%d)", int(m))
	}
}

// ParsePlayMode accepts the names produced by String.
func ParsePlayMode(s string) (PlayMode, error) {
	switch s {
	case "loop":
		return PlayLoop, nil
	case "pingpong":
		return PlayPingPong, nil
	case "once":
		return PlayOnce, nil
	}
	return PlayLoop, fmt.Errorf("unknown play mode %q", s)
}

// CacheMode is the read-ahead strategy negotiated with the frame cache.
type CacheMode int

const (
	// NeverCache: no read-ahead, images are discarded after display.
	NeverCache CacheMode = iota
	// BufferCache: sequential look-ahead sized for contiguous playback.
	BufferCache
	// GreedyCache: whole-region cache for random access scrubbing.
	GreedyCache
)

// String returns the name used in cache-mode-changed notifications.
func (m CacheMode) String() string {
	switch m {
	case NeverCache:
		return "off"
	case BufferCache:
		return "buffer"
	case GreedyCache:
		return "region"
	default:
		return fmt.Sprintf("CacheMode(%d)", int(m))
	}
}

func ParseCacheMode(s string) (CacheMode, error) {
	switch s {
	case "off":
		return NeverCache, nil
	case "buffer":
		return BufferCache, nil
	case "region":
		return GreedyCache, nil
	}
	return NeverCache, fmt.Errorf("unknown cache mode %q", s)
}

// FreeMode tells the cache how aggressively it may evict frames.
type FreeMode int

const (
	ActiveFreeMode FreeMode = iota
	ConservativeFreeMode
	GreedyFreeMode
)

func (m FreeMode) String() string {
	switch m {
	case ActiveFreeMode:
		return "active"
	case ConservativeFreeMode:
		return "conservative"
	case GreedyFreeMode:
		return "greedy"
	default:
		return fmt.Sprintf("FreeMode(%d)", int(m))
	}
}

// EvalStatus is the outcome of a graph evaluation.
type EvalStatus int

const (
	EvalNormal EvalStatus = iota
	EvalBufferNeedsRefill
	EvalError
)

func (s EvalStatus) String() string {
	switch s {
	case EvalNormal:
		return "normal"
	case EvalBufferNeedsRefill:
		return "buffer-needs-refill"
	case EvalError:
		return "error"
	default:
		return fmt.Sprintf("EvalStatus(%d)", int(s))
	}
}

func (m PlayMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *PlayMode) UnmarshalText(b []byte) error {
	v, err := ParsePlayMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m CacheMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *CacheMode) UnmarshalText(b []byte) error {
	v, err := ParseCacheMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
