package types

import "time"

// Notification names. Delivery is fire-and-forget.
const (
	EventPlayStart            = "play-start"
	EventPlayStop             = "play-stop"
	EventBeforePlayStart      = "before-play-start"
	EventFrameChanged         = "frame-changed"
	EventRangeChanged         = "range-changed"
	EventNarrowedRangeChanged = "narrowed-range-changed"
	EventNewInPoint           = "new-in-point"
	EventNewOutPoint          = "new-out-point"
	EventCacheModeChanged     = "cache-mode-changed"
	EventPlayModeChanged      = "play-mode-changed"
	EventPlayIncChanged       = "play-inc"
	EventFPSChanged           = "fps-changed"
	EventRealtimeChanged      = "realtime-changed"
	EventAudioUnavailable     = "audio-unavailable"
	EventBufferingStarted     = "buffering-started"
	EventBufferingFinished    = "buffering-finished"
)

// Event is a notification emitted by the scheduler.
type Event struct {
	Name      string    `json:"name"`
	Contents  string    `json:"contents,omitempty"`
	SessionID string    `json:"session_id"`
	Frame     int       `json:"frame"`
	Time      time.Time `json:"time"`
}

// Notifier receives scheduler notifications. Implementations must not block.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// DiscardNotifier drops every notification.
var DiscardNotifier Notifier = NotifierFunc(func(Event) {})
