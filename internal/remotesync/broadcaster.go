// Package remotesync broadcasts the playback position to remote review peers.
// Every frame change goes out as an RTP packet whose timestamp is the media
// position on a 90 kHz clock; RTCP sender reports tie that clock to wall time
// so peers can follow along with their own scheduler.
package remotesync

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/events"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/playback/scheduler"
	"github.com/zsiec/cadence/internal/playback/types"
)

const (
	component = "remote_sync"

	// ClockRate is the RTP media clock.
	ClockRate = 90000

	// PayloadSize is the fixed length of a position payload.
	PayloadSize = 16

	defaultPayloadType = 96
	defaultInterval    = time.Second

	// seconds between 1900 and 1970
	ntpEpochOffset = 2208988800
)

// Payload flag bits.
const (
	FlagPlaying uint8 = 1 << iota
	FlagBuffering
	FlagRealtime
)

var syncedEvents = []string{
	types.EventFrameChanged,
	types.EventPlayStart,
	types.EventPlayStop,
	types.EventRangeChanged,
	types.EventPlayIncChanged,
	types.EventFPSChanged,
}

// Position is what a peer needs to mirror playback.
type Position struct {
	Frame    int32
	Inc      int16
	Flags    uint8
	PlayMode types.PlayMode
	FPS      float32
	RangeLo  int32
}

// Marshal encodes p into the fixed payload layout.
func (p Position) Marshal() []byte {
	b := make([]byte, PayloadSize)
	binary.BigEndian.PutUint32(b[0:4], uint32(p.Frame))
	binary.BigEndian.PutUint16(b[4:6], uint16(p.Inc))
	b[6] = p.Flags
	b[7] = uint8(p.PlayMode)
	binary.BigEndian.PutUint32(b[8:12], math.Float32bits(p.FPS))
	binary.BigEndian.PutUint32(b[12:16], uint32(p.RangeLo))
	return b
}

// UnmarshalPosition decodes a payload produced by Marshal.
func UnmarshalPosition(b []byte) (Position, error) {
	if len(b) < PayloadSize {
		return Position{}, fmt.Errorf("position payload too short: %d bytes", len(b))
	}
	return Position{
		Frame:    int32(binary.BigEndian.Uint32(b[0:4])),
		Inc:      int16(binary.BigEndian.Uint16(b[4:6])),
		Flags:    b[6],
		PlayMode: types.PlayMode(b[7]),
		FPS:      math.Float32frombits(binary.BigEndian.Uint32(b[8:12])),
		RangeLo:  int32(binary.BigEndian.Uint32(b[12:16])),
	}, nil
}

// PositionFromState builds the payload for a scheduler state.
func PositionFromState(st scheduler.State) Position {
	var flags uint8
	if st.Running {
		flags |= FlagPlaying
	}
	if st.BufferWait {
		flags |= FlagBuffering
	}
	if st.Realtime {
		flags |= FlagRealtime
	}
	return Position{
		Frame:    int32(st.Frame),
		Inc:      int16(st.Inc),
		Flags:    flags,
		PlayMode: st.PlayMode,
		FPS:      float32(st.FPS),
		RangeLo:  int32(st.RangeStart),
	}
}

// MediaTimestamp maps a frame to the 90 kHz clock, relative to the range start.
func MediaTimestamp(frame, rangeStart int, fps float64) uint32 {
	if fps <= 0 {
		return 0
	}
	return uint32(int64(math.Round(float64(frame-rangeStart) / fps * ClockRate)))
}

// NTPTime converts wall time to the 64-bit NTP format used in sender reports.
func NTPTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}

// StateSource returns the playback state as of the event being handled.
type StateSource func(ctx context.Context) (scheduler.State, error)

const stateTimeout = 250 * time.Millisecond

// Stats counts packets sent.
type Stats struct {
	RTPPackets  uint64 `json:"rtp_packets"`
	RTCPPackets uint64 `json:"rtcp_packets"`
	Octets      uint64 `json:"octets"`
	Errors      uint64 `json:"errors"`
}

// Broadcaster publishes positions for one session.
type Broadcaster struct {
	ssrc        uint32
	payloadType uint8
	interval    time.Duration
	state       StateSource
	bus         *events.Bus
	logger      logger.Logger

	rtpConn  net.Conn
	rtcpConn net.Conn

	mu        sync.Mutex
	seq       uint16
	lastTS    uint32
	packets   uint32
	octets    uint32
	closeOnce sync.Once

	rtpSent  atomic.Uint64
	rtcpSent atomic.Uint64
	octetsTx atomic.Uint64
	errors   atomic.Uint64

	sub    *events.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New dials cfg.Destination for RTP and the next port for RTCP.
func New(cfg config.RemoteSyncConfig, bus *events.Bus, state StateSource, log logger.Logger) (*Broadcaster, error) {
	host, portStr, err := net.SplitHostPort(cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("invalid remote sync destination: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid remote sync port: %w", err)
	}

	rtpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve RTP address: %w", err)
	}
	rtcpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port+1)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve RTCP address: %w", err)
	}

	rtpConn, err := net.DialUDP("udp", nil, rtpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RTP destination: %w", err)
	}
	rtcpConn, err := net.DialUDP("udp", nil, rtcpAddr)
	if err != nil {
		rtpConn.Close()
		return nil, fmt.Errorf("failed to dial RTCP destination: %w", err)
	}

	ssrc := cfg.SSRC
	if ssrc == 0 {
		ssrc = uuid.New().ID()
	}
	pt := cfg.PayloadType
	if pt == 0 {
		pt = defaultPayloadType
	}
	interval := cfg.ReportInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = logger.NewNullLogger()
	}

	b := &Broadcaster{
		ssrc:        ssrc,
		payloadType: pt,
		interval:    interval,
		state:       state,
		bus:         bus,
		logger: log.WithFields(map[string]interface{}{
			"component":   component,
			"destination": rtpAddr.String(),
			"ssrc":        ssrc,
		}),
		rtpConn:  rtpConn,
		rtcpConn: rtcpConn,
	}
	return b, nil
}

// SSRC identifies this broadcaster's stream.
func (b *Broadcaster) SSRC() uint32 {
	return b.ssrc
}

// Start subscribes to playback events and begins sending.
func (b *Broadcaster) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.sub = b.bus.Subscribe(component, events.WithNames(syncedEvents...), events.Unthrottled())

	b.wg.Add(1)
	go b.run(ctx)

	b.logger.WithField("report_interval", b.interval.String()).Info("Remote sync started")
}

// Stop sends an RTCP goodbye and closes the sockets.
func (b *Broadcaster) Stop() {
	b.closeOnce.Do(func() {
		if b.sub != nil {
			b.bus.Unsubscribe(b.sub)
		}
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()

		b.sendRTCP(&rtcp.Goodbye{Sources: []uint32{b.ssrc}, Reason: "playback closed"})
		b.rtpConn.Close()
		b.rtcpConn.Close()
		b.logger.Info("Remote sync stopped")
	})
}

func (b *Broadcaster) Stats() Stats {
	return Stats{
		RTPPackets:  b.rtpSent.Load(),
		RTCPPackets: b.rtcpSent.Load(),
		Octets:      b.octetsTx.Load(),
		Errors:      b.errors.Load(),
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	metrics.IncrementGoroutineCreated(component)
	defer func() {
		metrics.IncrementGoroutineDestroyed(component)
		b.wg.Done()
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.IncrementContextCancellation(component, "stop")
			return
		case ev, ok := <-b.sub.C:
			if !ok {
				return
			}
			stateCtx, cancel := context.WithTimeout(ctx, stateTimeout)
			st, err := b.state(stateCtx)
			cancel()
			if err != nil {
				b.logger.WithError(err).WithField("event", ev.Name).Debug("Skipping position, state unavailable")
				continue
			}
			// Anything but a plain frame step is a discontinuity.
			b.SendPosition(st, ev.Name != types.EventFrameChanged)
		case <-ticker.C:
			b.SendReport(time.Now())
		}
	}
}

// SendPosition sends one RTP packet for st. marker flags a discontinuity such
// as a seek or a play state change.
func (b *Broadcaster) SendPosition(st scheduler.State, marker bool) {
	payload := PositionFromState(st).Marshal()
	ts := MediaTimestamp(st.Frame, st.RangeStart, st.FPS)

	b.mu.Lock()
	b.seq++
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    b.payloadType,
			SequenceNumber: b.seq,
			Timestamp:      ts,
			SSRC:           b.ssrc,
		},
		Payload: payload,
	}
	b.lastTS = ts
	b.packets++
	b.octets += uint32(len(payload))
	b.mu.Unlock()

	raw, err := pkt.Marshal()
	if err != nil {
		b.recordError("rtp", err)
		return
	}
	if _, err := b.rtpConn.Write(raw); err != nil {
		b.recordError("rtp", err)
		return
	}
	b.rtpSent.Add(1)
	b.octetsTx.Add(uint64(len(payload)))
	metrics.IncrementRemoteSyncPackets("rtp")
}

// SendReport sends an RTCP sender report stamped with now.
func (b *Broadcaster) SendReport(now time.Time) {
	b.mu.Lock()
	sr := &rtcp.SenderReport{
		SSRC:        b.ssrc,
		NTPTime:     NTPTime(now),
		RTPTime:     b.lastTS,
		PacketCount: b.packets,
		OctetCount:  b.octets,
	}
	b.mu.Unlock()
	b.sendRTCP(sr)
}

func (b *Broadcaster) sendRTCP(pkt rtcp.Packet) {
	raw, err := pkt.Marshal()
	if err != nil {
		b.recordError("rtcp", err)
		return
	}
	if _, err := b.rtcpConn.Write(raw); err != nil {
		b.recordError("rtcp", err)
		return
	}
	b.rtcpSent.Add(1)
	metrics.IncrementRemoteSyncPackets("rtcp")
}

func (b *Broadcaster) recordError(packetType string, err error) {
	b.errors.Add(1)
	metrics.IncrementRemoteSyncErrors(packetType)
	b.logger.WithError(err).WithField("type", packetType).Debug("Remote sync send failed")
}
