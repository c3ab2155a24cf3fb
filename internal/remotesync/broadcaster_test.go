package remotesync

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/events"
	"github.com/zsiec/cadence/internal/playback/scheduler"
	"github.com/zsiec/cadence/internal/playback/types"
)

// listenPair binds adjacent UDP ports on loopback for RTP and RTCP.
func listenPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		port := rtpConn.LocalAddr().(*net.UDPAddr).Port
		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port + 1})
		if err != nil {
			rtpConn.Close()
			continue
		}
		t.Cleanup(func() {
			rtpConn.Close()
			rtcpConn.Close()
		})
		return rtpConn, rtcpConn
	}
	t.Fatal("could not bind adjacent UDP ports")
	return nil, nil
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return buf[:n]
}

func playingState(frame int) scheduler.State {
	return scheduler.State{
		SessionID:  "sync",
		Frame:      frame,
		Inc:        -1,
		PlayMode:   types.PlayPingPong,
		Running:    true,
		Realtime:   true,
		RangeStart: 1,
		RangeEnd:   100,
		FPS:        24,
	}
}

func TestPosition_RoundTrip(t *testing.T) {
	p := PositionFromState(playingState(57))
	assert.Equal(t, FlagPlaying|FlagRealtime, p.Flags)

	got, err := UnmarshalPosition(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, int16(-1), got.Inc)

	_, err = UnmarshalPosition([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestMediaTimestamp(t *testing.T) {
	assert.Equal(t, uint32(0), MediaTimestamp(1, 1, 24))
	assert.Equal(t, uint32(90000), MediaTimestamp(25, 1, 24))
	assert.Equal(t, uint32(3750), MediaTimestamp(2, 1, 24))
	assert.Equal(t, uint32(0), MediaTimestamp(10, 1, 0))
}

func TestNTPTime(t *testing.T) {
	ts := time.Unix(0, int64(500*time.Millisecond))
	ntp := NTPTime(ts)
	assert.Equal(t, uint64(ntpEpochOffset), ntp>>32)
	assert.Equal(t, uint64(1)<<31, ntp&0xffffffff)
}

func TestNew_InvalidDestination(t *testing.T) {
	bus := events.NewBus(config.EventsConfig{}, nil)
	_, err := New(config.RemoteSyncConfig{Destination: "nowhere"}, bus, nil, nil)
	assert.Error(t, err)

	_, err = New(config.RemoteSyncConfig{Destination: "127.0.0.1:abc"}, bus, nil, nil)
	assert.Error(t, err)
}

func TestBroadcaster_SendsPositionsAndReports(t *testing.T) {
	rtpConn, rtcpConn := listenPair(t)
	port := rtpConn.LocalAddr().(*net.UDPAddr).Port

	bus := events.NewBus(config.EventsConfig{FrameEventRate: 1, FrameEventBurst: 1}, nil)
	defer bus.Close()

	frame := 13
	b, err := New(config.RemoteSyncConfig{
		Destination:    net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		PayloadType:    100,
		SSRC:           0xCAFE,
		ReportInterval: time.Hour,
	}, bus, func(context.Context) (scheduler.State, error) { return playingState(frame), nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFE), b.SSRC())

	b.Start(context.Background())
	bus.Notify(types.Event{Name: types.EventPlayStart})

	var pkt rtp.Packet
	require.NoError(t, pkt.Unmarshal(readPacket(t, rtpConn)))
	assert.True(t, pkt.Marker, "play-start is a discontinuity")
	assert.Equal(t, uint8(100), pkt.PayloadType)
	assert.Equal(t, uint32(0xCAFE), pkt.SSRC)
	assert.Equal(t, MediaTimestamp(13, 1, 24), pkt.Timestamp)

	pos, err := UnmarshalPosition(pkt.Payload)
	require.NoError(t, err)
	assert.Equal(t, int32(13), pos.Frame)

	// The broadcaster is unthrottled even though the bus limits frame events.
	bus.Notify(types.Event{Name: types.EventFrameChanged})
	bus.Notify(types.Event{Name: types.EventFrameChanged})
	for i := 0; i < 2; i++ {
		var next rtp.Packet
		require.NoError(t, next.Unmarshal(readPacket(t, rtpConn)))
		assert.False(t, next.Marker)
		assert.Equal(t, pkt.SequenceNumber+uint16(i+1), next.SequenceNumber)
	}

	now := time.Now()
	b.SendReport(now)
	pkts, err := rtcp.Unmarshal(readPacket(t, rtcpConn))
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	sr, ok := pkts[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(0xCAFE), sr.SSRC)
	assert.Equal(t, NTPTime(now), sr.NTPTime)
	assert.Equal(t, uint32(3), sr.PacketCount)
	assert.Equal(t, uint32(3*PayloadSize), sr.OctetCount)
	assert.Equal(t, MediaTimestamp(13, 1, 24), sr.RTPTime)

	b.Stop()
	b.Stop()

	pkts, err = rtcp.Unmarshal(readPacket(t, rtcpConn))
	require.NoError(t, err)
	bye, ok := pkts[0].(*rtcp.Goodbye)
	require.True(t, ok)
	assert.Equal(t, []uint32{0xCAFE}, bye.Sources)

	st := b.Stats()
	assert.Equal(t, uint64(3), st.RTPPackets)
	assert.Equal(t, uint64(2), st.RTCPPackets)
	assert.Zero(t, st.Errors)
}
