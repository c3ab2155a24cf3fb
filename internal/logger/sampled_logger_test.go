package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedLogger() (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.JSONFormatter{})
	return NewLogrusAdapter(logrus.NewEntry(l)), &buf
}

func countLines(buf *bytes.Buffer) int {
	return len(strings.Split(strings.TrimSpace(buf.String()), "\n"))
}

func TestSampledLogger_UnconfiguredCategoryAlwaysLogs(t *testing.T) {
	base, buf := bufferedLogger()
	sampled := NewSampledLogger(base)

	for i := 0; i < 10; i++ {
		sampled.InfoWithCategory("unknown", "message", nil)
	}

	assert.Equal(t, 10, countLines(buf))
}

func TestSampledLogger_BurstThenDrop(t *testing.T) {
	base, buf := bufferedLogger()
	// effectively no refill during the test
	sampled := NewSampledLogger(base).WithSampler("skip", 0.001, 3)

	for i := 0; i < 20; i++ {
		sampled.WarnWithCategory("skip", "Frames skipped", map[string]interface{}{"n": i})
	}

	assert.Equal(t, 3, countLines(buf))

	stats := sampled.GetSamplerStats()["skip"]
	assert.Equal(t, int64(20), stats.TotalMessages)
	assert.Equal(t, int64(3), stats.SampledMessages)
	assert.Equal(t, int64(17), stats.DroppedMessages)
	assert.InDelta(t, 0.15, stats.CurrentRate, 1e-9)
}

func TestSampledLogger_ErrorsBypassSampling(t *testing.T) {
	base, buf := bufferedLogger()
	sampled := NewSampledLogger(base).WithSampler("eval", 0.001, 1)

	for i := 0; i < 5; i++ {
		sampled.ErrorWithCategory("eval", "Evaluation failed", nil)
	}

	assert.Equal(t, 5, countLines(buf))
}

func TestSampledLogger_CategoryField(t *testing.T) {
	base, buf := bufferedLogger()
	sampled := NewPlaybackLogger(base)

	sampled.DebugWithCategory(CategoryDrift, "Audio clock snapped", map[string]interface{}{"delta": 0.05})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, CategoryDrift, entry["category"])
	assert.Equal(t, 0.05, entry["delta"])
}

func TestSampledLogger_DerivedLoggersShareSamplers(t *testing.T) {
	base, buf := bufferedLogger()
	sampled := NewSampledLogger(base).WithSampler("vsync", 0.001, 2)

	derived := sampled.WithField("session_id", "abc").(*SampledLogger)
	derived.InfoWithCategory("vsync", "one", nil)
	sampled.InfoWithCategory("vsync", "two", nil)
	derived.InfoWithCategory("vsync", "three", nil)

	assert.Equal(t, 2, countLines(buf))
	assert.Equal(t, int64(3), sampled.GetSamplerStats()["vsync"].TotalMessages)
}

func TestNewPlaybackLogger(t *testing.T) {
	sampled := NewPlaybackLogger(NewNullLogger())

	for _, category := range []string{
		CategoryFrameSkip,
		CategoryTurnAround,
		CategoryBufferWait,
		CategoryDrift,
		CategoryVSync,
		CategoryEvaluation,
		CategoryCacheStats,
	} {
		_, exists := sampled.samplers[category]
		assert.True(t, exists, "category %s should be sampled", category)
	}

	_, exists := sampled.samplers[CategoryStateChange]
	assert.False(t, exists)
}

func TestSampledLogger_ForwardsLeveledMethods(t *testing.T) {
	base, buf := bufferedLogger()
	var log Logger = NewPlaybackLogger(base)

	log.WithField("frame", 7).Debug("debug")
	log.WithError(assert.AnError).Warn("warn")
	log.WithFields(map[string]interface{}{"inc": 1}).Log(logrus.ErrorLevel, "error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, float64(7), entry["frame"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, assert.AnError.Error(), entry[logrus.ErrorKey])

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &entry))
	assert.Equal(t, "error", entry["level"])
}
