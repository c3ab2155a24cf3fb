package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SampledLogger throttles high-frequency log categories. The playback loop
// runs at display rate, so per-tick events (skipped frames, drift snaps,
// buffer waits) would otherwise flood the output.
type SampledLogger struct {
	base     Logger
	samplers map[string]*LogSampler
	mu       *sync.RWMutex
}

// LogSampler limits a single category with a token bucket.
type LogSampler struct {
	name    string
	limiter *rate.Limiter

	total   int64 // atomic
	logged  int64 // atomic
	dropped int64 // atomic
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Name            string  `json:"name"`
	TotalMessages   int64   `json:"total_messages"`
	SampledMessages int64   `json:"sampled_messages"`
	DroppedMessages int64   `json:"dropped_messages"`
	CurrentRate     float64 `json:"current_rate"`
}

// Playback log categories
const (
	CategoryFrameSkip   = "frame_skip"
	CategoryTurnAround  = "turn_around"
	CategoryBufferWait  = "buffer_wait"
	CategoryDrift       = "drift"
	CategoryVSync       = "vsync"
	CategoryEvaluation  = "evaluation"
	CategoryCacheStats  = "cache_stats"
	CategoryStateChange = "state_change"
)

// NewSampledLogger creates a new sampled logger
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     base,
		samplers: make(map[string]*LogSampler),
		mu:       &sync.RWMutex{},
	}
}

// WithSampler allows at most perSecond messages for category, with an
// initial burst.
func (s *SampledLogger) WithSampler(category string, perSecond float64, burst int) *SampledLogger {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samplers[category] = &LogSampler{
		name:    category,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
	return s
}

// NewPlaybackLogger creates a sampled logger configured for the scheduler.
func NewPlaybackLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryFrameSkip, 2, 5).
		WithSampler(CategoryTurnAround, 5, 5).
		WithSampler(CategoryBufferWait, 2, 3).
		WithSampler(CategoryDrift, 1, 2).
		WithSampler(CategoryVSync, 0.5, 1).
		WithSampler(CategoryEvaluation, 2, 3).
		WithSampler(CategoryCacheStats, 1, 1)
	// CategoryStateChange is not sampled
}

func (s *SampledLogger) shouldLog(category string) bool {
	s.mu.RLock()
	sampler, exists := s.samplers[category]
	s.mu.RUnlock()

	if !exists {
		return true
	}

	atomic.AddInt64(&sampler.total, 1)
	if sampler.limiter.AllowN(time.Now(), 1) {
		atomic.AddInt64(&sampler.logged, 1)
		return true
	}
	atomic.AddInt64(&sampler.dropped, 1)
	return false
}

// LogCategory logs msg at level if the category sampler admits it.
func (s *SampledLogger) LogCategory(level logrus.Level, category, msg string, fields map[string]interface{}) {
	if !s.shouldLog(category) {
		return
	}

	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["category"] = category

	s.mu.RLock()
	sampler, exists := s.samplers[category]
	s.mu.RUnlock()
	if exists {
		if dropped := atomic.LoadInt64(&sampler.dropped); dropped > 0 {
			fields["_sampling_dropped"] = dropped
		}
	}

	s.base.WithFields(fields).Log(level, msg)
}

// DebugWithCategory logs a debug message with sampling
func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogCategory(logrus.DebugLevel, category, msg, fields)
}

// InfoWithCategory logs an info message with sampling
func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogCategory(logrus.InfoLevel, category, msg, fields)
}

// WarnWithCategory logs a warning message with sampling
func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogCategory(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory always logs.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["category"] = category
	s.base.WithFields(fields).Error(msg)
}

// GetSamplerStats returns statistics for all samplers
func (s *SampledLogger) GetSamplerStats() map[string]SamplerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers))
	for name, sampler := range s.samplers {
		total := atomic.LoadInt64(&sampler.total)
		logged := atomic.LoadInt64(&sampler.logged)
		st := SamplerStats{
			Name:            name,
			TotalMessages:   total,
			SampledMessages: logged,
			DroppedMessages: atomic.LoadInt64(&sampler.dropped),
		}
		if total > 0 {
			st.CurrentRate = float64(logged) / float64(total)
		}
		stats[name] = st
	}
	return stats
}

// Logger interface; derived loggers share the samplers.

var _ Logger = (*SampledLogger)(nil)

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return &SampledLogger{base: s.base.WithFields(fields), samplers: s.samplers, mu: s.mu}
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return &SampledLogger{base: s.base.WithField(key, value), samplers: s.samplers, mu: s.mu}
}

func (s *SampledLogger) WithError(err error) Logger {
	return &SampledLogger{base: s.base.WithError(err), samplers: s.samplers, mu: s.mu}
}

func (s *SampledLogger) Debug(args ...interface{}) { s.base.Debug(args...) }
func (s *SampledLogger) Info(args ...interface{})  { s.base.Info(args...) }
func (s *SampledLogger) Warn(args ...interface{})  { s.base.Warn(args...) }
func (s *SampledLogger) Error(args ...interface{}) { s.base.Error(args...) }

func (s *SampledLogger) Log(level logrus.Level, args ...interface{}) {
	s.base.Log(level, args...)
}
