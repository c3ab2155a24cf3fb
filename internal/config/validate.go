package config

import (
	"fmt"
	"os"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation config: %w", err)
	}

	if err := c.RemoteSync.Validate(); err != nil {
		return fmt.Errorf("remote_sync config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if !s.EnableHTTP3 {
		return nil
	}

	if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
		return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
	}

	if s.TLSCertFile == "" {
		return fmt.Errorf("TLS certificate file is required")
	}

	if s.TLSKeyFile == "" {
		return fmt.Errorf("TLS key file is required")
	}

	if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
	}

	if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
	}

	if s.MaxIncomingStreams <= 0 {
		return fmt.Errorf("max_incoming_streams must be positive")
	}

	if s.MaxIncomingUniStreams <= 0 {
		return fmt.Errorf("max_incoming_uni_streams must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	if r.SessionTTL < 0 {
		return fmt.Errorf("session_ttl cannot be negative")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (p *PlaybackConfig) Validate() error {
	switch p.TimingModel {
	case "refresh", "direct":
	default:
		return fmt.Errorf("timing_model must be 'refresh' or 'direct', got %q", p.TimingModel)
	}

	if p.FPS <= 0 {
		return fmt.Errorf("fps must be positive")
	}

	if p.DeviceHz < 0 || p.ForceHz < 0 {
		return fmt.Errorf("refresh rates cannot be negative")
	}

	if p.TimingModel == "refresh" && p.DeviceHz <= 0 && p.ForceHz <= 0 {
		return fmt.Errorf("refresh timing model requires device_hz or force_hz")
	}

	switch p.InitialPlayMode {
	case "loop", "pingpong", "once":
	default:
		return fmt.Errorf("invalid initial_play_mode: %s", p.InitialPlayMode)
	}

	switch p.InitialCacheMode {
	case "off", "buffer", "region":
	default:
		return fmt.Errorf("invalid initial_cache_mode: %s", p.InitialCacheMode)
	}

	if p.MaxBufferedWait < 0 {
		return fmt.Errorf("max_buffered_wait cannot be negative")
	}

	if p.FastStartWait < 0 {
		return fmt.Errorf("fast_start_wait cannot be negative")
	}

	if p.BufferWaitTimeout < 0 || p.StopSettleTime < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if p.CacheLookBehindFraction < 0 || p.CacheLookBehindFraction > 1 {
		return fmt.Errorf("cache_look_behind_fraction must be within [0, 1]")
	}

	if p.MaxGreedyCacheSize < 0 || p.MaxBufferCacheSize < 0 {
		return fmt.Errorf("cache sizes cannot be negative")
	}

	if p.DriftToleranceFrames <= 0 {
		return fmt.Errorf("drift_tolerance_frames must be positive")
	}

	if p.AudioSensitivity <= 0 || p.AudioSensitivity > 1 {
		return fmt.Errorf("audio_sensitivity must be within (0, 1]")
	}

	if p.FPSSamples <= 0 || p.SyncMaxSamples <= 0 {
		return fmt.Errorf("sample ring sizes must be positive")
	}

	if p.SyncMinHz <= 0 || p.SyncMaxHz <= p.SyncMinHz {
		return fmt.Errorf("sync hz bounds invalid: [%v, %v]", p.SyncMinHz, p.SyncMaxHz)
	}

	if p.RatioPrecision <= 0 {
		return fmt.Errorf("ratio_precision must be positive")
	}

	if p.Slop < 1 {
		return fmt.Errorf("slop must be >= 1")
	}

	return nil
}

func (s *SimulationConfig) Validate() error {
	if s.RangeEnd <= s.RangeStart {
		return fmt.Errorf("range_end (%d) must be greater than range_start (%d)", s.RangeEnd, s.RangeStart)
	}

	if s.DecodeRate <= 0 {
		return fmt.Errorf("decode_rate must be positive")
	}

	if s.DecodeBurst <= 0 {
		return fmt.Errorf("decode_burst must be positive")
	}

	if s.FrameBytes <= 0 {
		return fmt.Errorf("frame_bytes must be positive")
	}

	if s.AudioEnabled {
		if s.AudioRate <= 0 {
			return fmt.Errorf("audio_rate must be positive")
		}
		if s.AudioChannels <= 0 {
			return fmt.Errorf("audio_channels must be positive")
		}
		if s.FramesPerBuffer <= 0 {
			return fmt.Errorf("frames_per_buffer must be positive")
		}
	}

	if s.DisplayHz <= 0 {
		return fmt.Errorf("display_hz must be positive")
	}

	return nil
}

func (r *RemoteSyncConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Destination == "" {
		return fmt.Errorf("destination is required")
	}

	if r.PayloadType < 96 || r.PayloadType > 127 {
		return fmt.Errorf("payload_type must be dynamic (96-127), got %d", r.PayloadType)
	}

	if r.ReportInterval <= 0 {
		return fmt.Errorf("report_interval must be positive")
	}

	return nil
}

func (e *EventsConfig) Validate() error {
	if e.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be positive")
	}

	if e.FrameEventRate <= 0 {
		return fmt.Errorf("frame_event_rate must be positive")
	}

	if e.FrameEventBurst <= 0 {
		return fmt.Errorf("frame_event_burst must be positive")
	}

	if e.PersistQueue <= 0 {
		return fmt.Errorf("persist_queue must be positive")
	}

	return nil
}
