package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Playback   PlaybackConfig   `mapstructure:"playback"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	RemoteSync RemoteSyncConfig `mapstructure:"remote_sync"`
	Events     EventsConfig     `mapstructure:"events"`
}

type ServerConfig struct {
	// HTTP/1.1 control API
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HTTP/3 listener, enabled when both TLS files are set
	EnableHTTP3 bool   `mapstructure:"enable_http3"`
	HTTP3Port   int    `mapstructure:"http3_port"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	// QUIC specific
	MaxIncomingStreams    int64         `mapstructure:"max_incoming_streams"`
	MaxIncomingUniStreams int64         `mapstructure:"max_incoming_uni_streams"`
	MaxIdleTimeout        time.Duration `mapstructure:"max_idle_timeout"`

	// Mutating API requests per second, zero disables the limit
	CommandRate  float64 `mapstructure:"command_rate"`
	CommandBurst int     `mapstructure:"command_burst"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// PlaybackConfig holds every scheduler tunable. It is passed to the scheduler
// at construction; nothing in the playback packages reads process globals.
type PlaybackConfig struct {
	TimingModel string  `mapstructure:"timing_model"` // "refresh" or "direct"
	FPS         float64 `mapstructure:"fps"`
	DeviceHz    float64 `mapstructure:"device_hz"`
	ForceHz     float64 `mapstructure:"force_hz"` // overrides device and sampled rates when > 0

	InitialPlayMode  string `mapstructure:"initial_play_mode"`  // loop, pingpong, once
	InitialCacheMode string `mapstructure:"initial_cache_mode"` // off, buffer, region
	Realtime         bool   `mapstructure:"realtime"`

	MaxBufferedWait   float64       `mapstructure:"max_buffered_wait"` // seconds of look-ahead before resuming
	FastStartWait     float64       `mapstructure:"fast_start_wait"`
	BufferWaitTimeout time.Duration `mapstructure:"buffer_wait_timeout"`
	StopSettleTime    time.Duration `mapstructure:"stop_settle_time"`

	CacheLookBehindFraction float64 `mapstructure:"cache_look_behind_fraction"`
	MaxGreedyCacheSize      int64   `mapstructure:"max_greedy_cache_size"`
	MaxBufferCacheSize      int64   `mapstructure:"max_buffer_cache_size"`

	DriftToleranceFrames float64 `mapstructure:"drift_tolerance_frames"`
	AudioSensitivity     float64 `mapstructure:"audio_sensitivity"`

	PreEval        bool `mapstructure:"pre_eval"`
	ThreadedUpload bool `mapstructure:"threaded_upload"`
	ExternalVSync  bool `mapstructure:"external_vsync"`
	UseDeviceClock bool `mapstructure:"use_device_clock"`

	FPSSamples     int     `mapstructure:"fps_samples"`
	SyncMaxSamples int     `mapstructure:"sync_max_samples"`
	SyncMinHz      float64 `mapstructure:"sync_min_hz"`
	SyncMaxHz      float64 `mapstructure:"sync_max_hz"`

	// Refresh-quantized timing constants
	RatioPrecision float64 `mapstructure:"ratio_precision"`
	Slop           float64 `mapstructure:"slop"`
}

// SimulationConfig describes the headless collaborators used when no real
// graph, audio or display backend is attached.
type SimulationConfig struct {
	RangeStart      int           `mapstructure:"range_start"`
	RangeEnd        int           `mapstructure:"range_end"`
	DecodeRate      float64       `mapstructure:"decode_rate"` // frames per second the fill goroutine can produce
	DecodeBurst     int           `mapstructure:"decode_burst"`
	FrameBytes      int64         `mapstructure:"frame_bytes"`
	AudioEnabled    bool          `mapstructure:"audio_enabled"`
	AudioRate       float64       `mapstructure:"audio_rate"`
	AudioChannels   int           `mapstructure:"audio_channels"`
	FramesPerBuffer int           `mapstructure:"frames_per_buffer"`
	AudioLatency    time.Duration `mapstructure:"audio_latency"`
	DisplayHz       float64       `mapstructure:"display_hz"`
}

type RemoteSyncConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Destination    string        `mapstructure:"destination"` // host:port for RTP, RTCP goes to port+1
	PayloadType    uint8         `mapstructure:"payload_type"`
	SSRC           uint32        `mapstructure:"ssrc"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

type EventsConfig struct {
	SubscriberBuffer int     `mapstructure:"subscriber_buffer"`
	FrameEventRate   float64 `mapstructure:"frame_event_rate"` // frame-changed events per second per subscriber
	FrameEventBurst  int     `mapstructure:"frame_event_burst"`
	PersistQueue     int     `mapstructure:"persist_queue"`
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("CADENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultPlaybackConfig returns the scheduler defaults without going through
// viper, for embedding the scheduler in tests and tools.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		TimingModel:             "direct",
		FPS:                     24,
		DeviceHz:                60,
		InitialPlayMode:         "loop",
		InitialCacheMode:        "off",
		MaxBufferedWait:         1.0,
		FastStartWait:           0.5,
		BufferWaitTimeout:       10 * time.Second,
		StopSettleTime:          2 * time.Second,
		CacheLookBehindFraction: 0,
		MaxGreedyCacheSize:      9126805504, // 8.5 GiB
		MaxBufferCacheSize:      536870912,  // 0.5 GiB
		DriftToleranceFrames:    1.0,
		AudioSensitivity:        0.1,
		FPSSamples:              72,
		SyncMaxSamples:          10,
		SyncMinHz:               20,
		SyncMaxHz:               120,
		RatioPrecision:          10,
		Slop:                    1.00001,
	}
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.enable_http3", false)
	v.SetDefault("server.http3_port", 8443)
	v.SetDefault("server.max_incoming_streams", 100)
	v.SetDefault("server.max_incoming_uni_streams", 50)
	v.SetDefault("server.max_idle_timeout", "30s")
	v.SetDefault("server.command_rate", 50.0)
	v.SetDefault("server.command_burst", 20)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.session_ttl", "24h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Playback defaults
	p := DefaultPlaybackConfig()
	v.SetDefault("playback.timing_model", p.TimingModel)
	v.SetDefault("playback.fps", p.FPS)
	v.SetDefault("playback.device_hz", p.DeviceHz)
	v.SetDefault("playback.force_hz", 0)
	v.SetDefault("playback.initial_play_mode", p.InitialPlayMode)
	v.SetDefault("playback.initial_cache_mode", p.InitialCacheMode)
	v.SetDefault("playback.realtime", false)
	v.SetDefault("playback.max_buffered_wait", p.MaxBufferedWait)
	v.SetDefault("playback.fast_start_wait", p.FastStartWait)
	v.SetDefault("playback.buffer_wait_timeout", "10s")
	v.SetDefault("playback.stop_settle_time", "2s")
	v.SetDefault("playback.cache_look_behind_fraction", p.CacheLookBehindFraction)
	v.SetDefault("playback.max_greedy_cache_size", p.MaxGreedyCacheSize)
	v.SetDefault("playback.max_buffer_cache_size", p.MaxBufferCacheSize)
	v.SetDefault("playback.drift_tolerance_frames", p.DriftToleranceFrames)
	v.SetDefault("playback.audio_sensitivity", p.AudioSensitivity)
	v.SetDefault("playback.pre_eval", false)
	v.SetDefault("playback.threaded_upload", false)
	v.SetDefault("playback.external_vsync", false)
	v.SetDefault("playback.use_device_clock", false)
	v.SetDefault("playback.fps_samples", p.FPSSamples)
	v.SetDefault("playback.sync_max_samples", p.SyncMaxSamples)
	v.SetDefault("playback.sync_min_hz", p.SyncMinHz)
	v.SetDefault("playback.sync_max_hz", p.SyncMaxHz)
	v.SetDefault("playback.ratio_precision", p.RatioPrecision)
	v.SetDefault("playback.slop", p.Slop)

	// Simulation defaults
	v.SetDefault("simulation.range_start", 1)
	v.SetDefault("simulation.range_end", 241)
	v.SetDefault("simulation.decode_rate", 48)
	v.SetDefault("simulation.decode_burst", 4)
	v.SetDefault("simulation.frame_bytes", 12441600) // 1920x1080 RGBA float16
	v.SetDefault("simulation.audio_enabled", true)
	v.SetDefault("simulation.audio_rate", 48000)
	v.SetDefault("simulation.audio_channels", 2)
	v.SetDefault("simulation.frames_per_buffer", 1024)
	v.SetDefault("simulation.audio_latency", "20ms")
	v.SetDefault("simulation.display_hz", 60)

	// Remote sync defaults
	v.SetDefault("remote_sync.enabled", false)
	v.SetDefault("remote_sync.destination", "127.0.0.1:5004")
	v.SetDefault("remote_sync.payload_type", 96)
	v.SetDefault("remote_sync.ssrc", 0)
	v.SetDefault("remote_sync.report_interval", "1s")

	// Event bus defaults
	v.SetDefault("events.subscriber_buffer", 256)
	v.SetDefault("events.frame_event_rate", 30)
	v.SetDefault("events.frame_event_burst", 4)
	v.SetDefault("events.persist_queue", 16)
}
