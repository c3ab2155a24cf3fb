package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.False(t, cfg.Server.EnableHTTP3)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)

	p := cfg.Playback
	assert.Equal(t, "direct", p.TimingModel)
	assert.Equal(t, 1.0, p.MaxBufferedWait)
	assert.Equal(t, 0.5, p.FastStartWait)
	assert.Equal(t, 10*time.Second, p.BufferWaitTimeout)
	assert.Equal(t, 1.0, p.DriftToleranceFrames)
	assert.Equal(t, int64(9126805504), p.MaxGreedyCacheSize)
	assert.Equal(t, int64(536870912), p.MaxBufferCacheSize)
	assert.Equal(t, 72, p.FPSSamples)
	assert.Equal(t, 10, p.SyncMaxSamples)
	assert.Equal(t, 10.0, p.RatioPrecision)
	assert.Equal(t, 1.00001, p.Slop)
	assert.Equal(t, DefaultPlaybackConfig(), p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000

logging:
  level: "debug"
  format: "text"

playback:
  timing_model: "refresh"
  fps: 25
  device_hz: 50
  max_buffered_wait: 4.0
  initial_cache_mode: "buffer"

simulation:
  range_start: 1001
  range_end: 1101
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "refresh", cfg.Playback.TimingModel)
	assert.Equal(t, 25.0, cfg.Playback.FPS)
	assert.Equal(t, 4.0, cfg.Playback.MaxBufferedWait)
	assert.Equal(t, "buffer", cfg.Playback.InitialCacheMode)
	assert.Equal(t, 1001, cfg.Simulation.RangeStart)
	// untouched keys keep their defaults
	assert.Equal(t, 0.5, cfg.Playback.FastStartWait)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CADENCE_PLAYBACK_FPS", "30")
	t.Setenv("CADENCE_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Playback.FPS)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigInvalid(t *testing.T) {
	cfg, err := Load(writeConfig(t, "playback:\n  timing_model: \"sometimes\"\n"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "timing_model")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/cadence.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestServerConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr bool
	}{
		{
			name:    "valid http only",
			config:  ServerConfig{HTTPPort: 8080},
			wantErr: false,
		},
		{
			name:    "invalid port",
			config:  ServerConfig{HTTPPort: 70000},
			wantErr: true,
		},
		{
			name: "http3 without cert",
			config: ServerConfig{
				HTTPPort:    8080,
				EnableHTTP3: true,
				HTTP3Port:   8443,
				TLSKeyFile:  "key.pem",
			},
			wantErr: true,
		},
		{
			name: "http3 cert files not found",
			config: ServerConfig{
				HTTPPort:              8080,
				EnableHTTP3:           true,
				HTTP3Port:             8443,
				TLSCertFile:           "/nonexistent/cert.pem",
				TLSKeyFile:            "/nonexistent/key.pem",
				MaxIncomingStreams:    100,
				MaxIncomingUniStreams: 50,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedisConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  RedisConfig
		wantErr bool
	}{
		{
			name:    "disabled skips checks",
			config:  RedisConfig{Enabled: false, PoolSize: 0},
			wantErr: false,
		},
		{
			name:    "no addresses",
			config:  RedisConfig{Enabled: true, PoolSize: 10},
			wantErr: true,
		},
		{
			name:    "negative DB",
			config:  RedisConfig{Enabled: true, Addresses: []string{"localhost:6379"}, DB: -1, PoolSize: 10},
			wantErr: true,
		},
		{
			name:    "min idle conns greater than pool size",
			config:  RedisConfig{Enabled: true, Addresses: []string{"localhost:6379"}, PoolSize: 2, MinIdleConns: 5},
			wantErr: true,
		},
		{
			name:    "valid",
			config:  RedisConfig{Enabled: true, Addresses: []string{"localhost:6379"}, PoolSize: 10, MinIdleConns: 2},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlaybackConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *PlaybackConfig)
		errMsg string
	}{
		{name: "defaults are valid", mutate: func(p *PlaybackConfig) {}},
		{name: "unknown timing model", mutate: func(p *PlaybackConfig) { p.TimingModel = "vsync" }, errMsg: "timing_model"},
		{name: "zero fps", mutate: func(p *PlaybackConfig) { p.FPS = 0 }, errMsg: "fps must be positive"},
		{
			name: "refresh without any rate",
			mutate: func(p *PlaybackConfig) {
				p.TimingModel = "refresh"
				p.DeviceHz = 0
			},
			errMsg: "requires device_hz",
		},
		{name: "bad play mode", mutate: func(p *PlaybackConfig) { p.InitialPlayMode = "shuffle" }, errMsg: "initial_play_mode"},
		{name: "bad cache mode", mutate: func(p *PlaybackConfig) { p.InitialCacheMode = "all" }, errMsg: "initial_cache_mode"},
		{name: "negative wait", mutate: func(p *PlaybackConfig) { p.MaxBufferedWait = -1 }, errMsg: "max_buffered_wait"},
		{name: "look behind above one", mutate: func(p *PlaybackConfig) { p.CacheLookBehindFraction = 1.5 }, errMsg: "cache_look_behind_fraction"},
		{name: "zero drift tolerance", mutate: func(p *PlaybackConfig) { p.DriftToleranceFrames = 0 }, errMsg: "drift_tolerance_frames"},
		{name: "sensitivity above one", mutate: func(p *PlaybackConfig) { p.AudioSensitivity = 2 }, errMsg: "audio_sensitivity"},
		{name: "inverted sync bounds", mutate: func(p *PlaybackConfig) { p.SyncMaxHz = 10 }, errMsg: "sync hz bounds"},
		{name: "slop below one", mutate: func(p *PlaybackConfig) { p.Slop = 0.99 }, errMsg: "slop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPlaybackConfig()
			tt.mutate(&p)
			err := p.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRemoteSyncConfigValidation(t *testing.T) {
	r := RemoteSyncConfig{Enabled: true, Destination: "127.0.0.1:5004", PayloadType: 96, ReportInterval: time.Second}
	assert.NoError(t, r.Validate())

	r.PayloadType = 33
	assert.Error(t, r.Validate())

	r = RemoteSyncConfig{Enabled: false}
	assert.NoError(t, r.Validate())
}
