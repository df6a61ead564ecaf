package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/corelink/internal/core"
	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/protocol/tap"
)

// EnvCore overrides the configured core executable.
const EnvCore = "CORELINK_CORE"

// Debug sink kinds.
const (
	SinkLog        = "log"
	SinkStderr     = "stderr"
	SinkTranscript = "transcript"
)

type CoreConfig struct {
	Executable       string
	Args             []string
	ProtocolFlag     string
	Dir              string
	Env              map[string]string
	ShutdownGrace    time.Duration
	HandshakeTimeout time.Duration
	Debug            DebugConfig
	MaxChunkBytes    int
}

type DebugConfig struct {
	Enabled        bool
	Sink           string
	TranscriptPath string
}

type fileConfig struct {
	Executable       string            `toml:"executable"`
	Args             []string          `toml:"args"`
	ProtocolFlag     string            `toml:"protocol_flag"`
	Dir              string            `toml:"dir"`
	Env              map[string]string `toml:"env"`
	ShutdownGrace    string            `toml:"shutdown_grace"`
	HandshakeTimeout string            `toml:"handshake_timeout"`
	Debug            struct {
		Enabled        bool   `toml:"enabled"`
		Sink           string `toml:"sink"`
		TranscriptPath string `toml:"transcript_path"`
	} `toml:"debug"`
	Limits struct {
		MaxChunkBytes int `toml:"max_chunk_bytes"`
	} `toml:"limits"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		ProtocolFlag:  core.DefaultProtocolFlag,
		ShutdownGrace: core.DefaultShutdownGrace,
		Debug:         DebugConfig{Sink: SinkLog},
		MaxChunkBytes: protocol.DefaultLimits().MaxChunkBytes,
	}
}

// LoadCoreConfig reads path over the defaults. Keys missing from the file
// keep their default values.
func LoadCoreConfig(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return CoreConfig{}, fmt.Errorf("load core config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return CoreConfig{}, fmt.Errorf("core config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("executable") {
		cfg.Executable = strings.TrimSpace(raw.Executable)
	}
	if meta.IsDefined("args") {
		cfg.Args = append([]string(nil), raw.Args...)
	}
	if meta.IsDefined("protocol_flag") {
		cfg.ProtocolFlag = strings.TrimSpace(raw.ProtocolFlag)
	}
	if meta.IsDefined("dir") {
		cfg.Dir = strings.TrimSpace(raw.Dir)
	}
	if meta.IsDefined("env") {
		cfg.Env = raw.Env
	}
	if meta.IsDefined("shutdown_grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownGrace))
		if err != nil {
			return CoreConfig{}, fmt.Errorf("parse shutdown_grace: %w", err)
		}
		cfg.ShutdownGrace = d
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return CoreConfig{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if meta.IsDefined("debug", "enabled") {
		cfg.Debug.Enabled = raw.Debug.Enabled
	}
	if meta.IsDefined("debug", "sink") {
		cfg.Debug.Sink = strings.ToLower(strings.TrimSpace(raw.Debug.Sink))
	}
	if meta.IsDefined("debug", "transcript_path") {
		cfg.Debug.TranscriptPath = strings.TrimSpace(raw.Debug.TranscriptPath)
	}
	if meta.IsDefined("limits", "max_chunk_bytes") {
		cfg.MaxChunkBytes = raw.Limits.MaxChunkBytes
	}
	return cfg, nil
}

// ApplyEnv lets CORELINK_CORE and CORELINK_PROTOCOL_DEBUG override cfg.
func ApplyEnv(cfg *CoreConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvCore)); v != "" {
		cfg.Executable = v
	}
	if tap.EnabledFromEnv() {
		cfg.Debug.Enabled = true
	}
}

func ValidateCoreConfig(cfg CoreConfig) error {
	if strings.TrimSpace(cfg.Executable) == "" {
		return fmt.Errorf("core config missing executable")
	}
	if strings.TrimSpace(cfg.ProtocolFlag) == "" {
		return fmt.Errorf("core config missing protocol_flag")
	}
	if cfg.ShutdownGrace <= 0 {
		return fmt.Errorf("core config shutdown_grace must be positive")
	}
	if cfg.HandshakeTimeout < 0 {
		return fmt.Errorf("core config handshake_timeout must not be negative")
	}
	if cfg.MaxChunkBytes <= 0 {
		return fmt.Errorf("core config limits.max_chunk_bytes must be positive")
	}
	switch cfg.Debug.Sink {
	case SinkLog, SinkStderr:
	case SinkTranscript:
		if cfg.Debug.TranscriptPath == "" {
			return fmt.Errorf("core config debug.transcript_path required for transcript sink")
		}
	default:
		return fmt.Errorf("core config unknown debug sink %q", cfg.Debug.Sink)
	}
	for key := range cfg.Env {
		if key == "" || strings.Contains(key, "=") {
			return fmt.Errorf("core config invalid env key %q", key)
		}
	}
	return nil
}
