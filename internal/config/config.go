package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeTest     Mode = "test"
	ModeStream   Mode = "stream"
	ModeHTTP     Mode = "http"
	ModeTelegram Mode = "telegram"
)

type Runtime string

const (
	RuntimeMicro Runtime = "micro"
	RuntimeONNX  Runtime = "onnx"
)

type Config struct {
	Mode Mode
	Port string

	Runtime        Runtime
	ModelPath      string
	MetadataPath   string
	ONNXRuntimeLib string
	ArenaSize      int
	ArenaPoolSize  int

	TestInterval time.Duration
	TestLogEvery int
	// TestGray selects a uniform frame; -1 uses the embedded image.
	TestGray int

	StreamListen      string
	StreamDevice      string
	StreamReadTimeout time.Duration
	StreamRetryDelay  time.Duration
	InvokeRetryDelay  time.Duration

	// StreamRGB565Width and StreamRGB565Height switch the stream to RGB565
	// camera captures of that size. Zero keeps raw 64x64 gray frames.
	StreamRGB565Width  int
	StreamRGB565Height int

	TelegramToken string

	LogLevel  string
	LogFormat string
}

func Default() *Config {
	return &Config{
		Mode:             ModeHTTP,
		Port:             "8080",
		Runtime:          RuntimeMicro,
		ArenaSize:        600 * 1024,
		ArenaPoolSize:    8 << 20,
		TestInterval:     5 * time.Second,
		TestLogEvery:     5,
		TestGray:         -1,
		StreamListen:     ":9000",
		StreamRetryDelay: 100 * time.Millisecond,
		InvokeRetryDelay: time.Second,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	cfg.Mode = Mode(p.str("PIPELINE_MODE", string(cfg.Mode)))
	cfg.Port = p.str("PORT", cfg.Port)
	cfg.Runtime = Runtime(p.str("MODEL_RUNTIME", string(cfg.Runtime)))
	cfg.ModelPath = p.str("MODEL_PATH", "")
	cfg.MetadataPath = p.str("MODEL_METADATA_PATH", "")
	cfg.ONNXRuntimeLib = p.str("ONNXRUNTIME_LIB", "")
	cfg.ArenaSize = p.int("ARENA_SIZE", cfg.ArenaSize)
	cfg.ArenaPoolSize = p.int("ARENA_POOL_SIZE", cfg.ArenaPoolSize)
	cfg.TestInterval = p.duration("TEST_INTERVAL", cfg.TestInterval)
	cfg.TestLogEvery = p.int("TEST_LOG_EVERY", cfg.TestLogEvery)
	cfg.TestGray = p.int("TEST_GRAY", cfg.TestGray)
	cfg.StreamListen = p.str("STREAM_LISTEN", cfg.StreamListen)
	cfg.StreamDevice = p.str("STREAM_DEVICE", "")
	cfg.StreamReadTimeout = p.duration("STREAM_READ_TIMEOUT", cfg.StreamReadTimeout)
	cfg.StreamRetryDelay = p.duration("STREAM_RETRY_DELAY", cfg.StreamRetryDelay)
	cfg.InvokeRetryDelay = p.duration("INVOKE_RETRY_DELAY", cfg.InvokeRetryDelay)
	cfg.StreamRGB565Width = p.int("STREAM_RGB565_WIDTH", 0)
	cfg.StreamRGB565Height = p.int("STREAM_RGB565_HEIGHT", 0)
	cfg.TelegramToken = p.str("TELEGRAM_TOKEN", "")
	cfg.LogLevel = p.str("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = p.str("LOG_FORMAT", cfg.LogFormat)

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeTest, ModeStream, ModeHTTP, ModeTelegram:
	default:
		return fmt.Errorf("config: PIPELINE_MODE %q is not one of test, stream, http, telegram", c.Mode)
	}
	switch c.Runtime {
	case RuntimeMicro:
	case RuntimeONNX:
		if c.ModelPath == "" || c.MetadataPath == "" {
			return fmt.Errorf("config: MODEL_RUNTIME=onnx needs MODEL_PATH and MODEL_METADATA_PATH")
		}
	default:
		return fmt.Errorf("config: MODEL_RUNTIME %q is not one of micro, onnx", c.Runtime)
	}
	if c.ArenaSize <= 0 || c.ArenaPoolSize <= 0 {
		return fmt.Errorf("config: ARENA_SIZE and ARENA_POOL_SIZE must be positive")
	}
	if c.TestLogEvery <= 0 {
		return fmt.Errorf("config: TEST_LOG_EVERY must be positive, got %d", c.TestLogEvery)
	}
	if c.TestGray < -1 || c.TestGray > 255 {
		return fmt.Errorf("config: TEST_GRAY must be -1 or 0..255, got %d", c.TestGray)
	}
	if (c.StreamRGB565Width == 0) != (c.StreamRGB565Height == 0) || c.StreamRGB565Width < 0 || c.StreamRGB565Height < 0 {
		return fmt.Errorf("config: STREAM_RGB565_WIDTH and STREAM_RGB565_HEIGHT must both be positive or both unset")
	}
	if c.StreamReadTimeout < 0 || c.StreamRetryDelay < 0 || c.InvokeRetryDelay < 0 || c.TestInterval < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	if c.Mode == ModeTelegram && c.TelegramToken == "" {
		return fmt.Errorf("config: TELEGRAM_TOKEN is required in telegram mode")
	}
	return nil
}

// parser keeps the first conversion error.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return d
}
