// Package config loads Kotoba's runtime configuration.
//
// Sources are applied in order of increasing precedence: built-in defaults,
// an optional YAML file, an optional .env file, then KOTOBA_* environment
// variables. Validate reports every problem at once.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kotoba/common/environment"
	"github.com/bdobrica/kotoba/common/redact"
	"github.com/bdobrica/kotoba/internal/kotoba/memory"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "KOTOBA_"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Model and embedding providers.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the complete runtime configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Memory   MemoryConfig   `yaml:"memory"`
	Learning LearningConfig `yaml:"learning"`
	Intents  IntentsConfig  `yaml:"intents"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Model    ModelConfig    `yaml:"model"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Events   EventsConfig   `yaml:"events"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// StoreConfig selects the durable key-value backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// URL is the Redis connection URL, e.g. redis://localhost:6379/0.
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type MemoryConfig struct {
	Capacity          int           `yaml:"capacity"`
	TopK              int           `yaml:"top_k"`
	Floor             float64       `yaml:"floor"`
	DecayWindow       time.Duration `yaml:"decay_window"`
	CompressThreshold int           `yaml:"compress_threshold"`
	KeepChars         int           `yaml:"keep_chars"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
}

type LearningConfig struct {
	Alpha         float64       `yaml:"alpha"`
	DecayFactor   float64       `yaml:"decay_factor"`
	DecayAfter    time.Duration `yaml:"decay_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// IntentsConfig points at an optional pattern table replacing the built-in one.
type IntentsConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// PipelineConfig tunes turn processing.
type PipelineConfig struct {
	// WakeWords are stripped from every utterance, e.g. "hey kotoba".
	WakeWords []string `yaml:"wake_words"`
	// RecentWindow is how many remembered turns feed context scoring.
	RecentWindow int `yaml:"recent_window"`
}

// ModelConfig configures the optional model fallback for unknown utterances.
type ModelConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   int           `yaml:"rate_limit"`
	DailyBudget int           `yaml:"daily_budget"`
}

// EmbedderConfig enables embedding similarity for memory retrieval.
type EmbedderConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// MatrixConfig enables the Matrix channel when Homeserver is set.
type MatrixConfig struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`
	// RoomTags maps a room ID to the session tags its turns carry, e.g.
	// {"!media:example.org": [media, entertainment]}.
	RoomTags map[string][]string `yaml:"room_tags"`
	// AuditRoom receives a notice for every failed turn. Optional.
	AuditRoom string `yaml:"audit_room"`
}

// Enabled reports whether the Matrix channel should run.
func (m MatrixConfig) Enabled() bool { return m.Homeserver != "" }

// HTTPConfig enables the health and status endpoints when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Backend: BackendSQLite, Path: "./kotoba.db", Prefix: "kotoba"},
		Memory: MemoryConfig{
			Capacity:          100,
			TopK:              5,
			Floor:             0.5,
			DecayWindow:       24 * time.Hour,
			CompressThreshold: 2048,
			KeepChars:         256,
			FlushInterval:     5 * time.Second,
		},
		Learning: LearningConfig{
			Alpha:         0.1,
			DecayFactor:   0.95,
			DecayAfter:    24 * time.Hour,
			SweepInterval: time.Hour,
			FlushInterval: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			WakeWords:    []string{"hey kotoba"},
			RecentWindow: 5,
		},
		Model: ModelConfig{
			Provider:    ProviderNone,
			Timeout:     30 * time.Second,
			RateLimit:   20,
			DailyBudget: 50_000,
		},
		Embedder: EmbedderConfig{Provider: ProviderNone, CacheSize: 1024},
		Events:   EventsConfig{Buffer: 256},
	}
}

// Options controls where Load reads from. Empty paths are skipped.
type Options struct {
	File    string
	EnvFile string
}

// Load builds the configuration from defaults, opts.File, opts.EnvFile and
// the environment. A missing .env file is not an error; a missing YAML file
// is, since it was asked for explicitly. The result is not validated.
func Load(opts Options) (Config, error) {
	cfg := Default()
	if opts.File != "" {
		if err := cfg.loadFile(opts.File); err != nil {
			return Config{}, err
		}
	}
	if opts.EnvFile != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", opts.EnvFile, err)
		}
	}
	if err := cfg.applyEnv(environment.Lookup{Prefix: EnvPrefix}); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(env environment.Lookup) error {
	env.String("LOG_LEVEL", &c.Log.Level)
	env.String("LOG_FORMAT", &c.Log.Format)

	env.String("STORE_BACKEND", &c.Store.Backend)
	env.String("STORE_PATH", &c.Store.Path)
	env.String("STORE_URL", &c.Store.URL)
	env.String("STORE_PREFIX", &c.Store.Prefix)

	env.String("INTENTS_FILE", &c.Intents.File)
	env.Strings("PIPELINE_WAKE_WORDS", &c.Pipeline.WakeWords)

	env.String("MODEL_PROVIDER", &c.Model.Provider)
	env.String("MODEL_API_KEY", &c.Model.APIKey)
	env.String("MODEL_BASE_URL", &c.Model.BaseURL)
	env.String("MODEL_NAME", &c.Model.Model)

	env.String("EMBEDDER_PROVIDER", &c.Embedder.Provider)
	env.String("EMBEDDER_API_KEY", &c.Embedder.APIKey)
	env.String("EMBEDDER_BASE_URL", &c.Embedder.BaseURL)
	env.String("EMBEDDER_MODEL", &c.Embedder.Model)

	env.String("MATRIX_HOMESERVER", &c.Matrix.Homeserver)
	env.String("MATRIX_USER_ID", &c.Matrix.UserID)
	env.String("MATRIX_ACCESS_TOKEN", &c.Matrix.AccessToken)
	env.Strings("MATRIX_ROOMS", &c.Matrix.Rooms)
	env.String("MATRIX_AUDIT_ROOM", &c.Matrix.AuditRoom)

	env.String("HTTP_ADDR", &c.HTTP.Addr)

	return errors.Join(
		env.Int("MEMORY_CAPACITY", &c.Memory.Capacity),
		env.Int("MEMORY_TOP_K", &c.Memory.TopK),
		env.Float("MEMORY_FLOOR", &c.Memory.Floor),
		env.Duration("MEMORY_DECAY_WINDOW", &c.Memory.DecayWindow),
		env.Int("MEMORY_COMPRESS_THRESHOLD", &c.Memory.CompressThreshold),
		env.Int("MEMORY_KEEP_CHARS", &c.Memory.KeepChars),
		env.Duration("MEMORY_FLUSH_INTERVAL", &c.Memory.FlushInterval),
		env.Float("LEARNING_ALPHA", &c.Learning.Alpha),
		env.Float("LEARNING_DECAY_FACTOR", &c.Learning.DecayFactor),
		env.Duration("LEARNING_DECAY_AFTER", &c.Learning.DecayAfter),
		env.Duration("LEARNING_SWEEP_INTERVAL", &c.Learning.SweepInterval),
		env.Duration("LEARNING_FLUSH_INTERVAL", &c.Learning.FlushInterval),
		env.Bool("INTENTS_WATCH", &c.Intents.Watch),
		env.Int("PIPELINE_RECENT_WINDOW", &c.Pipeline.RecentWindow),
		env.Duration("MODEL_TIMEOUT", &c.Model.Timeout),
		env.Int("MODEL_RATE_LIMIT", &c.Model.RateLimit),
		env.Int("MODEL_DAILY_BUDGET", &c.Model.DailyBudget),
		env.Int("EMBEDDER_CACHE_SIZE", &c.Embedder.CacheSize),
		env.Int("EVENTS_BUFFER", &c.Events.Buffer),
	)
}

// Validate reports every configuration problem joined into one error.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)),
		"log.level: unknown level %q", c.Log.Level)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format: must be text or json, got %q", c.Log.Format)

	switch c.Store.Backend {
	case BackendSQLite:
		check(c.Store.Path != "", "store.path: required for the sqlite backend")
	case BackendRedis:
		check(c.Store.URL != "", "store.url: required for the redis backend")
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}

	check(c.Memory.Capacity > 0, "memory.capacity: must be positive")
	check(c.Memory.TopK > 0, "memory.top_k: must be positive")
	check(c.Memory.Floor >= 0 && c.Memory.Floor <= 1, "memory.floor: must be within [0,1]")
	check(c.Memory.DecayWindow > 0, "memory.decay_window: must be positive")
	check(c.Memory.CompressThreshold > 0, "memory.compress_threshold: must be positive")
	check(c.Memory.KeepChars > 0, "memory.keep_chars: must be positive")
	minCompress := memory.MinCompressThreshold(c.Memory.KeepChars)
	check(c.Memory.KeepChars <= 0 || c.Memory.CompressThreshold >= minCompress,
		"memory.compress_threshold: must be at least %d for memory.keep_chars %d", minCompress, c.Memory.KeepChars)

	check(c.Learning.Alpha > 0 && c.Learning.Alpha <= 1, "learning.alpha: must be within (0,1]")
	check(c.Learning.DecayFactor > 0 && c.Learning.DecayFactor <= 1, "learning.decay_factor: must be within (0,1]")
	check(c.Learning.DecayAfter > 0, "learning.decay_after: must be positive")

	check(!c.Intents.Watch || c.Intents.File != "", "intents.watch: requires intents.file")
	check(c.Pipeline.RecentWindow > 0, "pipeline.recent_window: must be positive")

	switch c.Model.Provider {
	case ProviderNone, "":
	case ProviderOpenAI, ProviderAnthropic:
		check(c.Model.APIKey != "", "model.api_key: required for provider %s", c.Model.Provider)
	default:
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q", c.Model.Provider))
	}

	switch c.Embedder.Provider {
	case ProviderNone, "":
	case ProviderOpenAI:
		check(c.Embedder.APIKey != "", "embedder.api_key: required for provider openai")
	default:
		errs = append(errs, fmt.Errorf("embedder.provider: unknown provider %q", c.Embedder.Provider))
	}

	if c.Matrix.Enabled() {
		check(c.Matrix.UserID != "", "matrix.user_id: required when matrix.homeserver is set")
		check(c.Matrix.AccessToken != "", "matrix.access_token: required when matrix.homeserver is set")
		check(len(c.Matrix.Rooms) > 0, "matrix.rooms: at least one room is required")
	}

	return errors.Join(errs...)
}

// Redacted returns the configuration as a generic map with credentials
// replaced, suitable for printing. Durations are rendered as strings.
func (c Config) Redacted() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return redact.Map(m), nil
}

// Secrets returns the configured credentials, for scrubbing free text with
// redact.String.
func (c Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Model.APIKey, c.Embedder.APIKey, c.Matrix.AccessToken} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
