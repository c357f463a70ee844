// Package config loads and validates the serving core's process-wide
// configuration: server listen settings, model family/path/dtype, sampling
// parameters (InferenceConfig), queue and result-cache tuning, and
// logging.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cylonrun/cylon/internal/servingerrors"
)

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Model       ModelConfig       `yaml:"model"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Queue       QueueConfig       `yaml:"queue"`
	ResultCache ResultCacheConfig `yaml:"result_cache"`
	Logging     LoggingConfig     `yaml:"logging"`

	// SystemPrompt is injected as the first message of every request.
	SystemPrompt string `yaml:"system_prompt"`
}

// ServerConfig holds RPC-surface listen settings.
type ServerConfig struct {
	ListenAddress          string `yaml:"listen_address"`
	ListenPort             int    `yaml:"listen_port"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds     int    `yaml:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// ModelConfig selects and configures the ModelBackend.
type ModelConfig struct {
	// Family selects the backend: "llama" or "qwen". Unknown → fatal.
	Family string `yaml:"model_family"`
	// Path is the directory containing config.json, tokenizer.json,
	// tokenizer_config.json, and model.safetensors.index.json.
	Path string `yaml:"model_path"`
	// Dtype is one of "f16", "bf16", "f32". Default "f16". Unknown → fatal.
	Dtype string `yaml:"dtype"`
	// UseFlashAttn requests flash-attention; honored on CUDA only.
	UseFlashAttn bool `yaml:"use_flash_attn"`
	// EnableKVCache enables decode-phase single-token windows for backends
	// that support an external KV cache.
	EnableKVCache bool `yaml:"enable_kv_cache"`
}

// SamplingConfig is the process-wide, immutable InferenceConfig.
type SamplingConfig struct {
	Temperature   float64  `yaml:"temperature"`
	TopK          *int     `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	Seed          uint64   `yaml:"seed"`
	RepeatPenalty float32  `yaml:"repeat_penalty"`
	RepeatLastN   int      `yaml:"repeat_last_n"`
	SampleLen     int      `yaml:"sample_len"`
}

// QueueConfig controls the prompt queue and immediate-vs-queued admission
// path.
type QueueConfig struct {
	// Disabled bypasses the queue entirely: all callers serialize on the
	// single-slot guard.
	Disabled bool `yaml:"queue_disabled"`
	// BufferSize bounds the prompt queue.
	BufferSize int `yaml:"queue_buffer_size"`
	// Type names the queue backend. Only "local" is implemented; "redis" and
	// "kafka" are recognized but rejected by Validate since the serving core
	// is local-only.
	Type string `yaml:"queue_type"`
}

// ResultCacheConfig controls the TTL-keyed result cache.
type ResultCacheConfig struct {
	TTLSeconds             int `yaml:"result_cache_ttl"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	ErrorLogDir      string `yaml:"error_log_dir"`
	ErrorLogFilename string `yaml:"error_log_filename"`
}

// Load reads the YAML file at path, expands ${ENV_VAR} references, applies
// the CYLON_* environment-variable overrides, fills defaults, validates the
// result, and returns it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrConfigInvalid, fmt.Errorf("reading file %q: %w", path, err))
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrConfigInvalid, fmt.Errorf("unmarshalling YAML: %w", err))
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrConfigInvalid, err)
	}

	return &cfg, nil
}

// applyEnvOverrides overwrites specific fields when the corresponding
// CYLON_* environment variable is set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CYLON_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("CYLON_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.ListenPort = port
		}
	}
	if v := os.Getenv("CYLON_MODEL_FAMILY"); v != "" {
		cfg.Model.Family = v
	}
	if v := os.Getenv("CYLON_MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("CYLON_DTYPE"); v != "" {
		cfg.Model.Dtype = v
	}
	if v := os.Getenv("CYLON_USE_FLASH_ATTN"); v != "" {
		cfg.Model.UseFlashAttn = v == "true" || v == "1"
	}
	if v := os.Getenv("CYLON_ENABLE_KV_CACHE"); v != "" {
		cfg.Model.EnableKVCache = v == "true" || v == "1"
	}
	if v := os.Getenv("CYLON_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sampling.Temperature = f
		}
	}
	if v := os.Getenv("CYLON_TOP_P"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sampling.TopP = &f
		}
	}
	if v := os.Getenv("CYLON_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Sampling.TopK = &k
		}
	}
	if v := os.Getenv("CYLON_SEED"); v != "" {
		if s, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Sampling.Seed = s
		}
	}
	if v := os.Getenv("CYLON_SAMPLE_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampling.SampleLen = n
		}
	}
	if v := os.Getenv("CYLON_REPEAT_PENALTY"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Sampling.RepeatPenalty = float32(f)
		}
	}
	if v := os.Getenv("CYLON_REPEAT_LAST_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampling.RepeatLastN = n
		}
	}
	if v := os.Getenv("CYLON_SYSTEM_PROMPT"); v != "" {
		cfg.SystemPrompt = v
	}
	if v := os.Getenv("CYLON_QUEUE_DISABLED"); v != "" {
		cfg.Queue.Disabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CYLON_QUEUE_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.BufferSize = n
		}
	}
	if v := os.Getenv("CYLON_RESULT_CACHE_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ResultCache.TTLSeconds = n
		}
	}
	if v := os.Getenv("CYLON_DEBUG"); v != "" && (v == "true" || v == "1") {
		cfg.Logging.Level = "debug"
	}
}

// applyDefaults sets zero-value fields to their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1"
	}
	if cfg.Server.ListenPort == 0 {
		cfg.Server.ListenPort = 8080
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 300
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 120
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 5
	}

	if cfg.Model.Family == "" {
		cfg.Model.Family = "llama"
	}
	if cfg.Model.Dtype == "" {
		cfg.Model.Dtype = "f16"
	}

	if cfg.Sampling.Seed == 0 {
		cfg.Sampling.Seed = 299792458
	}
	if cfg.Sampling.SampleLen == 0 {
		cfg.Sampling.SampleLen = 10000
	}
	if cfg.Sampling.RepeatPenalty == 0 {
		cfg.Sampling.RepeatPenalty = 1.0
	}
	if cfg.Sampling.RepeatLastN == 0 {
		cfg.Sampling.RepeatLastN = 128
	}

	if cfg.Queue.Type == "" {
		cfg.Queue.Type = "local"
	}
	if cfg.Queue.BufferSize == 0 {
		cfg.Queue.BufferSize = 100
	}

	if cfg.ResultCache.TTLSeconds == 0 {
		cfg.ResultCache.TTLSeconds = 3600
	}
	if cfg.ResultCache.CleanupIntervalSeconds == 0 {
		cfg.ResultCache.CleanupIntervalSeconds = 300
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a helpful assistant."
	}
}

// Validate returns an error if required fields are missing or out of range.
func (c *Config) Validate() error {
	switch c.Model.Family {
	case "llama", "qwen":
	default:
		return fmt.Errorf("model.model_family: unsupported model family %q: must be llama or qwen", c.Model.Family)
	}
	if strings.TrimSpace(c.Model.Path) == "" {
		return fmt.Errorf("model.model_path is required")
	}
	switch c.Model.Dtype {
	case "f16", "bf16", "f32":
	default:
		return fmt.Errorf("model.dtype: unsupported dtype %q: must be f16, bf16, or f32", c.Model.Dtype)
	}
	switch c.Queue.Type {
	case "local":
	case "redis", "kafka":
		return fmt.Errorf("queue.queue_type: %q is recognized but not implemented; the serving core is local-only", c.Queue.Type)
	default:
		return fmt.Errorf("queue.queue_type: unknown queue type %q", c.Queue.Type)
	}
	if c.Queue.BufferSize < 1 {
		return fmt.Errorf("queue.queue_buffer_size must be >= 1, got %d", c.Queue.BufferSize)
	}
	if c.Sampling.SampleLen < 1 {
		return fmt.Errorf("sampling.sample_len must be >= 1, got %d", c.Sampling.SampleLen)
	}
	if c.ResultCache.TTLSeconds < 1 {
		return fmt.Errorf("result_cache.result_cache_ttl must be >= 1, got %d", c.ResultCache.TTLSeconds)
	}
	return nil
}
