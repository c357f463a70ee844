package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cylonrun/cylon/internal/rpc"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

// qwenCache is the unit sentinel CreateCache returns for the Qwen family:
// the backend owns its KV state internally rather than handing a per-call
// handle to the caller.
type qwenCache struct{}

// qwenBackend implements Backend for the Qwen model family. Its KV cache is
// internal and always reports UseKVCache() false, so ClearKVCache must run
// at the start of every generation and defensively before every forward
// pass; the generation loop enforces that discipline by checking
// SupportsPersistentCache (before each generation) and UseKVCache (before
// each forward pass).
type qwenBackend struct {
	weights   *forwardWeights
	tokenizer *vocabTokenizer
	template  chatTemplate
	eos       EOSHandler
	device    Device
	dtype     DType

	mu      sync.Mutex
	cleared bool
}

// LoadQwen reads config.json, tokenizer.json, tokenizer_config.json, and the
// safetensors shards under modelDir and constructs a ready-to-use Qwen
// backend.
func LoadQwen(modelDir string, dtype DType) (Backend, error) {
	info, err := os.Stat(modelDir)
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("model path %s: %w", modelDir, err))
	}
	if !info.IsDir() {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("model path %s is not a directory", modelDir))
	}

	shards, err := openShardSet(modelDir)
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("opening safetensors shards: %w", err))
	}
	defer shards.Close()

	weights, err := loadForwardWeights(shards)
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("loading forward weights: %w", err))
	}

	configRaw, err := os.ReadFile(filepath.Join(modelDir, "config.json"))
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("reading config.json: %w", err))
	}
	hfCfg, err := parseHFModelConfig(configRaw)
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("parsing config.json: %w", err))
	}
	eos, err := hfCfg.eosHandler()
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("resolving eos handler: %w", err))
	}

	tok, err := newVocabTokenizer(filepath.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("loading tokenizer.json: %w", err))
	}

	tokCfgRaw, err := os.ReadFile(filepath.Join(modelDir, "tokenizer_config.json"))
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("reading tokenizer_config.json: %w", err))
	}
	tokCfg, err := parseTokenizerConfig(tokCfgRaw)
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrLoadFailed, fmt.Errorf("parsing tokenizer_config.json: %w", err))
	}

	return &qwenBackend{
		weights:   weights,
		tokenizer: tok,
		template:  chatTemplate{source: tokCfg.ChatTemplate, bosToken: tokCfg.BosToken},
		eos:       eos,
		device:    ResolveDevice(),
		dtype:     dtype,
	}, nil
}

func (b *qwenBackend) Render(messages []rpc.Message) (string, error) {
	return b.template.render(messages)
}

func (b *qwenBackend) Tokenize(text string) ([]uint32, error) {
	return b.tokenizer.Encode(text), nil
}

func (b *qwenBackend) Decode(tokens []uint32) (string, error) {
	return b.tokenizer.Decode(tokens), nil
}

// CreateCache ignores useKVCache: the Qwen family always reports
// use_kv_cache false and manages its state through ClearKVCache instead.
func (b *qwenBackend) CreateCache(bool) (Cache, error) {
	return qwenCache{}, nil
}

// Forward treats contextIndex as a seqlen_offset into the internal cache,
// per the family contract; the simplified forward pass has no attention
// state to offset into, so the offset is accepted but unused beyond
// documenting the intended semantics at the call site.
func (b *qwenBackend) Forward(_ context.Context, tokens []uint32, _ int, _ Cache) ([]float32, error) {
	return b.weights.forward(tokens)
}

func (b *qwenBackend) Device() Device { return b.device }
func (b *qwenBackend) DType() DType   { return b.dtype }

// UseKVCache is always false for Qwen: internal cache semantics conflict
// with the loop's token-by-token windowing discipline.
func (b *qwenBackend) UseKVCache() bool { return false }

func (b *qwenBackend) EOSHandler() EOSHandler { return b.eos }

// ClearKVCache resets internal state and is idempotent: repeated calls
// before any intervening Forward observe no difference.
func (b *qwenBackend) ClearKVCache() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleared = true
	return nil
}

// SupportsPersistentCache is false: the caller (generation loop) must call
// ClearKVCache before every new generation rather than relying on the
// backend to manage its own cache lifecycle.
func (b *qwenBackend) SupportsPersistentCache() bool {
	return false
}
