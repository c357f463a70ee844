package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cylonrun/cylon/internal/rpc"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

// llamaCache is the external KV-cache handle the Llama family uses. It
// holds no real attention state (the forward pass here does not implement
// attention), but exists so CreateCache/Forward honor the external-cache
// contract Llama is specified to use: a fresh handle per generation,
// threaded through every forward call by the caller.
type llamaCache struct {
	enabled bool
}

// llamaBackend implements Backend for the Llama model family: external KV
// cache, absolute-position context_index semantics.
type llamaBackend struct {
	weights    *forwardWeights
	tokenizer  *vocabTokenizer
	template   chatTemplate
	eos        EOSHandler
	device     Device
	dtype      DType
	useKVCache bool
}

// LoadLlama reads config.json, tokenizer.json, tokenizer_config.json, and
// the safetensors shards under modelDir and constructs a ready-to-use Llama
// backend.
func LoadLlama(modelDir string, dtype DType, useKVCache bool) (Backend, error) {
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

	return &llamaBackend{
		weights:    weights,
		tokenizer:  tok,
		template:   chatTemplate{source: tokCfg.ChatTemplate, bosToken: tokCfg.BosToken},
		eos:        eos,
		device:     ResolveDevice(),
		dtype:      dtype,
		useKVCache: useKVCache,
	}, nil
}

func (b *llamaBackend) Render(messages []rpc.Message) (string, error) {
	return b.template.render(messages)
}

func (b *llamaBackend) Tokenize(text string) ([]uint32, error) {
	return b.tokenizer.Encode(text), nil
}

func (b *llamaBackend) Decode(tokens []uint32) (string, error) {
	return b.tokenizer.Decode(tokens), nil
}

func (b *llamaBackend) CreateCache(useKVCache bool) (Cache, error) {
	return &llamaCache{enabled: useKVCache}, nil
}

// Forward ignores contextIndex: the simplified forward pass has no
// position-dependent state (no rotary embeddings, no attention), so the
// absolute-position semantics Llama is specified to use have no observable
// effect here beyond the token window slicing the generation loop already
// performs before calling Forward.
func (b *llamaBackend) Forward(_ context.Context, tokens []uint32, _ int, _ Cache) ([]float32, error) {
	return b.weights.forward(tokens)
}

func (b *llamaBackend) Device() Device { return b.device }
func (b *llamaBackend) DType() DType   { return b.dtype }

func (b *llamaBackend) UseKVCache() bool       { return b.useKVCache }
func (b *llamaBackend) EOSHandler() EOSHandler { return b.eos }
func (b *llamaBackend) ClearKVCache() error    { return nil }

// SupportsPersistentCache is true: Llama allocates a fresh external cache
// per generation (CreateCache) and holds no cross-call KV state that would
// need clearing, so ClearKVCache's no-op is a correct persistent-cache
// contract rather than a gap the caller must paper over.
func (b *llamaBackend) SupportsPersistentCache() bool {
	return true
}
