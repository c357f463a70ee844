// Package model implements the ModelBackend capability set: the narrow
// surface the generation loop drives regardless of model family. Loading,
// tokenization, chat-template rendering, and KV-cache state all live behind
// this interface so the generation loop never branches on family.
package model

import (
	"context"

	"github.com/cylonrun/cylon/internal/rpc"
)

// Device names the compute device a backend runs on. CUDA and Metal are
// named for parity with the loader's device-selection logic but neither has
// a real accelerated path in this implementation; everything executes on
// CPU tensors.
type Device string

const (
	DeviceCPU   Device = "cpu"
	DeviceCUDA  Device = "cuda"
	DeviceMetal Device = "metal"
)

// DType names a weight/activation precision.
type DType string

const (
	DTypeF16  DType = "f16"
	DTypeBF16 DType = "bf16"
	DTypeF32  DType = "f32"
)

// EOSHandler decides whether a generated token id ends a sequence. A model's
// config.json may name a single eos token, a list of equivalent eos tokens,
// or none at all.
type EOSHandler struct {
	single   uint32
	hasOne   bool
	multiple map[uint32]struct{}
}

// NewSingleEOSHandler builds a handler that matches exactly one token id.
func NewSingleEOSHandler(id uint32) EOSHandler {
	return EOSHandler{single: id, hasOne: true}
}

// NewMultipleEOSHandler builds a handler that matches any of the given ids.
func NewMultipleEOSHandler(ids []uint32) EOSHandler {
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return EOSHandler{multiple: set}
}

// NewNoneEOSHandler builds a handler that never signals end of sequence;
// generation then always runs to the sample-length bound.
func NewNoneEOSHandler() EOSHandler {
	return EOSHandler{}
}

// IsEOS reports whether tokenID ends the sequence.
func (h EOSHandler) IsEOS(tokenID uint32) bool {
	if h.hasOne {
		return tokenID == h.single
	}
	if h.multiple != nil {
		_, ok := h.multiple[tokenID]
		return ok
	}
	return false
}

// Cache is an opaque per-request KV-cache handle. Backends that do not
// support an external cache return a nil Cache and ignore it in Forward.
type Cache interface{}

// Backend is the capability set the generation loop drives. Each model
// family (Llama, Qwen) implements it once at load time; the generation loop
// never imports a family-specific package directly.
type Backend interface {
	// Render turns an ordered conversation into the model's prompt string
	// using its chat template.
	Render(messages []rpc.Message) (string, error)
	// Tokenize encodes text into the model's vocabulary.
	Tokenize(text string) ([]uint32, error)
	// Decode renders token ids back to text, skipping special tokens.
	Decode(tokens []uint32) (string, error)
	// CreateCache allocates a fresh KV cache for one generation request.
	CreateCache(useKVCache bool) (Cache, error)
	// Forward runs one forward pass over ctx (the current token window) and
	// returns per-position logits for the vocabulary, for the last position
	// only. contextIndex is the position offset of ctx within the full
	// sequence, needed by backends using rotary position embeddings.
	Forward(ctx context.Context, tokens []uint32, contextIndex int, cache Cache) ([]float32, error)
	// Device reports the compute device the backend was loaded onto.
	Device() Device
	// DType reports the backend's weight precision.
	DType() DType
	// UseKVCache reports whether the backend was configured to keep an
	// external KV cache across decode steps.
	UseKVCache() bool
	// EOSHandler returns the backend's end-of-sequence matcher.
	EOSHandler() EOSHandler
	// ClearKVCache resets any internal cache state and is idempotent.
	// Backends that keep no internal KV state across calls treat this as a
	// no-op.
	ClearKVCache() error
	// SupportsPersistentCache reports whether the backend keeps no KV state
	// across calls. When it is false, the backend's internal state is reused
	// across calls and the generation loop calls ClearKVCache before every
	// new generation.
	SupportsPersistentCache() bool
}
