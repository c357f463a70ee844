// Package generation drives the autoregressive token-by-token decoding loop:
// prefill, then decode steps that alternate forward pass, repeat-penalty
// shaping, sampling, and an end-of-sequence check.
package generation

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/cylonrun/cylon/internal/model"
	"github.com/cylonrun/cylon/internal/sampling"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

// Config is the immutable, process-wide generation configuration.
type Config struct {
	Sampling      sampling.Config
	RepeatPenalty float32
	RepeatLastN   int
	SampleLen     int
	EnableKVCache bool
}

// State is the ephemeral, per-generation bookkeeping the loop threads
// through its iterations. It is exported for callers that want to inspect
// progress (e.g. a future streaming surface); the generation loop itself
// only needs the fields it reads and writes internally.
type State struct {
	Tokens        []uint32
	TokensEmitted int
}

// Run executes the generation loop against backend, starting from initial
// tokens, for at most cfg.SampleLen forward passes or until backend's EOS
// handler matches, whichever comes first. It returns the newly generated
// token ids only, excluding the prompt tokens in initial.
func Run(ctx context.Context, logger *slog.Logger, backend model.Backend, initial []uint32, cfg Config) ([]uint32, error) {
	if cfg.SampleLen < 1 {
		return nil, servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("sample_len must be >= 1, got %d", cfg.SampleLen))
	}

	// Qwen-family backends (and any other backend without a persistent
	// internal cache) must have their KV state cleared before a new
	// generation begins, since their use_kv_cache is always false and their
	// state would otherwise bleed across unrelated requests.
	if !backend.SupportsPersistentCache() {
		if err := backend.ClearKVCache(); err != nil {
			return nil, servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("clearing kv cache before generation: %w", err))
		}
	}

	cache, err := backend.CreateCache(cfg.EnableKVCache)
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("creating kv cache: %w", err))
	}

	processor := sampling.NewProcessor(cfg.Sampling)

	state := &State{Tokens: append([]uint32(nil), initial...)}
	output := make([]uint32, 0, cfg.SampleLen)

	prefillStart := time.Now()
	var decodeStart time.Time

	for index := 0; index < cfg.SampleLen; index++ {
		select {
		case <-ctx.Done():
			return output, ctx.Err()
		default:
		}

		useKVCache := backend.UseKVCache() && cfg.EnableKVCache

		// Defensive clear: when the backend does not use an external KV
		// cache, every forward pass must start from a clean internal state
		// rather than accumulating across iterations.
		if !useKVCache {
			if err := backend.ClearKVCache(); err != nil {
				return output, servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("clearing kv cache before forward pass: %w", err))
			}
		}

		contextSize, contextIndex := prefillOrDecodeWindow(useKVCache, index, len(state.Tokens))
		ctxt := state.Tokens[len(state.Tokens)-contextSize:]

		forwardStart := time.Now()
		logits, err := backend.Forward(ctx, ctxt, contextIndex, cache)
		if err != nil {
			return output, servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("forward pass at index %d: %w", index, err))
		}
		forwardElapsed := time.Since(forwardStart)

		if cfg.RepeatPenalty != 1.0 {
			startAt := len(state.Tokens) - cfg.RepeatLastN
			if startAt < 0 {
				startAt = 0
			}
			logits = sampling.ApplyRepeatPenalty(logits, cfg.RepeatPenalty, state.Tokens[startAt:])
		}

		next, err := processor.Sample(logits)
		if err != nil {
			return output, servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("sampling at index %d: %w", index, err))
		}

		state.Tokens = append(state.Tokens, next)
		output = append(output, next)
		state.TokensEmitted++

		if decodeStart.IsZero() {
			decodeStart = time.Now()
		}

		if logger != nil && (index < 3 || index%50 == 0) {
			logger.Debug("generation step",
				"index", index, "context_size", contextSize, "context_index", contextIndex,
				"forward_elapsed", forwardElapsed)
		}

		if backend.EOSHandler().IsEOS(next) {
			break
		}
	}

	if logger != nil {
		total := time.Since(prefillStart)
		logger.Debug("generation complete", "tokens_generated", len(output), "total_elapsed", total)
	}

	return output, nil
}

// prefillOrDecodeWindow picks the (context_size, context_index) pair for
// iteration index: a single-token decode window once the KV cache is
// enabled and warmed up by a prior iteration, otherwise the full prefill
// window starting at position 0.
func prefillOrDecodeWindow(useKVCache bool, index, totalTokens int) (contextSize, contextIndex int) {
	if useKVCache && index > 0 {
		return 1, totalTokens - 1
	}
	return totalTokens, 0
}
