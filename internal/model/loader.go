package model

import (
	"fmt"
	"log/slog"

	"github.com/cylonrun/cylon/internal/config"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

// Load constructs the Backend named by cfg.Model.Family, resolving dtype and
// the flash-attention platform gate along the way. Unknown families fail at
// startup, matching the loader contract.
func Load(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	dtype, err := ParseDType(cfg.Model.Dtype)
	if err != nil {
		return nil, servingerrors.Wrap(servingerrors.ErrConfigInvalid, err)
	}

	device := ResolveDevice()
	useFlashAttn := ResolveFlashAttn(logger, cfg.Model.UseFlashAttn, device)
	if logger != nil {
		logger.Info("loading model",
			"family", cfg.Model.Family,
			"path", cfg.Model.Path,
			"device", device,
			"dtype", dtype,
			"flash_attn", useFlashAttn,
		)
	}

	switch cfg.Model.Family {
	case "llama":
		return LoadLlama(cfg.Model.Path, dtype, cfg.Model.EnableKVCache)
	case "qwen":
		return LoadQwen(cfg.Model.Path, dtype)
	default:
		return nil, servingerrors.Wrap(servingerrors.ErrConfigInvalid, fmt.Errorf("unsupported model family %q", cfg.Model.Family))
	}
}
