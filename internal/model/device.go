package model

import (
	"fmt"
	"runtime"
	"strings"

	"log/slog"
)

// ResolveDevice picks the compute device. This implementation never has a
// real CUDA or Metal runtime available, so it reports the device a real
// build would select (for config echoing and consistent log output) while
// the actual tensor math always executes on CPU slices.
func ResolveDevice() Device {
	switch runtime.GOOS {
	case "darwin":
		return DeviceMetal
	default:
		return DeviceCPU
	}
}

// ParseDType maps a config dtype string to a DType. Empty defaults to F16,
// matching the loader contract.
func ParseDType(dtype string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(dtype)) {
	case "", "f16":
		return DTypeF16, nil
	case "bf16":
		return DTypeBF16, nil
	case "f32":
		return DTypeF32, nil
	default:
		return "", fmt.Errorf("model: unsupported dtype %q", dtype)
	}
}

// ResolveFlashAttn decides whether flash attention is actually honored.
// Flash attention is CUDA-only; Metal silently disables it with a warning,
// CPU silently disables it without one (there is nothing to warn about on a
// device that never had acceleration to begin with).
func ResolveFlashAttn(logger *slog.Logger, requested bool, device Device) bool {
	switch device {
	case DeviceCUDA:
		return requested
	case DeviceMetal:
		if requested && logger != nil {
			logger.Warn("flash attention is not supported on Metal, disabling")
		}
		return false
	default:
		return false
	}
}
