package model

import (
	"encoding/json"
	"fmt"
)

// hfModelConfig is the subset of config.json this loader reads across both
// supported families. eos_token_id is untagged in the original: either a
// single integer or an array of integers.
type hfModelConfig struct {
	EOSTokenID json.RawMessage `json:"eos_token_id"`
}

func parseHFModelConfig(raw []byte) (hfModelConfig, error) {
	var cfg hfModelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return hfModelConfig{}, fmt.Errorf("model: parsing config.json: %w", err)
	}
	return cfg, nil
}

// eosHandler decides EOSHandler shape from the raw eos_token_id field: a
// bare number, an array of numbers, or absent entirely.
func (c hfModelConfig) eosHandler() (EOSHandler, error) {
	if len(c.EOSTokenID) == 0 {
		return NewNoneEOSHandler(), nil
	}

	var single uint32
	if err := json.Unmarshal(c.EOSTokenID, &single); err == nil {
		return NewSingleEOSHandler(single), nil
	}

	var multiple []uint32
	if err := json.Unmarshal(c.EOSTokenID, &multiple); err == nil {
		if len(multiple) == 0 {
			return NewNoneEOSHandler(), nil
		}
		return NewMultipleEOSHandler(multiple), nil
	}

	return EOSHandler{}, fmt.Errorf("model: eos_token_id is neither a number nor an array of numbers: %s", c.EOSTokenID)
}
