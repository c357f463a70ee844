package model

import (
	"encoding/json"
	"fmt"

	"github.com/nikolalohinski/gonja"

	"github.com/cylonrun/cylon/internal/rpc"
)

// chatTemplate renders a conversation through a model's Jinja2-compatible
// chat template (tokenizer_config.json's chat_template field), the same
// templating contract HuggingFace tokenizers use.
type chatTemplate struct {
	source   string
	bosToken string
}

// render applies the template to messages, injecting bos_token and forcing
// add_generation_prompt so the rendered text ends on the assistant's turn.
func (c chatTemplate) render(messages []rpc.Message) (string, error) {
	tpl, err := gonja.FromString(c.source)
	if err != nil {
		return "", fmt.Errorf("model: parsing chat template: %w", err)
	}

	rendered, err := tpl.Execute(gonja.Context{
		"messages":              messagesToContext(messages),
		"bos_token":             c.bosToken,
		"add_generation_prompt": true,
	})
	if err != nil {
		return "", fmt.Errorf("model: executing chat template: %w", err)
	}
	return rendered, nil
}

// messagesToContext converts rpc.Message values into the role/content-keyed
// maps chat templates expect.
func messagesToContext(messages []rpc.Message) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, m := range messages {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}

// tokenizerConfig is the subset of tokenizer_config.json this loader reads.
type tokenizerConfig struct {
	BosToken     string `json:"bos_token"`
	ChatTemplate string `json:"chat_template"`
}

func parseTokenizerConfig(raw []byte) (tokenizerConfig, error) {
	var cfg tokenizerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return tokenizerConfig{}, fmt.Errorf("model: parsing tokenizer_config.json: %w", err)
	}
	if cfg.ChatTemplate == "" {
		return tokenizerConfig{}, fmt.Errorf("model: tokenizer_config.json has no chat_template")
	}
	return cfg, nil
}
