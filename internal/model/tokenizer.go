package model

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// vocabTokenizer wraps the CGO HuggingFace tokenizers binding behind the
// plain []uint32 shape the generation loop and Backend interface use.
type vocabTokenizer struct {
	tok *tokenizers.Tokenizer
}

func newVocabTokenizer(tokenizerJSONPath string) (*vocabTokenizer, error) {
	tok, err := tokenizers.FromFile(tokenizerJSONPath)
	if err != nil {
		return nil, fmt.Errorf("model: loading tokenizer from %s: %w", tokenizerJSONPath, err)
	}
	return &vocabTokenizer{tok: tok}, nil
}

func (v *vocabTokenizer) Close() error {
	return v.tok.Close()
}

func (v *vocabTokenizer) Encode(text string) []uint32 {
	ids, _ := v.tok.Encode(text, true)
	return ids
}

func (v *vocabTokenizer) Decode(tokens []uint32) string {
	return v.tok.Decode(tokens, true)
}
