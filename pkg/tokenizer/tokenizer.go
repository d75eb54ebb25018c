package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// CountTokens provides a rough token count estimate.
func CountTokens(text string) int {
	// Rough estimate: ~4 chars per token for English
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return max(len(words)*4/3, 1)
}

var (
	encMu     sync.Mutex
	encodings = map[string]*tiktoken.Tiktoken{}
	failed    = map[string]bool{}
)

// CountTokensForModel returns the BPE token count for model when its
// encoding can be loaded, and the CountTokens estimate otherwise. Encodings
// are loaded once per model; a failed load is not retried.
func CountTokensForModel(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return CountTokens(text)
}

func encodingFor(model string) *tiktoken.Tiktoken {
	if model == "" {
		return nil
	}
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encodings[model]; ok {
		return enc
	}
	if failed[model] {
		return nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		failed[model] = true
		return nil
	}
	encodings[model] = enc
	return enc
}
