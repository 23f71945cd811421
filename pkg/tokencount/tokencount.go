// Package tokencount estimates token counts for text sent to upstream
// AI providers. It uses tiktoken encodings when the model is known and
// falls back to a character heuristic otherwise.
package tokencount

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/meterline/meterline/domain/pricing"
)

var (
	mu     sync.Mutex
	codecs = map[tokenizer.Encoding]tokenizer.Codec{}
)

func codecFor(model string) (tokenizer.Codec, bool) {
	enc := encodingFor(model)

	mu.Lock()
	defer mu.Unlock()
	if c, ok := codecs[enc]; ok {
		return c, true
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, false
	}
	codecs[enc] = c
	return c, true
}

func encodingFor(model string) tokenizer.Encoding {
	// Strip provider prefixes like "openai/" used by OpenRouter.
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "gpt-4.1"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}

// CountText returns the token count of text for a model. When no
// encoding is available the estimate is ceil(len/4) characters per
// token, matching the provider-side heuristic for voice transcripts.
func CountText(model, text string) int64 {
	if text == "" {
		return 0
	}
	if codec, ok := codecFor(model); ok {
		if n, err := codec.Count(text); err == nil {
			return int64(n)
		}
	}
	return pricing.CharacterTokens(int64(len(text)))
}
