package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// encodingForModel maps OpenAI model names to tiktoken encodings.
var encodingForModel = map[string]tokenizer.Encoding{
	"gpt-4.1":       tokenizer.O200kBase,
	"gpt-4.1-mini":  tokenizer.O200kBase,
	"gpt-4o":        tokenizer.O200kBase,
	"gpt-4o-mini":   tokenizer.O200kBase,
	"o1":            tokenizer.O200kBase,
	"o3-mini":       tokenizer.O200kBase,
	"gpt-4-turbo":   tokenizer.Cl100kBase,
	"gpt-4":         tokenizer.Cl100kBase,
	"gpt-3.5-turbo": tokenizer.Cl100kBase,
}

// messageOverhead approximates the role/formatting tokens each chat message costs.
const (
	messageOverhead = 4
	replyPriming    = 2
)

// Counter counts prompt tokens. Codecs are loaded lazily and shared.
type Counter struct {
	mu     sync.Mutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// Count returns the token count for text. The openai backend is counted
// exactly with tiktoken; every other backend uses a character estimate.
func (c *Counter) Count(text, backend, model string) (int64, error) {
	if backend != "openai" {
		return estimateTokens(text), nil
	}

	enc, ok := encodingForModel[model]
	if !ok {
		enc = tokenizer.Cl100kBase
	}
	codec, err := c.codec(enc)
	if err != nil {
		return 0, err
	}

	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}
	return int64(len(ids)), nil
}

// CountPrompt counts a system+user chat prompt including message overhead.
func (c *Counter) CountPrompt(system, user, backend, model string) (int64, error) {
	var total int64
	for _, content := range []string{system, user} {
		n, err := c.Count(content, backend, model)
		if err != nil {
			return 0, err
		}
		total += n + messageOverhead
	}
	return total + replyPriming, nil
}

func (c *Counter) codec(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if codec, ok := c.codecs[enc]; ok {
		return codec, nil
	}
	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", enc, err)
	}
	c.codecs[enc] = codec
	return codec, nil
}

// estimateTokens assumes 4 characters per token on average.
func estimateTokens(text string) int64 {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return 0
	}
	return int64((len(text) + 3) / 4)
}
