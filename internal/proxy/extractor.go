package proxy

import (
	"encoding/json"
	"strings"
)

// ExtractResult turns an assistant reply into the response result. Replies
// are usually JSON, sometimes wrapped in a Markdown code fence or surrounded
// by prose; anything that is not JSON is returned as {"narrative": text}.
func ExtractResult(reply string) any {
	text := strings.TrimSpace(reply)
	stripped := StripCodeFence(text)

	var v any
	if err := json.Unmarshal([]byte(stripped), &v); err == nil {
		return v
	}

	if obj, ok := embeddedObject(stripped); ok {
		if err := json.Unmarshal([]byte(obj), &v); err == nil {
			return v
		}
	}

	return map[string]any{"narrative": text}
}

// StripCodeFence removes a surrounding ``` or ```json fence.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		lang := strings.TrimSpace(text[:nl])
		if lang == "" || !strings.ContainsAny(lang, "{[\"") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// embeddedObject returns the outermost {...} span of text.
func embeddedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
