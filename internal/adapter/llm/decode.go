package llm

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"dispatch-ai/internal/domain"
)

// DecodeGeneratedText extracts the generated text from a generic-inference
// response body. Upstreams are not consistent about the shape, so every one
// seen in practice is accepted:
//
//	[{"generated_text": "..."}, ...]  array; the first element wins
//	{"generated_text": "..."}         bare object
//	"..."                             JSON string
//	...                               non-JSON body, taken verbatim
//
// Any other JSON value (an error object, an empty array, a number) and an
// empty body are reported as domain.ErrMalformedResponse.
func DecodeGeneratedText(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty body", domain.ErrMalformedResponse)
	}

	if !gjson.Valid(trimmed) {
		return trimmed, nil
	}

	root := gjson.Parse(trimmed)
	switch {
	case root.IsArray():
		first := root.Get("0.generated_text")
		if first.Type == gjson.String {
			return first.String(), nil
		}
	case root.IsObject():
		text := root.Get("generated_text")
		if text.Type == gjson.String {
			return text.String(), nil
		}
	case root.Type == gjson.String:
		return root.String(), nil
	}

	return "", fmt.Errorf("%w: no generated_text in %s", domain.ErrMalformedResponse, truncate(body, maxLoggedBody))
}

// stripPromptEcho removes prompt from the start of text when the backend
// echoed it, then trims the whitespace that separated prompt and output.
func stripPromptEcho(text, prompt string) string {
	if prompt == "" || !strings.HasPrefix(text, prompt) {
		return text
	}
	return strings.TrimLeftFunc(text[len(prompt):], unicode.IsSpace)
}

// decodeInferenceText applies DecodeGeneratedText and echo stripping.
func decodeInferenceText(body []byte, prompt string) (string, error) {
	text, err := DecodeGeneratedText(body)
	if err != nil {
		return "", err
	}
	return stripPromptEcho(text, prompt), nil
}

// chatCandidateText returns candidates[0].content.parts[0].text, falling back
// to the raw body when that path is absent.
func chatCandidateText(body []byte) string {
	if text := gjson.GetBytes(body, "candidates.0.content.parts.0.text"); text.Exists() {
		return text.String()
	}
	return string(body)
}
