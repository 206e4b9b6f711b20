package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"shortlist/pkg/llmerrors"
)

// ErrNoJSON is returned when a response carries no parseable JSON document.
var ErrNoJSON = errors.New("no JSON document in response")

// CompleteJSON runs req and decodes the first JSON object or array in the response into out.
// Markdown code fences around the document are tolerated.
func CompleteJSON(ctx context.Context, client LLMClient, req CompletionRequest, out any) error {
	req.JSON = true
	if req.Temperature == 0 {
		req.Temperature = TemperatureExtraction
	}

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty structured response")
	}
	return DecodeJSON(resp.Content, out)
}

// DecodeJSON extracts and decodes the first JSON value embedded in text.
func DecodeJSON(text string, out any) error {
	doc := ExtractJSON(text)
	if doc == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("decode structured response: %w", err)
	}
	return nil
}

// ExtractJSON returns the first balanced {...} or [...] block in text, or "".
func ExtractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}

	open := text[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
