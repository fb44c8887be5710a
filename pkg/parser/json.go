package parser

import (
	"bytes"
	"encoding/json"
	"strings"

	errs "apiflow/pkg/errors"
)

// JSONParser parses json and rest-json responses.
type JSONParser struct{}

func (p *JSONParser) Parse(raw *RawResponse, shape *Shape) (map[string]any, error) {
	if raw.StatusCode >= 300 {
		return finish(raw, shape, map[string]any{"Error": p.parseError(raw)}), nil
	}

	doc := make(map[string]any)
	if raw.Stream == nil && len(bytes.TrimSpace(raw.Body)) > 0 {
		if err := json.Unmarshal(raw.Body, &doc); err != nil {
			return nil, &errs.ResponseParseError{StatusCode: raw.StatusCode, Protocol: "json", Err: err}
		}
	}
	return finish(raw, shape, doc), nil
}

func (p *JSONParser) parseError(raw *RawResponse) map[string]any {
	section := genericError(raw.StatusCode)

	var body map[string]any
	if err := json.Unmarshal(raw.Body, &body); err == nil {
		for _, key := range []string{"__type", "code", "Code"} {
			if v, ok := body[key].(string); ok && v != "" {
				section["Code"] = v
				break
			}
		}
		for _, key := range []string{"message", "Message", "errorMessage"} {
			if v, ok := body[key].(string); ok {
				section["Message"] = v
				break
			}
		}
	}

	if header := raw.Header.Get("X-Amzn-Errortype"); header != "" {
		code, _, _ := strings.Cut(header, ":")
		section["Code"] = code
	}
	if code, ok := section["Code"].(string); ok {
		if _, after, found := strings.Cut(code, "#"); found {
			section["Code"] = after
		}
	}
	return section
}
