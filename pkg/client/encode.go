package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	errs "apiflow/pkg/errors"
	"apiflow/pkg/parser"
	"apiflow/pkg/request"
)

// JSON protocol content types.
const (
	contentTypeJSON     = "application/x-amz-json-1.0"
	contentTypeRESTJSON = "application/json"
	contentTypeForm     = "application/x-www-form-urlencoded; charset=utf-8"
)

// BuildSpec encodes params as a request for operation in the client's
// protocol. rest-json posts params as a JSON document and rest-xml sends
// them as query parameters of a GET, both to "/".
func (c *Client) BuildSpec(operation string, params map[string]any) (*request.Spec, error) {
	cfg := c.config.Client
	switch cfg.Protocol {
	case parser.ProtocolJSON, parser.ProtocolRestJSON:
		body, err := json.Marshal(nonNil(params))
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", operation, err)
		}
		spec := &request.Spec{
			Method: http.MethodPost,
			Path:   "/",
			Header: http.Header{},
			Body:   request.Bytes(body),
		}
		if cfg.Protocol == parser.ProtocolJSON {
			spec.Header.Set("Content-Type", contentTypeJSON)
			if cfg.TargetPrefix != "" {
				spec.Header.Set("X-Amz-Target", cfg.TargetPrefix+"."+operation)
			}
		} else {
			spec.Header.Set("Content-Type", contentTypeRESTJSON)
		}
		return spec, nil

	case parser.ProtocolQuery, parser.ProtocolEC2:
		form := url.Values{}
		form.Set("Action", operation)
		if cfg.APIVersion != "" {
			form.Set("Version", cfg.APIVersion)
		}
		for _, k := range sortedKeys(params) {
			flatten(form, k, params[k], cfg.Protocol == parser.ProtocolEC2)
		}
		return &request.Spec{
			Method: http.MethodPost,
			Path:   "/",
			Header: http.Header{"Content-Type": {contentTypeForm}},
			Body:   request.String(form.Encode()),
		}, nil

	case parser.ProtocolRestXML:
		query := url.Values{}
		for _, k := range sortedKeys(params) {
			flatten(query, k, params[k], true)
		}
		return &request.Spec{Method: http.MethodGet, Path: "/", Query: query}, nil

	default:
		return nil, &errs.ConfigurationError{Source: "client", Msg: fmt.Sprintf("unsupported protocol %q", cfg.Protocol)}
	}
}

// flatten writes v under prefix using query protocol serialization: lists
// become prefix.member.N (prefix.N for ec2) and maps become prefix.key.
func flatten(out url.Values, prefix string, v any, ec2 bool) {
	switch val := v.(type) {
	case nil:
	case map[string]any:
		for _, k := range sortedKeys(val) {
			flatten(out, prefix+"."+k, val[k], ec2)
		}
	case []any:
		for i, el := range val {
			key := fmt.Sprintf("%s.member.%d", prefix, i+1)
			if ec2 {
				key = fmt.Sprintf("%s.%d", prefix, i+1)
			}
			flatten(out, key, el, ec2)
		}
	case string:
		out.Set(prefix, val)
	case bool:
		out.Set(prefix, strconv.FormatBool(val))
	case float64:
		out.Set(prefix, strconv.FormatFloat(val, 'f', -1, 64))
	default:
		out.Set(prefix, fmt.Sprint(val))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
