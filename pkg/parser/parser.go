// Package parser converts raw HTTP responses into generic response
// documents keyed by wire protocol.
package parser

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Protocol identifiers understood by the default factory.
const (
	ProtocolJSON     = "json"
	ProtocolRestJSON = "rest-json"
	ProtocolQuery    = "query"
	ProtocolEC2      = "ec2"
	ProtocolRestXML  = "rest-xml"
)

// RawResponse is an HTTP response with its body fully read. Streaming
// responses carry Stream instead of Body.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     *StreamingBody
}

// Shape describes what the caller expects in a successful response.
type Shape struct {
	// ResultWrapper names an element that wraps the result, as query
	// protocol responses do ("DescribeStacksResult").
	ResultWrapper string
	// Payload is the member that receives the streaming body.
	Payload string
}

// Parser turns a RawResponse into a document. Error responses produce an
// "Error" map with "Code" and "Message". Every document carries a
// "ResponseMetadata" map with "HTTPStatusCode", "RequestId" and
// "HTTPHeaders".
type Parser interface {
	Parse(raw *RawResponse, shape *Shape) (map[string]any, error)
}

// Factory hands out parsers by protocol.
type Factory struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewFactory returns a factory with the JSON and XML protocols registered.
func NewFactory() *Factory {
	f := &Factory{parsers: make(map[string]Parser)}
	jsonParser := &JSONParser{}
	xmlParser := &XMLParser{}
	f.Register(ProtocolJSON, jsonParser)
	f.Register(ProtocolRestJSON, jsonParser)
	f.Register(ProtocolQuery, xmlParser)
	f.Register(ProtocolEC2, xmlParser)
	f.Register(ProtocolRestXML, xmlParser)
	return f
}

// Register installs p for protocol, replacing any previous parser.
func (f *Factory) Register(protocol string, p Parser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parsers[protocol] = p
}

// Parser returns the parser for protocol.
func (f *Factory) Parser(protocol string) (Parser, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.parsers[protocol]
	if !ok {
		return nil, fmt.Errorf("unknown protocol: %q", protocol)
	}
	return p, nil
}

func responseMetadata(raw *RawResponse) map[string]any {
	headers := make(map[string]any, len(raw.Header))
	for k, vs := range raw.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ",")
	}
	md := map[string]any{
		"HTTPStatusCode": raw.StatusCode,
		"HTTPHeaders":    headers,
	}
	for _, h := range []string{"X-Amzn-Requestid", "X-Amz-Request-Id", "X-Amzn-Request-Id"} {
		if id := raw.Header.Get(h); id != "" {
			md["RequestId"] = id
			break
		}
	}
	if hostID := raw.Header.Get("X-Amz-Id-2"); hostID != "" {
		md["HostId"] = hostID
	}
	return md
}

// genericError fills in an error section for bodies that carried none.
func genericError(status int) map[string]any {
	return map[string]any{
		"Code":    fmt.Sprintf("%d", status),
		"Message": http.StatusText(status),
	}
}

func finish(raw *RawResponse, shape *Shape, doc map[string]any) map[string]any {
	if doc == nil {
		doc = make(map[string]any)
	}
	if raw.Stream != nil && shape != nil && shape.Payload != "" {
		doc[shape.Payload] = raw.Stream
	}
	md := responseMetadata(raw)
	if existing, ok := doc["ResponseMetadata"].(map[string]any); ok {
		for k, v := range existing {
			if _, set := md[k]; !set {
				md[k] = v
			}
		}
	}
	doc["ResponseMetadata"] = md
	return doc
}
