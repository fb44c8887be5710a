package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	errs "apiflow/pkg/errors"
)

// XMLParser parses query, ec2 and rest-xml responses into generic
// documents. Elements whose children are all <member> or <item> become
// lists.
type XMLParser struct{}

func (p *XMLParser) Parse(raw *RawResponse, shape *Shape) (map[string]any, error) {
	if raw.Stream != nil {
		return finish(raw, shape, nil), nil
	}

	var root *xmlNode
	if len(bytes.TrimSpace(raw.Body)) > 0 {
		var err error
		root, err = decodeXML(raw.Body)
		if err != nil {
			if raw.StatusCode >= 300 {
				return finish(raw, shape, map[string]any{"Error": genericError(raw.StatusCode)}), nil
			}
			return nil, &errs.ResponseParseError{StatusCode: raw.StatusCode, Protocol: "xml", Err: err}
		}
	}

	if raw.StatusCode >= 300 || (root != nil && root.name == "Error") {
		return finish(raw, shape, p.parseError(raw, root)), nil
	}
	if root == nil {
		return finish(raw, shape, nil), nil
	}

	doc, _ := root.value().(map[string]any)
	if doc == nil {
		doc = make(map[string]any)
	}
	if wrapper := resultWrapper(doc, shape); wrapper != "" {
		inner, _ := doc[wrapper].(map[string]any)
		if inner == nil {
			inner = make(map[string]any)
		}
		if md, ok := doc["ResponseMetadata"]; ok {
			inner["ResponseMetadata"] = md
		}
		doc = inner
	}
	return finish(raw, shape, doc), nil
}

func resultWrapper(doc map[string]any, shape *Shape) string {
	if shape != nil && shape.ResultWrapper != "" {
		return shape.ResultWrapper
	}
	found := ""
	for k := range doc {
		if strings.HasSuffix(k, "Result") {
			if found != "" {
				return ""
			}
			found = k
		}
	}
	return found
}

func (p *XMLParser) parseError(raw *RawResponse, root *xmlNode) map[string]any {
	section := genericError(raw.StatusCode)
	doc := make(map[string]any)
	if root == nil {
		doc["Error"] = section
		return doc
	}

	if errNode := root.find("Error"); errNode != nil {
		if code := errNode.childText("Code"); code != "" {
			section["Code"] = code
		}
		if msg := errNode.childText("Message"); msg != "" {
			section["Message"] = msg
		}
		for _, c := range errNode.children {
			if c.name != "Code" && c.name != "Message" && len(c.children) == 0 {
				section[c.name] = strings.TrimSpace(c.text.String())
			}
		}
	}
	doc["Error"] = section

	for _, key := range []string{"RequestId", "RequestID"} {
		if n := root.find(key); n != nil {
			doc["ResponseMetadata"] = map[string]any{"RequestId": strings.TrimSpace(n.text.String())}
			break
		}
	}
	return doc
}

type xmlNode struct {
	name     string
	text     strings.Builder
	children []*xmlNode
}

func decodeXML(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*xmlNode
	var root *xmlNode

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

func (n *xmlNode) isList() bool {
	if len(n.children) == 0 {
		return false
	}
	first := n.children[0].name
	if first != "member" && first != "item" {
		return false
	}
	for _, c := range n.children {
		if c.name != first {
			return false
		}
	}
	return true
}

func (n *xmlNode) value() any {
	if len(n.children) == 0 {
		return strings.TrimSpace(n.text.String())
	}
	if n.isList() {
		list := make([]any, 0, len(n.children))
		for _, c := range n.children {
			list = append(list, c.value())
		}
		return list
	}

	repeated := repeatedNames(n.children)
	out := make(map[string]any, len(n.children))
	for _, c := range n.children {
		if _, ok := repeated[c.name]; ok {
			list, _ := out[c.name].([]any)
			out[c.name] = append(list, c.value())
			continue
		}
		out[c.name] = c.value()
	}
	return out
}

// repeatedNames returns the names that occur more than once among children.
func repeatedNames(children []*xmlNode) map[string]struct{} {
	seen := make(map[string]int, len(children))
	for _, c := range children {
		seen[c.name]++
	}
	out := make(map[string]struct{})
	for name, n := range seen {
		if n > 1 {
			out[name] = struct{}{}
		}
	}
	return out
}

// find returns n or its first descendant named name, depth first.
func (n *xmlNode) find(name string) *xmlNode {
	if n.name == name {
		return n
	}
	for _, c := range n.children {
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

func (n *xmlNode) childText(name string) string {
	for _, c := range n.children {
		if c.name == name {
			return strings.TrimSpace(c.text.String())
		}
	}
	return ""
}
