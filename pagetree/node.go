package pagetree

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// Node is one element of a page tree. A node is a leaf (no children, content
// may be set) or a container; when both are present the children win.
type Node struct {
	ID          string            `json:"id,omitempty"`
	Type        Kind              `json:"type,omitempty"`
	TagName     string            `json:"tagName,omitempty"`
	Styles      map[string]string `json:"styles,omitempty"`
	Content     string            `json:"content,omitempty"`
	Children    []*Node           `json:"children,omitempty"`
	Src         string            `json:"src,omitempty"`
	Href        string            `json:"href,omitempty"`
	Placeholder string            `json:"placeholder,omitempty"`
	OnClick     string            `json:"onclick,omitempty"`

	// Props holds extra string attributes set by plugin controls
	// (for example an API key or a layout choice). They are stored inline
	// next to the known fields in the serialized form.
	Props map[string]string `json:"-"`
	// Extra keeps inline keys whose values are not strings, verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownFields = map[string]bool{
	"id": true, "type": true, "tagName": true, "styles": true, "content": true,
	"children": true, "src": true, "href": true, "placeholder": true, "onclick": true,
}

type nodeAlias Node

// nodeWire decodes styles loosely: numeric and boolean values become their
// text form.
type nodeWire struct {
	nodeAlias
	Styles map[string]json.RawMessage `json:"styles,omitempty"`
}

// UnmarshalJSON decodes the known fields, keeps other string-valued keys in
// Props and every other unknown key in Extra.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	a := w.nodeAlias
	a.Styles = nil
	for k, v := range w.Styles {
		if text, ok := scalarText(v); ok {
			if a.Styles == nil {
				a.Styles = make(map[string]string, len(w.Styles))
			}
			a.Styles[k] = text
		}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if a.Props == nil {
				a.Props = make(map[string]string)
			}
			a.Props[k] = s
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]json.RawMessage)
		}
		a.Extra[k] = v
	}
	*n = Node(a)
	return nil
}

// scalarText returns a JSON string, number or boolean as text. Null, objects
// and arrays are rejected.
func scalarText(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

// MarshalJSON writes the known fields plus Props and Extra flattened into the
// object.
func (n Node) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(nodeAlias(n))
	if err != nil {
		return nil, err
	}
	if len(n.Props) == 0 && len(n.Extra) == 0 {
		return base, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(base, &obj); err != nil {
		return nil, err
	}
	for k, v := range n.Extra {
		if !knownFields[k] && json.Valid(v) {
			obj[k] = v
		}
	}
	for k, v := range n.Props {
		if knownFields[k] {
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = enc
	}
	return json.Marshal(obj)
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// SetStyle sets a style property, allocating the map if needed.
func (n *Node) SetStyle(key, value string) {
	if n.Styles == nil {
		n.Styles = make(map[string]string)
	}
	n.Styles[key] = value
}

// SetProp sets a plugin property, allocating the map if needed.
func (n *Node) SetProp(key, value string) {
	if n.Props == nil {
		n.Props = make(map[string]string)
	}
	n.Props[key] = value
}

// Prop returns a plugin property or "".
func (n *Node) Prop(key string) string { return n.Props[key] }

// Clone returns a deep copy of n. Plugins clone before editing nested
// children so they never alias the live tree.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Styles = maps.Clone(n.Styles)
	cp.Props = maps.Clone(n.Props)
	cp.Extra = maps.Clone(n.Extra)
	cp.Children = CloneAll(n.Children)
	return &cp
}

// CloneAll deep-copies a node slice.
func CloneAll(nodes []*Node) []*Node {
	if nodes == nil {
		return nil
	}
	out := make([]*Node, len(nodes))
	for i, c := range nodes {
		out[i] = Clone(c)
	}
	return out
}

// Parse decodes a stored page. The document is either one root node or an
// array of root-level nodes. An empty document is an empty page.
func Parse(doc string) ([]*Node, error) {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return nil, nil
	}
	if strings.HasPrefix(doc, "{") {
		var root Node
		if err := json.Unmarshal([]byte(doc), &root); err != nil {
			return nil, fmt.Errorf("parse page tree: %w", err)
		}
		return []*Node{&root}, nil
	}
	var nodes []*Node
	if err := json.Unmarshal([]byte(doc), &nodes); err != nil {
		return nil, fmt.Errorf("parse page tree: %w", err)
	}
	return nodes, nil
}

// Serialize encodes the whole page as its storage string.
func Serialize(nodes []*Node) (string, error) {
	if nodes == nil {
		nodes = []*Node{}
	}
	b, err := json.Marshal(nodes)
	if err != nil {
		return "", fmt.Errorf("serialize page tree: %w", err)
	}
	return string(b), nil
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomSuffix returns n random lowercase alphanumeric characters.
func RandomSuffix(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return string(b)
}

// NewID returns a fresh node id such as "img_k3j9x0a1q".
func NewID(prefix string) string {
	if prefix == "" {
		prefix = "el"
	}
	return prefix + "_" + RandomSuffix(9)
}
