package pagetree

import (
	"bufio"
	"html"
	"io"
	"slices"
	"strings"
	"unicode"
)

var voidTags = map[string]bool{"img": true, "input": true, "br": true, "hr": true}

// Render writes the page as HTML. Children are authoritative over content;
// content is owner-authored markup and is written as-is, while attribute
// values are escaped.
func Render(w io.Writer, nodes []*Node) error {
	bw := bufio.NewWriter(w)
	for _, n := range nodes {
		renderNode(bw, n)
	}
	return bw.Flush()
}

// RenderString is Render into a string.
func RenderString(nodes []*Node) string {
	var sb strings.Builder
	_ = Render(&sb, nodes)
	return sb.String()
}

func renderNode(w *bufio.Writer, n *Node) {
	if n == nil {
		return
	}
	tag := tagFor(n)
	w.WriteString("<" + tag)
	if n.ID != "" {
		attr(w, "id", n.ID)
	}
	if n.Type != "" {
		attr(w, "data-type", string(n.Type))
	}
	if css := StyleAttr(n.Styles); css != "" {
		attr(w, "style", css)
	}
	if n.Src != "" {
		attr(w, "src", n.Src)
	}
	if n.Href != "" {
		attr(w, "href", n.Href)
	}
	if n.Placeholder != "" {
		attr(w, "placeholder", n.Placeholder)
	}
	if n.OnClick != "" {
		attr(w, "onclick", n.OnClick)
	}
	w.WriteString(">")
	if voidTags[tag] {
		return
	}
	if len(n.Children) > 0 {
		for _, c := range n.Children {
			renderNode(w, c)
		}
	} else {
		w.WriteString(n.Content)
	}
	w.WriteString("</" + tag + ">")
}

func attr(w *bufio.Writer, name, value string) {
	w.WriteString(" " + name + `="` + html.EscapeString(value) + `"`)
}

func tagFor(n *Node) string {
	tag := strings.ToLower(strings.TrimSpace(n.TagName))
	if tag == "" {
		return n.Type.DefaultTag()
	}
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return n.Type.DefaultTag()
		}
	}
	return tag
}

// StyleAttr converts a style map to an inline CSS declaration list with
// sorted, kebab-cased property names.
func StyleAttr(styles map[string]string) string {
	if len(styles) == 0 {
		return ""
	}
	keys := make([]string, 0, len(styles))
	for k := range styles {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var sb strings.Builder
	for _, k := range keys {
		v := styles[k]
		if v == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(kebab(k))
		sb.WriteString(": ")
		sb.WriteString(v)
		sb.WriteByte(';')
	}
	return sb.String()
}

func kebab(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsUpper(r) {
			sb.WriteByte('-')
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
