package pagetree

import (
	"reflect"
	"strings"
	"testing"
)

func sampleTree() []*Node {
	return []*Node{
		{
			ID:      "card_1",
			Type:    KindCard,
			TagName: "div",
			Styles:  map[string]string{"padding": "10px", "backgroundColor": "#fff"},
			Children: []*Node{
				{ID: "h_1", Type: KindHeader, TagName: "h2", Content: "Hello"},
				{ID: "img_1", Type: KindImage, TagName: "img", Src: "/uploads/a.png"},
			},
		},
		{
			ID:      "ai_1",
			Type:    Kind("gemini-ai"),
			Content: "generated",
			Props:   map[string]string{"apiKey": "k-123", "layoutType": "profile"},
		},
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	tree := sampleTree()
	doc, err := Serialize(tree)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	parsed, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(tree, parsed) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", parsed, tree)
	}
	if !strings.Contains(doc, `"apiKey":"k-123"`) {
		t.Errorf("expected props flattened into node object, got %s", doc)
	}
}

func TestParseSingleRootAndEmpty(t *testing.T) {
	nodes, err := Parse(`{"id":"root","type":"container","children":[{"id":"p","type":"paragraph","content":"x"}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "root" || len(nodes[0].Children) != 1 {
		t.Fatalf("unexpected parse result: %+v", nodes)
	}

	nodes, err = Parse("  ")
	if err != nil {
		t.Fatalf("Parse empty: %v", err)
	}
	if nodes != nil {
		t.Fatalf("expected nil page for empty document, got %+v", nodes)
	}

	if _, err := Parse("{broken"); err == nil {
		t.Fatal("expected error for malformed document")
	}
}

func TestParseKeepsUnknownStringKeys(t *testing.T) {
	nodes, err := Parse(`[{"id":"x","type":"btn-preset","variant":"primary","count":3}]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := nodes[0].Prop("variant"); got != "primary" {
		t.Errorf("expected variant=primary, got %q", got)
	}
	if _, ok := nodes[0].Props["count"]; ok {
		t.Error("non-string extra keys must not land in Props")
	}
	if string(nodes[0].Extra["count"]) != "3" {
		t.Errorf("expected count kept verbatim, got %q", nodes[0].Extra["count"])
	}
	if !nodes[0].Type.IsCustom() {
		t.Error("btn-preset should be a custom kind")
	}
}

func TestParseNonStringValues(t *testing.T) {
	doc := `[{"id":"x","type":"card","styles":{"zIndex":10,"opacity":0.5,"visible":true,"bad":null,"nested":{"a":1}},` +
		`"rating":4.5,"tags":["a","b"],"meta":{"k":"v"},"label":"ok"}]`
	nodes, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n := nodes[0]
	want := map[string]string{"zIndex": "10", "opacity": "0.5", "visible": "true"}
	if !reflect.DeepEqual(n.Styles, want) {
		t.Errorf("styles = %v, want %v", n.Styles, want)
	}
	if n.Prop("label") != "ok" {
		t.Errorf("label prop = %q", n.Prop("label"))
	}

	out, err := Serialize(nodes)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	for _, frag := range []string{`"rating":4.5`, `"tags":["a","b"]`, `"meta":{"k":"v"}`, `"label":"ok"`, `"zIndex":"10"`} {
		if !strings.Contains(out, frag) {
			t.Errorf("serialized node missing %s: %s", frag, out)
		}
	}

	cp := Clone(n)
	cp.Extra["rating"] = []byte("1")
	if string(n.Extra["rating"]) != "4.5" {
		t.Error("clone shares extra map with original")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	tree := sampleTree()
	cp := Clone(tree[0])
	cp.Styles["padding"] = "0px"
	cp.Children[0].Content = "changed"
	cp.Children = append(cp.Children, &Node{ID: "new"})

	if tree[0].Styles["padding"] != "10px" {
		t.Error("clone shares styles map with original")
	}
	if tree[0].Children[0].Content != "Hello" {
		t.Error("clone shares child nodes with original")
	}
	if len(tree[0].Children) != 2 {
		t.Error("clone shares children slice with original")
	}

	all := CloneAll(tree)
	all[1].Props["apiKey"] = "other"
	if tree[1].Props["apiKey"] != "k-123" {
		t.Error("CloneAll shares props with original")
	}
}

func TestKind(t *testing.T) {
	if !KindCard.AcceptsChildren() || KindParagraph.AcceptsChildren() {
		t.Error("unexpected AcceptsChildren for built-in kinds")
	}
	if KindImage.DefaultTag() != "img" {
		t.Errorf("expected img tag, got %s", KindImage.DefaultTag())
	}
	if Kind("card-preset").DefaultTag() != "div" {
		t.Error("custom kinds default to div")
	}
	if Kind("").IsCustom() {
		t.Error("empty kind is not custom")
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID("img"), NewID("img")
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if !strings.HasPrefix(a, "img_") || len(a) != len("img_")+9 {
		t.Errorf("unexpected id shape %q", a)
	}
}
