package pagetree

// Kind is the semantic role of a node. The built-in kinds form a closed set;
// any other non-empty value is a custom kind whose key was registered by a
// plugin through the component catalog.
type Kind string

const (
	KindCard      Kind = "card"
	KindHeader    Kind = "header"
	KindParagraph Kind = "paragraph"
	KindButton    Kind = "button"
	KindImage     Kind = "image"
	KindInput     Kind = "input"
	KindLink      Kind = "link"
	KindNavbar    Kind = "navbar"
	KindContainer Kind = "container"
)

type kindSpec struct {
	tag       string
	container bool
}

var builtinKinds = map[Kind]kindSpec{
	KindCard:      {tag: "div", container: true},
	KindHeader:    {tag: "h2"},
	KindParagraph: {tag: "p"},
	KindButton:    {tag: "button"},
	KindImage:     {tag: "img"},
	KindInput:     {tag: "input"},
	KindLink:      {tag: "a"},
	KindNavbar:    {tag: "nav", container: true},
	KindContainer: {tag: "section", container: true},
}

// IsBuiltin reports whether k is one of the built-in kinds.
func (k Kind) IsBuiltin() bool {
	_, ok := builtinKinds[k]
	return ok
}

// IsCustom reports whether k is a plugin-registered kind.
func (k Kind) IsCustom() bool {
	return k != "" && !k.IsBuiltin()
}

// AcceptsChildren reports whether other elements may be dropped inside a node
// of this kind. Custom kinds answer through their catalog entry instead.
func (k Kind) AcceptsChildren() bool {
	return builtinKinds[k].container
}

// DefaultTag is the tag used when a node carries no explicit tagName.
func (k Kind) DefaultTag() string {
	if s, ok := builtinKinds[k]; ok {
		return s.tag
	}
	return "div"
}
