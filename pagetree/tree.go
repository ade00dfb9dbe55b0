package pagetree

// Walk visits every node depth-first in document order. fn receives the
// node and its parent (nil at the root level); returning false stops the walk.
func Walk(nodes []*Node, fn func(n, parent *Node) bool) {
	walk(nodes, nil, fn)
}

func walk(nodes []*Node, parent *Node, fn func(n, parent *Node) bool) bool {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if !fn(n, parent) {
			return false
		}
		if !walk(n.Children, n, fn) {
			return false
		}
	}
	return true
}

// Find returns the first node in depth-first order satisfying pred.
func Find(nodes []*Node, pred func(*Node) bool) *Node {
	var found *Node
	Walk(nodes, func(n, _ *Node) bool {
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindByID returns the node with the given id.
func FindByID(nodes []*Node, id string) *Node {
	if id == "" {
		return nil
	}
	return Find(nodes, func(n *Node) bool { return n.ID == id })
}

// FindByStyle returns the first node whose style key equals value. Plugins use
// it to locate subtrees they tagged with a marker style.
func FindByStyle(nodes []*Node, key, value string) *Node {
	return Find(nodes, func(n *Node) bool {
		v, ok := n.Styles[key]
		return ok && v == value
	})
}

// FindParent returns the parent of the node with the given id, or nil when the
// node sits at the root level or does not exist.
func FindParent(nodes []*Node, id string) *Node {
	var parent *Node
	Walk(nodes, func(n, p *Node) bool {
		if n.ID == id {
			parent = p
			return false
		}
		return true
	})
	return parent
}

// ReplaceChildren swaps the node's whole child list.
func ReplaceChildren(n *Node, children []*Node) {
	n.Children = children
}

// Remove deletes the node with the given id together with its subtree and
// returns the resulting root slice.
func Remove(nodes []*Node, id string) ([]*Node, bool) {
	for i, n := range nodes {
		if n == nil {
			continue
		}
		if n.ID == id {
			out := make([]*Node, 0, len(nodes)-1)
			out = append(out, nodes[:i]...)
			return append(out, nodes[i+1:]...), true
		}
		if kids, ok := Remove(n.Children, id); ok {
			n.Children = kids
			return nodes, true
		}
	}
	return nodes, false
}

// Normalize clears content on nodes that have children and drops nil entries
// so the stored form matches what the renderer shows.
func Normalize(nodes []*Node) []*Node {
	if nodes == nil {
		return nil
	}
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		n.Children = Normalize(n.Children)
		if len(n.Children) > 0 {
			n.Content = ""
		} else {
			n.Children = nil
		}
		out = append(out, n)
	}
	return out
}

// Count returns the number of nodes in the tree.
func Count(nodes []*Node) int {
	c := 0
	Walk(nodes, func(*Node, *Node) bool { c++; return true })
	return c
}
