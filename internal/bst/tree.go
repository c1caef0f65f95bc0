// Package bst implements the per-folder inverted index: a binary search tree
// keyed by stem whose nodes hold the set of resource IDs carrying that stem.
//
// The tree is not balanced. Keyword streams often arrive in sorted order, so
// every traversal here uses an explicit stack instead of recursion.
package bst

// Node is one stem of the index.
type Node struct {
	Stem        string
	ResourceIDs []int64
	Left        *Node
	Right       *Node
}

// Has reports whether id is in the node's resource set.
func (n *Node) Has(id int64) bool {
	for _, existing := range n.ResourceIDs {
		if existing == id {
			return true
		}
	}
	return false
}

func (n *Node) add(id int64) bool {
	if n.Has(id) {
		return false
	}
	n.ResourceIDs = append(n.ResourceIDs, id)
	return true
}

func (n *Node) discard(id int64) bool {
	for i, existing := range n.ResourceIDs {
		if existing == id {
			n.ResourceIDs = append(n.ResourceIDs[:i], n.ResourceIDs[i+1:]...)
			return true
		}
	}
	return false
}

// Tree is a stem -> resource-id set map with ordered traversal.
// A Tree is not safe for concurrent use.
type Tree struct {
	root *Node
	size int
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Len returns the number of stems in the tree.
func (t *Tree) Len() int {
	return t.size
}

// Root exposes the root node, nil for an empty tree.
func (t *Tree) Root() *Node {
	return t.root
}

// Insert associates id with stem. It creates the node when the stem is new
// and is a no-op when the id is already present. It reports whether the tree
// changed.
func (t *Tree) Insert(stem string, id int64) bool {
	if t.root == nil {
		t.root = &Node{Stem: stem, ResourceIDs: []int64{id}}
		t.size++
		return true
	}
	current := t.root
	for {
		switch {
		case stem < current.Stem:
			if current.Left == nil {
				current.Left = &Node{Stem: stem, ResourceIDs: []int64{id}}
				t.size++
				return true
			}
			current = current.Left
		case stem > current.Stem:
			if current.Right == nil {
				current.Right = &Node{Stem: stem, ResourceIDs: []int64{id}}
				t.size++
				return true
			}
			current = current.Right
		default:
			return current.add(id)
		}
	}
}

// Find returns the node for stem, or nil.
func (t *Tree) Find(stem string) *Node {
	current := t.root
	for current != nil {
		switch {
		case stem < current.Stem:
			current = current.Left
		case stem > current.Stem:
			current = current.Right
		default:
			return current
		}
	}
	return nil
}

// Remove drops id from the stem's resource set. A node whose set becomes
// empty is deleted from the tree. It reports whether id was present.
func (t *Tree) Remove(stem string, id int64) bool {
	var parent *Node
	current := t.root
	for current != nil && current.Stem != stem {
		parent = current
		if stem < current.Stem {
			current = current.Left
		} else {
			current = current.Right
		}
	}
	if current == nil || !current.discard(id) {
		return false
	}
	if len(current.ResourceIDs) == 0 {
		t.deleteNode(parent, current)
	}
	return true
}

// Purge removes id from every node and returns how many stems referenced it.
func (t *Tree) Purge(id int64) int {
	var stems []string
	t.Walk(func(n *Node) bool {
		if n.Has(id) {
			stems = append(stems, n.Stem)
		}
		return true
	})
	for _, stem := range stems {
		t.Remove(stem, id)
	}
	return len(stems)
}

func (t *Tree) deleteNode(parent, node *Node) {
	t.size--
	if node.Left != nil && node.Right != nil {
		// Replace with the in-order successor, then unlink the successor.
		succParent := node
		succ := node.Right
		for succ.Left != nil {
			succParent = succ
			succ = succ.Left
		}
		node.Stem = succ.Stem
		node.ResourceIDs = succ.ResourceIDs
		if succParent == node {
			succParent.Right = succ.Right
		} else {
			succParent.Left = succ.Right
		}
		return
	}

	child := node.Left
	if child == nil {
		child = node.Right
	}
	switch {
	case parent == nil:
		t.root = child
	case parent.Left == node:
		parent.Left = child
	default:
		parent.Right = child
	}
}

// Walk visits nodes in ascending stem order until fn returns false.
func (t *Tree) Walk(fn func(*Node) bool) {
	stack := make([]*Node, 0, 32)
	current := t.root
	for current != nil || len(stack) > 0 {
		for current != nil {
			stack = append(stack, current)
			current = current.Left
		}
		current = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(current) {
			return
		}
		current = current.Right
	}
}

// Stems returns every key in ascending order.
func (t *Tree) Stems() []string {
	out := make([]string, 0, t.size)
	t.Walk(func(n *Node) bool {
		out = append(out, n.Stem)
		return true
	})
	return out
}
