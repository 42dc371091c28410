package topic

import (
	"sort"
	"strings"
	"sync"
)

// Tree is a prefix tree of subscription filters keyed by topic level. It
// answers the same question as Matches for every stored filter at once.
type Tree struct {
	mu   sync.RWMutex
	root *treeNode
	size int
}

type treeNode struct {
	children map[string]*treeNode
	filter   string
	terminal bool
}

func newTreeNode() *treeNode {
	return &treeNode{children: make(map[string]*treeNode)}
}

// NewTree creates an empty filter tree
func NewTree() *Tree {
	return &Tree{root: newTreeNode()}
}

// Add stores filter. Adding a filter twice is a no-op.
func (t *Tree) Add(filter string) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.root
	for _, segment := range strings.Split(filter, separator) {
		next, exists := current.children[segment]
		if !exists {
			next = newTreeNode()
			current.children[segment] = next
		}
		current = next
	}

	if !current.terminal {
		current.terminal = true
		current.filter = filter
		t.size++
	}
	return nil
}

// Remove deletes filter and prunes empty branches. It reports whether the
// filter was stored.
func (t *Tree) Remove(filter string) bool {
	if filter == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.remove(t.root, strings.Split(filter, separator), 0) {
		return false
	}
	t.size--
	return true
}

func (t *Tree) remove(node *treeNode, segments []string, depth int) bool {
	child, exists := node.children[segments[depth]]
	if !exists {
		return false
	}

	if depth == len(segments)-1 {
		if !child.terminal {
			return false
		}
		child.terminal = false
		child.filter = ""
	} else if !t.remove(child, segments, depth+1) {
		return false
	}

	if !child.terminal && len(child.children) == 0 {
		delete(node.children, segments[depth])
	}
	return true
}

// Match returns every stored filter covering name, sorted.
func (t *Tree) Match(name string) []string {
	if name == "" {
		return nil
	}

	segments := strings.Split(name, separator)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var matches []string
	t.match(t.root, segments, 0, &matches)
	sort.Strings(matches)
	return matches
}

func (t *Tree) match(node *treeNode, segments []string, depth int, matches *[]string) {
	if depth == len(segments) {
		if node.terminal {
			*matches = append(*matches, node.filter)
		}
		// "a/#" also covers "a"
		if child, ok := node.children[multiWildcard]; ok && child.terminal {
			*matches = append(*matches, child.filter)
		}
		return
	}

	segment := segments[depth]
	if child, ok := node.children[segment]; ok {
		t.match(child, segments, depth+1, matches)
	}

	// Wildcards in the first level never match $-prefixed system topics
	if depth == 0 && strings.HasPrefix(segment, "$") {
		return
	}

	if child, ok := node.children[singleWildcard]; ok {
		t.match(child, segments, depth+1, matches)
	}
	if child, ok := node.children[multiWildcard]; ok && child.terminal {
		*matches = append(*matches, child.filter)
	}
}

// Len returns the number of stored filters
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}
