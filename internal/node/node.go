// Package node provides the candidate tree for the forge search engine.
// Candidates are immutable after creation and owned by an append-only arena;
// parent references are arena indices, so nodes can be shared across
// goroutines without locking.
package node

import (
	"sort"

	"github.com/google/uuid"
)

// RootParent is the parent index of a root node.
const RootParent = -1

// Provenance records how a candidate was produced.
type Provenance struct {
	// Prompt is the prompt that produced this candidate.
	Prompt string `json:"prompt,omitempty"`

	// RawResponse is the unparsed model output.
	RawResponse string `json:"raw_response,omitempty"`

	// Phase is the name of the phase that produced this candidate.
	Phase string `json:"phase,omitempty"`
}

// Node is one candidate: a generated file set at a point in the search tree.
// A Node is immutable after construction; revisions create new nodes.
type Node struct {
	id     string
	parent int
	depth  int
	files  map[string]string
	prov   Provenance
}

// ID returns the unique identifier of the node.
func (n *Node) ID() string { return n.id }

// Parent returns the arena index of the parent node, or RootParent for roots.
func (n *Node) Parent() int { return n.parent }

// Depth returns the depth of the node. Roots have depth 0.
func (n *Node) Depth() int { return n.depth }

// Provenance returns the generation provenance of the node.
func (n *Node) Provenance() Provenance { return n.prov }

// Files returns a copy of the node's file set. Mutating the returned map
// does not affect the node.
func (n *Node) Files() map[string]string {
	return cloneFiles(n.files)
}

// File returns the content of a single file and whether it exists.
func (n *Node) File(path string) (string, bool) {
	content, ok := n.files[path]
	return content, ok
}

// Paths returns the file paths of the node in sorted order.
func (n *Node) Paths() []string {
	paths := make([]string, 0, len(n.files))
	for p := range n.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func cloneFiles(files map[string]string) map[string]string {
	cloned := make(map[string]string, len(files))
	for k, v := range files {
		cloned[k] = v
	}
	return cloned
}

func newNode(parent, depth int, files map[string]string, prov Provenance) *Node {
	return &Node{
		id:     uuid.New().String(),
		parent: parent,
		depth:  depth,
		files:  cloneFiles(files),
		prov:   prov,
	}
}
