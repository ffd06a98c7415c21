package node

import (
	"fmt"
	"sync"
)

// Arena is an append-only store of candidate nodes. Nodes are addressed by
// index; once added they are never modified or removed, so reads are safe
// under concurrent appends.
type Arena struct {
	mu    sync.RWMutex
	nodes []*Node
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// AddRoot adds a root node (depth 0, no parent) with the given file set and
// returns its index.
func (a *Arena) AddRoot(files map[string]string, prov Provenance) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nodes = append(a.nodes, newNode(RootParent, 0, files, prov))
	return len(a.nodes) - 1
}

// AddChild adds a child of the node at parent index and returns its index.
// The child's depth is always parent depth + 1.
func (a *Arena) AddChild(parent int, files map[string]string, prov Provenance) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if parent < 0 || parent >= len(a.nodes) {
		return 0, fmt.Errorf("parent index %d out of range", parent)
	}

	a.nodes = append(a.nodes, newNode(parent, a.nodes[parent].depth+1, files, prov))
	return len(a.nodes) - 1, nil
}

// Get returns the node at the given index.
func (a *Arena) Get(index int) (*Node, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if index < 0 || index >= len(a.nodes) {
		return nil, fmt.Errorf("node index %d out of range", index)
	}
	return a.nodes[index], nil
}

// Len returns the number of nodes in the arena.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// Trajectory returns the indices from the root to the node at index,
// root first.
func (a *Arena) Trajectory(index int) ([]int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if index < 0 || index >= len(a.nodes) {
		return nil, fmt.Errorf("node index %d out of range", index)
	}

	var reversed []int
	for i := index; i != RootParent; i = a.nodes[i].parent {
		reversed = append(reversed, i)
	}

	trajectory := make([]int, len(reversed))
	for i, idx := range reversed {
		trajectory[len(reversed)-1-i] = idx
	}
	return trajectory, nil
}

// MergedFiles returns the file set accumulated along the trajectory from the
// root to the node at index. Files generated deeper in the tree override
// files with the same path from ancestors.
func (a *Arena) MergedFiles(index int) (map[string]string, error) {
	trajectory, err := a.Trajectory(index)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	merged := make(map[string]string)
	for _, idx := range trajectory {
		for path, content := range a.nodes[idx].files {
			merged[path] = content
		}
	}
	return merged, nil
}
