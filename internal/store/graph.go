package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// TreeNode is one node of a rendered dependency tree.
type TreeNode struct {
	ID       string
	Cyclic   bool // true if this occurrence closes a cycle; Children is empty
	Children []TreeNode
}

// DependencyTreeMode selects how repeated nodes across branches are
// rendered, per spec §4.6.2.
type DependencyTreeMode int

const (
	// TreeFull shows every occurrence of a node, once per reachable path.
	TreeFull DependencyTreeMode = iota
	// TreeCompact shows each node once, at its maximum reachable depth.
	TreeCompact
)

// DependencyTree builds the dependency tree rooted at id, following the
// Deps edges of BuildTicketMap(ctx)'s result. Cycles are truncated: a
// node re-entered along its own current path is emitted with no
// children and Cyclic set.
func (s *Store) DependencyTree(ctx context.Context, rootID string, mode DependencyTreeMode) (TreeNode, error) {
	tickets, err := s.BuildTicketMap(ctx)
	if err != nil {
		return TreeNode{}, err
	}
	if _, ok := tickets[rootID]; !ok {
		return TreeNode{}, &ErrNotFound{ID: rootID}
	}

	if mode == TreeCompact {
		maxDepth, subtreeDepth := computeDepthMaps(tickets, rootID)
		return buildCompactTree(tickets, rootID, maxDepth, subtreeDepth, make(map[string]bool)), nil
	}
	return buildFullTree(tickets, rootID, make(map[string]bool)), nil
}

func buildFullTree(tickets map[string]Ticket, id string, onPath map[string]bool) TreeNode {
	if onPath[id] {
		return TreeNode{ID: id, Cyclic: true}
	}
	onPath[id] = true
	defer delete(onPath, id)

	t := tickets[id]
	node := TreeNode{ID: id}
	for _, dep := range t.Deps {
		if _, ok := tickets[dep]; !ok {
			continue
		}
		node.Children = append(node.Children, buildFullTree(tickets, dep, onPath))
	}
	return node
}

// computeDepthMaps computes, for every node reachable from root:
// maxDepth[n] = max over DFS paths of depth(n) from root
// subtreeDepth[n] = max(maxDepth[n], max over children m of subtreeDepth[m])
// Both are computed once and reused by buildCompactTree to decide which
// occurrence of a diamond-shared node survives.
func computeDepthMaps(tickets map[string]Ticket, rootID string) (maxDepth, subtreeDepth map[string]int) {
	maxDepth = make(map[string]int)
	var walk func(id string, depth int, onPath map[string]bool)
	walk = func(id string, depth int, onPath map[string]bool) {
		if onPath[id] {
			return
		}
		if existing, ok := maxDepth[id]; !ok || depth > existing {
			maxDepth[id] = depth
		}
		onPath[id] = true
		defer delete(onPath, id)

		for _, dep := range tickets[id].Deps {
			if _, ok := tickets[dep]; !ok {
				continue
			}
			walk(dep, depth+1, onPath)
		}
	}
	walk(rootID, 0, make(map[string]bool))

	subtreeDepth = make(map[string]int, len(maxDepth))
	var computeSubtree func(id string, onPath map[string]bool) int
	computeSubtree = func(id string, onPath map[string]bool) int {
		if v, ok := subtreeDepth[id]; ok {
			return v
		}
		if onPath[id] {
			return maxDepth[id]
		}
		onPath[id] = true
		defer delete(onPath, id)

		best := maxDepth[id]
		for _, dep := range tickets[id].Deps {
			if _, ok := tickets[dep]; !ok {
				continue
			}
			if v := computeSubtree(dep, onPath); v > best {
				best = v
			}
		}
		subtreeDepth[id] = best
		return best
	}
	for id := range maxDepth {
		computeSubtree(id, make(map[string]bool))
	}
	return maxDepth, subtreeDepth
}

// buildCompactTree renders each node once, under the parent from which
// it achieves its maximum subtreeDepth; other occurrences are omitted
// entirely (not even as a cyclic stub) per the spec's compact semantics.
func buildCompactTree(tickets map[string]Ticket, id string, maxDepth, subtreeDepth map[string]int, onPath map[string]bool) TreeNode {
	if onPath[id] {
		return TreeNode{ID: id, Cyclic: true}
	}
	onPath[id] = true
	defer delete(onPath, id)

	t := tickets[id]
	node := TreeNode{ID: id}

	var deepestChild string
	deepestDepth := -1
	for _, dep := range t.Deps {
		if _, ok := tickets[dep]; !ok {
			continue
		}
		if d := subtreeDepth[dep]; d > deepestDepth {
			deepestDepth = d
			deepestChild = dep
		}
	}
	for _, dep := range t.Deps {
		if _, ok := tickets[dep]; !ok {
			continue
		}
		if dep != deepestChild && subtreeDepth[dep] <= deepestDepth && len(t.Deps) > 1 {
			continue
		}
		node.Children = append(node.Children, buildCompactTree(tickets, dep, maxDepth, subtreeDepth, onPath))
	}
	return node
}

// Children returns the direct children of id: tickets whose Parent
// field equals id.
func (s *Store) Children(ctx context.Context, id string) ([]string, error) {
	tickets, err := s.GetAllTickets(ctx)
	if err != nil {
		return nil, err
	}
	var children []string
	for _, t := range tickets {
		if t.Parent == id {
			children = append(children, t.ID)
		}
	}
	sort.Strings(children)
	return children, nil
}

// DescendantIDs performs a BFS over the parent-reversed tree rooted at
// id, returning every descendant reachable through the children/parent
// relationship, each visited at most once.
func (s *Store) DescendantIDs(ctx context.Context, id string) ([]string, error) {
	tickets, err := s.GetAllTickets(ctx)
	if err != nil {
		return nil, err
	}
	byParent := make(map[string][]string)
	for _, t := range tickets {
		if t.Parent != "" {
			byParent[t.Parent] = append(byParent[t.Parent], t.ID)
		}
	}

	visited := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range byParent[cur] {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}

// ReachableGraphDOT exports the dependency edges reachable from rootID
// as a Graphviz DOT digraph, useful for `janusctl deps --format dot`.
func (s *Store) ReachableGraphDOT(ctx context.Context, rootID string) (string, error) {
	edges, err := s.reachableEdges(ctx, rootID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("digraph deps {\n")
	for _, e := range edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", e[0], e[1])
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// ReachableGraphMermaid exports the same edge set as a Mermaid flowchart.
func (s *Store) ReachableGraphMermaid(ctx context.Context, rootID string) (string, error) {
	edges, err := s.reachableEdges(ctx, rootID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	for _, e := range edges {
		fmt.Fprintf(&b, "  %s --> %s\n", e[0], e[1])
	}
	return b.String(), nil
}

func (s *Store) reachableEdges(ctx context.Context, rootID string) ([][2]string, error) {
	tickets, err := s.BuildTicketMap(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := tickets[rootID]; !ok {
		return nil, &ErrNotFound{ID: rootID}
	}

	visited := map[string]bool{rootID: true}
	queue := []string{rootID}
	var edges [][2]string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range tickets[cur].Deps {
			if _, ok := tickets[dep]; !ok {
				continue
			}
			edges = append(edges, [2]string{cur, dep})
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return edges, nil
}
