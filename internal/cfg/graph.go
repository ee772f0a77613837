package cfg

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// Graph converts the CFG into a directed graph keyed by node id. Parallel
// edges between the same pair collapse into the first one created.
func (g FunctionCFG) Graph() (graph.Graph[int, int], error) {
	out := graph.New(graph.IntHash, graph.Directed())
	for _, n := range g.Nodes {
		label := fmt.Sprintf("%#x", n.Start)
		attrs := []func(*graph.VertexProperties){
			graph.VertexAttribute("label", label),
			graph.VertexAttribute("shape", "box"),
		}
		if n.Exit {
			attrs = append(attrs, graph.VertexAttribute("peripheries", "2"))
		}
		if err := out.AddVertex(n.ID, attrs...); err != nil {
			return nil, fmt.Errorf("add node %d: %w", n.ID, err)
		}
	}
	for _, e := range g.Edges {
		err := out.AddEdge(e.From, e.To,
			graph.EdgeAttribute("label", e.Type.String()),
			graph.EdgeAttribute("style", edgeStyle(e.Type)))
		if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return nil, fmt.Errorf("add edge %d->%d: %w", e.From, e.To, err)
		}
	}
	return out, nil
}

func edgeStyle(t EdgeType) string {
	switch t {
	case FalseBranch:
		return "dashed"
	case LoopBack:
		return "bold"
	default:
		return "solid"
	}
}

// Reachable returns the ids reachable from the entry node, sorted.
func (g FunctionCFG) Reachable() ([]int, error) {
	if len(g.Nodes) == 0 {
		return nil, nil
	}
	gr, err := g.Graph()
	if err != nil {
		return nil, err
	}
	var ids []int
	err = graph.DFS(gr, 0, func(id int) bool {
		ids = append(ids, id)
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("walk from entry: %w", err)
	}
	sort.Ints(ids)
	return ids, nil
}

// Unreachable returns the ids no path from the entry reaches.
func (g FunctionCFG) Unreachable() ([]int, error) {
	reach, err := g.Reachable()
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(reach))
	for _, id := range reach {
		seen[id] = true
	}
	var out []int
	for _, n := range g.Nodes {
		if !seen[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out, nil
}

// WriteDOT renders the CFG in Graphviz DOT format.
func (g FunctionCFG) WriteDOT(w io.Writer) error {
	gr, err := g.Graph()
	if err != nil {
		return err
	}
	return draw.DOT(gr, w, draw.GraphAttribute("label", g.Name))
}
