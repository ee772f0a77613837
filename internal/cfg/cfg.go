// Package cfg partitions a function's instructions into basic blocks and
// typed control-flow edges.
package cfg

import (
	"fmt"

	"machscope/internal/disasm"
)

// NodeType classifies a basic block.
type NodeType int

const (
	Normal NodeType = iota
	Entry
	Exit
	Conditional
)

func (t NodeType) String() string {
	switch t {
	case Entry:
		return "entry"
	case Exit:
		return "exit"
	case Conditional:
		return "conditional"
	default:
		return "normal"
	}
}

func (t NodeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// EdgeType classifies a control-flow edge.
type EdgeType int

const (
	NormalEdge EdgeType = iota
	TrueBranch
	FalseBranch
	LoopBack
)

func (t EdgeType) String() string {
	switch t {
	case TrueBranch:
		return "true"
	case FalseBranch:
		return "false"
	case LoopBack:
		return "loop"
	default:
		return "normal"
	}
}

func (t EdgeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Node is one basic block. End is the address of its last instruction.
type Node struct {
	ID        int      `json:"id"`
	Start     uint64   `json:"start"`
	End       uint64   `json:"end"`
	Mnemonics []string `json:"mnemonics"`
	Lines     []string `json:"lines"`
	Type      NodeType `json:"type"`
	// Exit is set on every block ending in a return, including the entry
	// block of a single-block function whose Type stays Entry.
	Exit bool `json:"exit"`
}

// Edge connects two nodes by id. A back edge is typed LoopBack and keeps
// the type it would otherwise have had in Via.
type Edge struct {
	From int      `json:"from"`
	To   int      `json:"to"`
	Type EdgeType `json:"type"`
	Via  EdgeType `json:"via"`
}

// FunctionCFG is the graph of one function. Nodes are indexed by id.
type FunctionCFG struct {
	Name    string `json:"name"`
	Address uint64 `json:"address"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// Build constructs the graph for insts, which must be the function's
// instructions in address order. Empty input yields no graph.
func Build(name string, addr uint64, insts []disasm.Inst) (FunctionCFG, bool) {
	if len(insts) == 0 {
		return FunctionCFG{}, false
	}
	g := FunctionCFG{Name: name, Address: addr}

	// Pass 1: block starts are the entry plus every resolvable branch target.
	starts := map[uint64]bool{insts[0].Addr: true}
	for _, inst := range insts {
		if !disasm.IsBranch(inst.Mnemonic) {
			continue
		}
		if target, ok := disasm.BranchTarget(inst); ok {
			starts[target] = true
		}
	}

	// Pass 2: accumulate instructions into blocks.
	var (
		cur   []disasm.Inst
		lasts []disasm.Inst // terminal instruction per node
	)
	closeBlock := func() {
		if len(cur) == 0 {
			return
		}
		g.Nodes = append(g.Nodes, newNode(len(g.Nodes), cur))
		lasts = append(lasts, cur[len(cur)-1])
		cur = nil
	}
	for _, inst := range insts {
		if starts[inst.Addr] {
			closeBlock()
		}
		cur = append(cur, inst)
		m := inst.Mnemonic
		if disasm.IsBranch(m) || disasm.IsReturn(m) || starts[inst.Addr+disasm.InstSize] {
			closeBlock()
		}
	}
	closeBlock()

	// Pass 3: edges from each block's terminal instruction.
	byStart := make(map[uint64]int, len(g.Nodes))
	for _, n := range g.Nodes {
		byStart[n.Start] = n.ID
	}
	for i := range g.Nodes {
		last := lasts[i]
		next := i + 1
		hasNext := next < len(g.Nodes)
		m := last.Mnemonic

		switch {
		case disasm.IsReturn(m), disasm.IsIndirectJump(m):
			// no successors
		case m == "b":
			if target, ok := disasm.BranchTarget(last); ok {
				if id, ok := byStart[target]; ok {
					g.addEdge(i, id, NormalEdge)
				}
			}
		case len(m) > 2 && m[:2] == "b.":
			if target, ok := disasm.BranchTarget(last); ok {
				if id, ok := byStart[target]; ok {
					g.addEdge(i, id, TrueBranch)
				}
			}
			if hasNext {
				g.addEdge(i, next, FalseBranch)
			}
		default:
			// calls return to the next block; everything else falls through
			if hasNext {
				g.addEdge(i, next, NormalEdge)
			}
		}
	}
	return g, true
}

func newNode(id int, insts []disasm.Inst) Node {
	n := Node{
		ID:    id,
		Start: insts[0].Addr,
		End:   insts[len(insts)-1].Addr,
	}
	for _, inst := range insts {
		n.Mnemonics = append(n.Mnemonics, inst.Mnemonic)
		n.Lines = append(n.Lines, inst.Text())
	}
	last := insts[len(insts)-1].Mnemonic
	n.Exit = disasm.IsReturn(last)
	switch {
	case id == 0:
		n.Type = Entry
	case n.Exit:
		n.Type = Exit
	case len(last) > 2 && last[:2] == "b.":
		n.Type = Conditional
	default:
		n.Type = Normal
	}
	return n
}

func (g *FunctionCFG) addEdge(from, to int, t EdgeType) {
	e := Edge{From: from, To: to, Type: t, Via: t}
	if to <= from {
		e.Type = LoopBack
	}
	g.Edges = append(g.Edges, e)
}

// Node returns the node with the given id.
func (g FunctionCFG) Node(id int) (Node, bool) {
	if id < 0 || id >= len(g.Nodes) {
		return Node{}, false
	}
	return g.Nodes[id], true
}

// Successors returns the outgoing edges of node id in creation order.
func (g FunctionCFG) Successors(id int) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// ExitNodes returns the ids of every block ending in a return.
func (g FunctionCFG) ExitNodes() []int {
	var out []int
	for _, n := range g.Nodes {
		if n.Exit {
			out = append(out, n.ID)
		}
	}
	return out
}

func (n Node) String() string {
	return fmt.Sprintf("#%d [%#x-%#x] %s", n.ID, n.Start, n.End, n.Type)
}
