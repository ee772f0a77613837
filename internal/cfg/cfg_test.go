package cfg

import (
	"bytes"
	"strings"
	"testing"

	"machscope/internal/disasm"
)

func listing(t *testing.T, text string) []disasm.Inst {
	t.Helper()
	stream, err := disasm.ParseListing(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseListing failed: %v", err)
	}
	return stream
}

func TestBuild_SingleBlock(t *testing.T) {
	insts := listing(t, `
0x1000: stp x29, x30, [sp, #-16]!
0x1004: mov x29, sp
0x1008: ldp x29, x30, [sp], #16
0x100c: ret
`)
	g, ok := Build("_leaf", 0x1000, insts)
	if !ok {
		t.Fatal("Build returned no graph")
	}
	if len(g.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(g.Nodes))
	}
	if len(g.Edges) != 0 {
		t.Errorf("edges = %d, want 0", len(g.Edges))
	}
	n := g.Nodes[0]
	if n.Type != Entry || !n.Exit {
		t.Errorf("node = %v exit=%v, want entry and exit", n.Type, n.Exit)
	}
	if n.Start != 0x1000 || n.End != 0x100c || len(n.Mnemonics) != 4 {
		t.Errorf("node span = %s with %d insts", n, len(n.Mnemonics))
	}
}

func TestBuild_ConditionalBranch(t *testing.T) {
	// cmp; b.eq L1; fallthrough block; L1: ...; ret
	insts := listing(t, `
0x2000: cmp x0, #0
0x2004: b.eq 0x2010
0x2008: mov x0, #1
0x200c: mov x1, #2
0x2010: mov x0, #0
0x2014: ret
`)
	g, _ := Build("_cond", 0x2000, insts)
	if len(g.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3: %v", len(g.Nodes), g.Nodes)
	}

	wantNodes := []struct {
		start, end uint64
		typ        NodeType
	}{
		{0x2000, 0x2004, Entry},
		{0x2008, 0x200c, Normal},
		{0x2010, 0x2014, Exit},
	}
	for i, w := range wantNodes {
		n := g.Nodes[i]
		if n.Start != w.start || n.End != w.end || n.Type != w.typ {
			t.Errorf("node %d = %s, want [%#x-%#x] %s", i, n, w.start, w.end, w.typ)
		}
	}

	wantEdges := []Edge{
		{From: 0, To: 2, Type: TrueBranch, Via: TrueBranch},
		{From: 0, To: 1, Type: FalseBranch, Via: FalseBranch},
		{From: 1, To: 2, Type: NormalEdge, Via: NormalEdge},
	}
	if len(g.Edges) != len(wantEdges) {
		t.Fatalf("edges = %+v, want %+v", g.Edges, wantEdges)
	}
	for i, w := range wantEdges {
		if g.Edges[i] != w {
			t.Errorf("edge %d = %+v, want %+v", i, g.Edges[i], w)
		}
	}
}

func TestBuild_ConditionalNodeType(t *testing.T) {
	insts := listing(t, `
0x3000: nop
0x3004: b 0x3008
0x3008: cmp x0, #1
0x300c: b.ne 0x3000
0x3010: ret
`)
	g, _ := Build("_loop", 0x3000, insts)
	if len(g.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(g.Nodes))
	}
	if g.Nodes[1].Type != Conditional {
		t.Errorf("node 1 type = %s, want conditional", g.Nodes[1].Type)
	}

	// b.ne back to the entry is a back edge
	var loop *Edge
	for i := range g.Edges {
		if g.Edges[i].From == 1 && g.Edges[i].To == 0 {
			loop = &g.Edges[i]
		}
	}
	if loop == nil {
		t.Fatalf("missing back edge in %+v", g.Edges)
	}
	if loop.Type != LoopBack || loop.Via != TrueBranch {
		t.Errorf("back edge = %+v, want loop via true", *loop)
	}
}

func TestBuild_EdgeRules(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		nodes int
		edges []Edge
	}{
		{
			name: "call falls through to next block",
			text: `
0x1000: bl 0x5000
0x1004: ret`,
			nodes: 2,
			edges: []Edge{{From: 0, To: 1, Type: NormalEdge, Via: NormalEdge}},
		},
		{
			name: "indirect branch has no successors",
			text: `
0x1000: br x16
0x1004: ret`,
			nodes: 2,
		},
		{
			name: "tail call outside the function leaves a gap",
			text: `
0x1000: nop
0x1004: b 0x9000`,
			nodes: 1,
		},
		{
			name: "cbz falls through only",
			text: `
0x1000: cbz x0, 0x100c
0x1004: nop
0x1008: nop
0x100c: ret`,
			nodes: 3,
			edges: []Edge{
				{From: 0, To: 1, Type: NormalEdge, Via: NormalEdge},
				{From: 1, To: 2, Type: NormalEdge, Via: NormalEdge},
			},
		},
		{
			name: "block split at branch target",
			text: `
0x1000: nop
0x1004: nop
0x1008: b 0x1004`,
			nodes: 2,
			edges: []Edge{
				{From: 0, To: 1, Type: NormalEdge, Via: NormalEdge},
				{From: 1, To: 1, Type: LoopBack, Via: NormalEdge},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, ok := Build(tt.name, 0x1000, listing(t, tt.text))
			if !ok {
				t.Fatal("Build returned no graph")
			}
			if len(g.Nodes) != tt.nodes {
				t.Fatalf("nodes = %d, want %d", len(g.Nodes), tt.nodes)
			}
			if len(g.Edges) != len(tt.edges) {
				t.Fatalf("edges = %+v, want %+v", g.Edges, tt.edges)
			}
			for i := range tt.edges {
				if g.Edges[i] != tt.edges[i] {
					t.Errorf("edge %d = %+v, want %+v", i, g.Edges[i], tt.edges[i])
				}
			}
		})
	}
}

func TestBuild_Empty(t *testing.T) {
	if _, ok := Build("_empty", 0, nil); ok {
		t.Error("Build on no instructions should report false")
	}
}

func TestGraphExport(t *testing.T) {
	insts := listing(t, `
0x2000: cmp x0, #0
0x2004: b.eq 0x2010
0x2008: ret
0x200c: nop
0x2010: ret
`)
	g, _ := Build("_export", 0x2000, insts)

	reach, err := g.Reachable()
	if err != nil {
		t.Fatalf("Reachable failed: %v", err)
	}
	if len(reach) != 3 {
		t.Errorf("reachable = %v, want 3 nodes", reach)
	}
	dead, err := g.Unreachable()
	if err != nil {
		t.Fatalf("Unreachable failed: %v", err)
	}
	// the nop after the first ret is only reached by falling out of a return
	if len(dead) != 1 || dead[0] != 2 {
		t.Errorf("unreachable = %v, want [2]", dead)
	}

	var buf bytes.Buffer
	if err := g.WriteDOT(&buf); err != nil {
		t.Fatalf("WriteDOT failed: %v", err)
	}
	if !strings.Contains(buf.String(), "digraph") {
		t.Errorf("DOT output missing digraph header:\n%s", buf.String())
	}
	if got := g.ExitNodes(); len(got) != 2 {
		t.Errorf("ExitNodes = %v, want 2 exits", got)
	}
}
