// Package sitegraph builds a graph of functions, their patch points, and
// the callees those patch points return from.
package sitegraph

import (
	"fmt"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"stackmaps/internal/disasm"
)

// PatchPointNode returns the node name used for a patch point.
func PatchPointNode(s disasm.Site) string {
	return fmt.Sprintf("pp%d@0x%x", s.PatchPointID, s.Addr)
}

// Build constructs a lattice.Graph from resolved patch sites.
// Each function and each patch point becomes a node. A function has an edge
// to each of its patch points, and a patch point has an edge to the callee
// of the direct call it follows. Indirect calls get no callee edge.
func Build(sites []disasm.Site, names map[uint64]string) *lattice.Graph {
	g := &lattice.Graph{}
	seen := make(map[string]bool)
	node := func(name string) {
		if !seen[name] {
			seen[name] = true
			g.Nodes = append(g.Nodes, name)
		}
	}
	for _, s := range sites {
		pp := PatchPointNode(s)
		node(s.FuncName)
		node(pp)
		g.Edges = append(g.Edges, lattice.Edge{Caller: s.FuncName, Callee: pp})

		if callee := s.CallTarget(names); callee != "" {
			node(callee)
			g.Edges = append(g.Edges, lattice.Edge{Caller: pp, Callee: callee})
		}
	}
	g.Dedup()
	return g
}

// Render returns g as Graphviz source.
func Render(g *lattice.Graph, title string) string {
	return render.DOT(g, title)
}
