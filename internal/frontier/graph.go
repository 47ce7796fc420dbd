package frontier

import "github.com/JakeFAU/site-frontier/internal/crawler"

// urlGraph accumulates nodes and edges for one run. It is not safe for
// concurrent use; the owning Session serializes access.
type urlGraph struct {
	nodes []crawler.Node
	index map[NormalizedURL]int
	edges []crawler.Edge
}

func newURLGraph() *urlGraph {
	return &urlGraph{index: make(map[NormalizedURL]int)}
}

// addNode records u at depth unless it already exists. The first depth
// recorded for a URL is kept.
func (g *urlGraph) addNode(u NormalizedURL, depth int) bool {
	if _, ok := g.index[u]; ok {
		return false
	}
	g.index[u] = len(g.nodes)
	g.nodes = append(g.nodes, crawler.Node{ID: string(u), Depth: depth})
	return true
}

func (g *urlGraph) depth(u NormalizedURL) (int, bool) {
	i, ok := g.index[u]
	if !ok {
		return 0, false
	}
	return g.nodes[i].Depth, true
}

func (g *urlGraph) addEdge(source, target NormalizedURL, kind crawler.EdgeKind) {
	g.edges = append(g.edges, crawler.Edge{Source: string(source), Target: string(target), Kind: kind})
}

func (g *urlGraph) maxDepth() int {
	deepest := 0
	for _, n := range g.nodes {
		if n.Depth > deepest {
			deepest = n.Depth
		}
	}
	return deepest
}

func (g *urlGraph) snapshot() crawler.Graph {
	out := crawler.Graph{
		Nodes: make([]crawler.Node, len(g.nodes)),
		Edges: make([]crawler.Edge, len(g.edges)),
	}
	copy(out.Nodes, g.nodes)
	copy(out.Edges, g.edges)
	return out
}
