package graph

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
)

// DefaultEdgeCapacity is the bounded FIFO capacity an edge gets when the
// caller doesn't specify one.
const DefaultEdgeCapacity = 2

// Node wraps a task.Node with its graph position. The graph owns nodes
// (strong references); tasks hold no back-reference to their node or
// graph.
type Node struct {
	Task task.Node

	out []*Edge // indexed arbitrarily, one entry per outgoing edge
	in  []*Edge // indexed by dst port; in[port] is nil until connected
}

// Name returns the wrapped task's name, used as the node's graph identity.
func (n *Node) Name() string { return n.Task.Name() }

// InEdges returns the node's input edges ordered by destination port.
func (n *Node) InEdges() []*Edge { return n.in }

// OutEdges returns the node's output edges in connection order.
func (n *Node) OutEdges() []*Edge { return n.out }

// Edge is a bounded FIFO of buffer handles between one producer and one
// consumer input port. Push of the finish sentinel is always
// accepted and makes every later push a no-op, so a slow consumer still
// sees exactly one finish no matter how many times a confused producer
// pushes after it.
type Edge struct {
	Src     *Node
	Dst     *Node
	DstPort int

	ch       chan *buffer.Buffer
	finished atomic.Bool
}

func newEdge(src, dst *Node, dstPort, capacity int) *Edge {
	if capacity < 1 {
		capacity = DefaultEdgeCapacity
	}
	return &Edge{Src: src, Dst: dst, DstPort: dstPort, ch: make(chan *buffer.Buffer, capacity)}
}

// Push enqueues b, blocking if the edge is full. It is a no-op once the
// finish sentinel has been pushed.
func (e *Edge) Push(b *buffer.Buffer) {
	if e.finished.Load() {
		return
	}
	if b.IsFinish() {
		e.finished.Store(true)
	}
	e.ch <- b
}

// Pop dequeues the next buffer, blocking if the edge is empty.
func (e *Edge) Pop() *buffer.Buffer {
	return <-e.ch
}

// Graph is a directed acyclic, connected graph of task nodes.
type Graph struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode wraps t in a Node, adds it to the graph, and returns it.
func (g *Graph) AddNode(t task.Node) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := &Node{Task: t}
	g.nodes[t.Name()] = n
	return n
}

// NodeByName looks up a node by its task's name, returning false if no
// such node exists.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	return n, ok
}

// RemoveNode drops n from the graph without touching its edges; callers
// that splice a dummy root/leaf out of a loaded graph must first
// Disconnect every edge touching n.
func (g *Graph) RemoveNode(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, n.Name())
}

// Nodes returns every node in the graph, order unspecified.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Connect adds an edge from src's output to dst's dstPort, rejecting it if
// it would create a cycle. pass capacity 0 for
// DefaultEdgeCapacity.
func (g *Graph) Connect(src, dst *Node, dstPort int, capacity int) (*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.reaches(dst, src) {
		return nil, ufoerr.New(ufoerr.KindGraphInvalid, "connecting "+src.Name()+" to "+dst.Name()+" would create a cycle")
	}

	e := newEdge(src, dst, dstPort, capacity)
	src.out = append(src.out, e)
	for len(dst.in) <= dstPort {
		dst.in = append(dst.in, nil)
	}
	dst.in[dstPort] = e
	return e, nil
}

// Disconnect removes e from the graph.
func (g *Graph) Disconnect(e *Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, oe := range e.Src.out {
		if oe == e {
			e.Src.out = append(e.Src.out[:i], e.Src.out[i+1:]...)
			break
		}
	}
	if e.DstPort < len(e.Dst.in) && e.Dst.in[e.DstPort] == e {
		e.Dst.in[e.DstPort] = nil
	}
}

// reaches reports whether there is a directed path from -> to, following
// existing out-edges. Called with g.mu already held.
func (g *Graph) reaches(from, to *Node) bool {
	if from == to {
		return true
	}
	visited := make(map[*Node]bool)
	stack := []*Node{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		if n == to {
			return true
		}
		for _, e := range n.out {
			stack = append(stack, e.Dst)
		}
	}
	return false
}

// Roots returns every node with no input edges.
func (g *Graph) Roots() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	var roots []*Node
	for _, n := range g.nodes {
		if len(connectedIn(n)) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Leaves returns every node with no output edges.
func (g *Graph) Leaves() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	var leaves []*Node
	for _, n := range g.nodes {
		if len(n.out) == 0 {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

func connectedIn(n *Node) []*Edge {
	var edges []*Edge
	for _, e := range n.in {
		if e != nil {
			edges = append(edges, e)
		}
	}
	return edges
}

// Successors returns the distinct nodes n has an edge into.
func (g *Graph) Successors(n *Node) []*Node {
	seen := make(map[*Node]bool)
	var out []*Node
	for _, e := range n.out {
		if !seen[e.Dst] {
			seen[e.Dst] = true
			out = append(out, e.Dst)
		}
	}
	return out
}

// Predecessors returns the distinct nodes with an edge into n.
func (g *Graph) Predecessors(n *Node) []*Node {
	seen := make(map[*Node]bool)
	var out []*Node
	for _, e := range connectedIn(n) {
		if !seen[e.Src] {
			seen[e.Src] = true
			out = append(out, e.Src)
		}
	}
	return out
}

// TopologicalOrder returns nodes in an order where every node appears
// after all of its predecessors (Kahn's algorithm), or an error if the
// graph is not a DAG (should not happen given Connect's cycle check,
// unless edges were constructed by another means).
func (g *Graph) TopologicalOrder() ([]*Node, error) {
	g.mu.Lock()
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	g.mu.Unlock()

	indegree := make(map[*Node]int, len(nodes))
	for _, n := range nodes {
		indegree[n] = len(connectedIn(n))
	}

	var queue []*Node
	for _, n := range nodes {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]*Node, 0, len(nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		// Decrement per edge, not per distinct successor: a node feeding
		// two ports of the same consumer counts twice in its indegree.
		for _, e := range n.out {
			indegree[e.Dst]--
			if indegree[e.Dst] == 0 {
				queue = append(queue, e.Dst)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ufoerr.New(ufoerr.KindGraphInvalid, "graph contains a cycle")
	}
	return order, nil
}
