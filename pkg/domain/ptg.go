package domain

import "strings"

// NodeKind distinguishes screens from materialized leaf widgets.
type NodeKind string

const (
	NodeKindPage   NodeKind = "page"
	NodeKindWidget NodeKind = "widget"
)

// ActionKind is the gesture an edge performs.
type ActionKind string

const (
	ActionClick     ActionKind = "click"
	ActionLongClick ActionKind = "longClick"
	ActionInput     ActionKind = "input"
	ActionScroll    ActionKind = "scroll"
	ActionPressBack ActionKind = "pressBack"
)

// ParseActionKind normalizes the spellings classifiers use for actions.
// Unknown values fall back to click, which is what most widgets accept.
func ParseActionKind(s string) ActionKind {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "", "-", "", " ", "").Replace(norm)
	switch norm {
	case "longclick", "longpress":
		return ActionLongClick
	case "input", "type", "text", "typetext":
		return ActionInput
	case "scroll", "swipe":
		return ActionScroll
	case "pressback", "back":
		return ActionPressBack
	default:
		return ActionClick
	}
}

// Edge is an action available on a page.
// Target is an index into PTG.Nodes and stays nil until the action has been resolved.
type Edge struct {
	Description   string
	Action        ActionKind
	Position      *Point
	Content       string
	IsLeaf        bool
	Postcondition string
	Target        *int
}

// Bind points the edge at the node with the given index.
func (e *Edge) Bind(target int) {
	t := target
	e.Target = &t
}

// TargetIndex returns the bound target, or -1 while unresolved.
func (e *Edge) TargetIndex() int {
	if e.Target == nil {
		return -1
	}
	return *e.Target
}

// Demote turns the edge into a leaf that targets its owning page.
// Demoted edges are never retried.
func (e *Edge) Demote(owner int) {
	e.IsLeaf = true
	e.Bind(owner)
}

// PageNode is one vertex of the PTG.
type PageNode struct {
	Index               int
	Kind                NodeKind
	Snapshot            *Snapshot
	FunctionDescription string
	Edges               []Edge
	Visited             bool
}

// PTG is the Page Transition Graph.
// Nodes is an arena: a node's Index always equals its position and indices are never reused.
type PTG struct {
	Bundle             string
	ExploredContainers []string
	Nodes              []*PageNode

	buckets map[string][]int
}

// NewPTG creates an empty graph for the given application bundle.
func NewPTG(bundle string) *PTG {
	return &PTG{
		Bundle:  bundle,
		buckets: make(map[string][]int),
	}
}

// Len returns the number of nodes in the arena.
func (g *PTG) Len() int {
	return len(g.Nodes)
}

// Node returns the node at index i, or nil when out of range.
func (g *PTG) Node(i int) *PageNode {
	if i < 0 || i >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[i]
}

// NextIndex is the index the next AddPage or AddWidget call will assign.
func (g *PTG) NextIndex() int {
	return len(g.Nodes)
}

// AddPage appends a page node for snap and registers it in its container bucket.
func (g *PTG) AddPage(snap *Snapshot) *PageNode {
	n := &PageNode{Index: len(g.Nodes), Kind: NodeKindPage, Snapshot: snap}
	g.Nodes = append(g.Nodes, n)
	if snap != nil && snap.ContainerIdentity != "" {
		g.register(snap.ContainerIdentity, n.Index)
	}
	return n
}

// AddWidget appends a widget node that shares its owner's snapshot.
// Widget nodes are never equivalence candidates.
func (g *PTG) AddWidget(owner *PageNode, description string) *PageNode {
	n := &PageNode{
		Index:               len(g.Nodes),
		Kind:                NodeKindWidget,
		FunctionDescription: description,
		Visited:             true,
	}
	if owner != nil {
		n.Snapshot = owner.Snapshot
	}
	g.Nodes = append(g.Nodes, n)
	return n
}

// Candidates returns the page indices recorded under a container identity.
func (g *PTG) Candidates(container string) []int {
	if g.buckets == nil {
		return nil
	}
	return g.buckets[container]
}

// IsExplored reports whether any page of the container has been recorded.
func (g *PTG) IsExplored(container string) bool {
	return len(g.Candidates(container)) > 0
}

// Reindex rebuilds the container buckets and explored list from the node arena.
// Decoders call it after rebinding nodes.
func (g *PTG) Reindex() {
	g.buckets = make(map[string][]int)
	known := make(map[string]bool, len(g.ExploredContainers))
	for _, c := range g.ExploredContainers {
		known[c] = true
	}
	for _, n := range g.Nodes {
		if n.Kind != NodeKindPage || n.Snapshot == nil || n.Snapshot.ContainerIdentity == "" {
			continue
		}
		c := n.Snapshot.ContainerIdentity
		g.buckets[c] = append(g.buckets[c], n.Index)
		if !known[c] {
			known[c] = true
			g.ExploredContainers = append(g.ExploredContainers, c)
		}
	}
}

// ShortestPath returns the fewest steps leading from page from to page to,
// following only non-leaf edges between page nodes. ok is false when to is unreachable.
func (g *PTG) ShortestPath(from, to int) (steps []Step, ok bool) {
	if g.Node(from) == nil || g.Node(to) == nil {
		return nil, false
	}
	if from == to {
		return nil, true
	}

	type hop struct {
		prev int
		step Step
	}
	came := map[int]hop{from: {prev: -1}}
	queue := []int{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i, e := range g.Nodes[cur].Edges {
			next := e.TargetIndex()
			if e.IsLeaf || next == cur {
				continue
			}
			n := g.Node(next)
			if n == nil || n.Kind != NodeKindPage {
				continue
			}
			if _, seen := came[next]; seen {
				continue
			}
			came[next] = hop{prev: cur, step: Step{PageIndex: cur, EdgeIndex: i}}
			if next == to {
				for at := to; at != from; at = came[at].prev {
					steps = append(steps, came[at].step)
				}
				for l, r := 0, len(steps)-1; l < r; l, r = l+1, r-1 {
					steps[l], steps[r] = steps[r], steps[l]
				}
				return steps, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func (g *PTG) register(container string, index int) {
	if g.buckets == nil {
		g.buckets = make(map[string][]int)
	}
	if len(g.buckets[container]) == 0 {
		g.ExploredContainers = append(g.ExploredContainers, container)
	}
	g.buckets[container] = append(g.buckets[container], index)
}
