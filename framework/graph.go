package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// NodeType enumerates supported node categories.
type NodeType string

const (
	NodeTypeLLM         NodeType = "llm"
	NodeTypeTool        NodeType = "tool"
	NodeTypeConditional NodeType = "conditional"
	NodeTypeTerminal    NodeType = "terminal"
	NodeTypeSystem      NodeType = "system"
)

// DefaultMaxSteps bounds a run when the caller never sets its own ceiling.
const DefaultMaxSteps = 1024

// ErrStepLimit is returned when a run executes more nodes than the graph
// allows without reaching a terminal node.
var ErrStepLimit = errors.New("graph step limit exceeded")

// Node describes the unit of work executed inside a graph. Nodes mutate the
// shared state in place; the graph decides where to go next.
type Node[S any] interface {
	ID() string
	Type() NodeType
	Execute(ctx context.Context, state S) error
}

// ConditionFunc determines whether an edge should be followed.
type ConditionFunc[S any] func(state S) bool

// RouterFunc picks a route key after a node finishes. The key is looked up in
// the route table registered with AddRouter.
type RouterFunc[S any] func(state S) string

// Edge describes a transition between nodes.
type Edge[S any] struct {
	From      string
	To        string
	Condition ConditionFunc[S]
}

type router[S any] struct {
	fn     RouterFunc[S]
	routes map[string]string
}

// Trace records what a single Execute call did.
type Trace struct {
	Path  []string
	Steps int
}

// Graph orchestrates a workflow of nodes over a typed state. It behaves like a
// small deterministic state machine: nodes are registered ahead of time, edges
// or routers describe transitions, and Execute walks the graph while emitting
// telemetry and enforcing a ceiling on the total number of node executions.
type Graph[S any] struct {
	mu          sync.RWMutex
	nodes       map[string]Node[S]
	edges       map[string][]Edge[S]
	routers     map[string]router[S]
	startNodeID string
	maxSteps    int
	telemetry   Telemetry
}

// NewGraph creates a graph with sane defaults.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:    make(map[string]Node[S]),
		edges:    make(map[string][]Edge[S]),
		routers:  make(map[string]router[S]),
		maxSteps: DefaultMaxSteps,
	}
}

// SetTelemetry wires a telemetry sink for execution traces.
func (g *Graph[S]) SetTelemetry(t Telemetry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.telemetry = t
}

// SetMaxSteps caps the number of node executions in a single run. Values
// below one fall back to DefaultMaxSteps.
func (g *Graph[S]) SetMaxSteps(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n < 1 {
		n = DefaultMaxSteps
	}
	g.maxSteps = n
}

// emit must be called with g.mu held.
func (g *Graph[S]) emit(event Event) {
	if g.telemetry == nil {
		return
	}
	g.telemetry.Emit(event)
}

// SetStart marks the starting node.
func (g *Graph[S]) SetStart(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("start node %s not found", id)
	}
	g.startNodeID = id
	return nil
}

// AddNode registers a node.
func (g *Graph[S]) AddNode(node Node[S]) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[node.ID()]; exists {
		return fmt.Errorf("node %s already exists", node.ID())
	}
	g.nodes[node.ID()] = node
	return nil
}

// AddEdge wires two nodes together. A nil condition always matches.
func (g *Graph[S]) AddEdge(from, to string, condition ConditionFunc[S]) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("node %s not defined", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("node %s not defined", to)
	}
	if _, ok := g.routers[from]; ok {
		return fmt.Errorf("node %s already has a router", from)
	}
	g.edges[from] = append(g.edges[from], Edge[S]{From: from, To: to, Condition: condition})
	return nil
}

// AddRouter attaches a routing function to a node. The router is evaluated
// exactly once per visit, so it may update the state it routes on.
func (g *Graph[S]) AddRouter(from string, fn RouterFunc[S], routes map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("node %s not defined", from)
	}
	if len(g.edges[from]) > 0 {
		return fmt.Errorf("node %s already has edges", from)
	}
	table := make(map[string]string, len(routes))
	for key, to := range routes {
		if _, ok := g.nodes[to]; !ok {
			return fmt.Errorf("route %s from %s targets unknown node %s", key, from, to)
		}
		table[key] = to
	}
	g.routers[from] = router[S]{fn: fn, routes: table}
	return nil
}

// Validate checks that the graph is executable.
func (g *Graph[S]) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.startNodeID == "" {
		return errors.New("graph has no start node")
	}
	if _, ok := g.nodes[g.startNodeID]; !ok {
		return fmt.Errorf("start node %s missing", g.startNodeID)
	}
	for from, edges := range g.edges {
		for _, edge := range edges {
			if _, ok := g.nodes[edge.To]; !ok {
				return fmt.Errorf("edge %s -> %s targets unknown node", from, edge.To)
			}
		}
	}
	return nil
}

// Execute runs the graph from its start node until a terminal node is reached
// or no transition applies.
func (g *Graph[S]) Execute(ctx context.Context, state S) (*Trace, error) {
	if err := g.Validate(); err != nil {
		return &Trace{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	runID := RunIDFrom(ctx)
	g.emit(Event{Type: EventGraphStart, RunID: runID, Timestamp: time.Now().UTC()})
	trace, err := g.run(ctx, state, runID)
	status := "success"
	if err != nil {
		status = "error"
	}
	g.emit(Event{
		Type:      EventGraphFinish,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"status": status,
			"steps":  trace.Steps,
		},
	})
	return trace, err
}

func (g *Graph[S]) run(ctx context.Context, state S, runID string) (*Trace, error) {
	trace := &Trace{}
	current := g.startNodeID
	for current != "" {
		select {
		case <-ctx.Done():
			return trace, ctx.Err()
		default:
		}
		node, ok := g.nodes[current]
		if !ok {
			return trace, fmt.Errorf("node %s missing", current)
		}
		if trace.Steps >= g.maxSteps {
			return trace, fmt.Errorf("%w: %d steps taken, next node %s", ErrStepLimit, trace.Steps, current)
		}
		trace.Steps++
		trace.Path = append(trace.Path, current)
		g.emit(Event{
			Type:      EventNodeStart,
			NodeID:    current,
			RunID:     runID,
			Timestamp: time.Now().UTC(),
		})
		if err := node.Execute(ctx, state); err != nil {
			err = fmt.Errorf("node %s execution failed: %w", current, err)
			g.emit(Event{
				Type:      EventNodeError,
				NodeID:    current,
				RunID:     runID,
				Timestamp: time.Now().UTC(),
				Message:   err.Error(),
			})
			return trace, err
		}
		g.emit(Event{
			Type:      EventNodeFinish,
			NodeID:    current,
			RunID:     runID,
			Timestamp: time.Now().UTC(),
		})
		next, err := g.next(node, state)
		if err != nil {
			return trace, err
		}
		current = next
	}
	return trace, nil
}

// next resolves the single transition out of node. Terminal nodes and nodes
// without edges end the run.
func (g *Graph[S]) next(node Node[S], state S) (string, error) {
	if node.Type() == NodeTypeTerminal {
		return "", nil
	}
	if r, ok := g.routers[node.ID()]; ok {
		key := r.fn(state)
		to, ok := r.routes[key]
		if !ok {
			return "", fmt.Errorf("router for %s returned unknown route %q", node.ID(), key)
		}
		return to, nil
	}
	var matched []Edge[S]
	for _, edge := range g.edges[node.ID()] {
		if edge.Condition != nil && !edge.Condition(state) {
			continue
		}
		matched = append(matched, edge)
	}
	switch len(matched) {
	case 0:
		return "", nil
	case 1:
		return matched[0].To, nil
	default:
		return "", fmt.Errorf("ambiguous transitions from %s", node.ID())
	}
}

// FuncNode adapts a plain function into a Node.
type FuncNode[S any] struct {
	NodeID   string
	NodeKind NodeType
	Fn       func(ctx context.Context, state S) error
}

// NewFuncNode builds a FuncNode.
func NewFuncNode[S any](id string, kind NodeType, fn func(ctx context.Context, state S) error) *FuncNode[S] {
	return &FuncNode[S]{NodeID: id, NodeKind: kind, Fn: fn}
}

// ID implements Node.
func (n *FuncNode[S]) ID() string { return n.NodeID }

// Type implements Node.
func (n *FuncNode[S]) Type() NodeType { return n.NodeKind }

// Execute implements Node.
func (n *FuncNode[S]) Execute(ctx context.Context, state S) error {
	if n.Fn == nil {
		return nil
	}
	return n.Fn(ctx, state)
}
