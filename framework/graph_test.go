package framework

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type counterState struct {
	count int
	path  []string
}

type testNode struct {
	id   string
	kind NodeType
	run  func(context.Context, *counterState) error
}

func (n testNode) ID() string { return n.id }

func (n testNode) Type() NodeType {
	if n.kind == "" {
		return NodeTypeTool
	}
	return n.kind
}

func (n testNode) Execute(ctx context.Context, state *counterState) error {
	state.path = append(state.path, n.id)
	if n.run != nil {
		return n.run(ctx, state)
	}
	return nil
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingTelemetry) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func mustAdd(t *testing.T, g *Graph[*counterState], nodes ...testNode) {
	t.Helper()
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("add node %s: %v", n.id, err)
		}
	}
}

// TestGraphExecuteLinear ensures a simple three-node graph runs to completion
// and records the path it took.
func TestGraphExecuteLinear(t *testing.T) {
	graph := NewGraph[*counterState]()
	mustAdd(t, graph, testNode{id: "n1"}, testNode{id: "n2"}, testNode{id: "n3", kind: NodeTypeTerminal})
	if err := graph.SetStart("n1"); err != nil {
		t.Fatalf("set start: %v", err)
	}
	if err := graph.AddEdge("n1", "n2", nil); err != nil {
		t.Fatalf("edge n1->n2: %v", err)
	}
	if err := graph.AddEdge("n2", "n3", nil); err != nil {
		t.Fatalf("edge n2->n3: %v", err)
	}

	state := &counterState{}
	trace, err := graph.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute graph: %v", err)
	}
	if trace.Steps != 3 || len(trace.Path) != 3 || trace.Path[2] != "n3" {
		t.Fatalf("unexpected trace: %+v", trace)
	}
	if len(state.path) != 3 {
		t.Fatalf("expected every node to run once, got %v", state.path)
	}
}

// TestGraphMissingNode confirms AddEdge refuses connections to unknown nodes.
func TestGraphMissingNode(t *testing.T) {
	graph := NewGraph[*counterState]()
	mustAdd(t, graph, testNode{id: "n1"}, testNode{id: "n2"})
	if err := graph.SetStart("n1"); err != nil {
		t.Fatalf("set start: %v", err)
	}
	if err := graph.AddEdge("n2", "missing", nil); err == nil {
		t.Fatalf("expected error for missing node")
	}
	if err := graph.AddRouter("n1", func(*counterState) string { return "x" }, map[string]string{"x": "missing"}); err == nil {
		t.Fatalf("expected error for router targeting missing node")
	}
}

// TestGraphAllowsCycles verifies loops run until a condition releases them.
func TestGraphAllowsCycles(t *testing.T) {
	graph := NewGraph[*counterState]()
	counter := testNode{
		id: "counter",
		run: func(ctx context.Context, state *counterState) error {
			state.count++
			return nil
		},
	}
	mustAdd(t, graph, counter, testNode{id: "done", kind: NodeTypeTerminal})
	if err := graph.SetStart("counter"); err != nil {
		t.Fatalf("set start: %v", err)
	}
	if err := graph.AddEdge("counter", "counter", func(s *counterState) bool { return s.count < 3 }); err != nil {
		t.Fatalf("loop edge: %v", err)
	}
	if err := graph.AddEdge("counter", "done", func(s *counterState) bool { return s.count >= 3 }); err != nil {
		t.Fatalf("exit edge: %v", err)
	}

	state := &counterState{}
	if _, err := graph.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute graph: %v", err)
	}
	if state.count != 3 {
		t.Fatalf("expected count 3, got %d", state.count)
	}
}

// TestGraphStepLimit checks that a runaway loop is cut off with ErrStepLimit.
func TestGraphStepLimit(t *testing.T) {
	graph := NewGraph[*counterState]()
	graph.SetMaxSteps(4)
	mustAdd(t, graph, testNode{id: "loop"})
	if err := graph.SetStart("loop"); err != nil {
		t.Fatalf("set start: %v", err)
	}
	if err := graph.AddEdge("loop", "loop", nil); err != nil {
		t.Fatalf("loop edge: %v", err)
	}
	state := &counterState{}
	trace, err := graph.Execute(context.Background(), state)
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
	if trace.Steps != 4 || len(state.path) != 4 {
		t.Fatalf("expected exactly four executions, got trace=%+v path=%v", trace, state.path)
	}
}

// TestGraphRouterEvaluatedOnce ensures routers run exactly once per visit and
// may update state.
func TestGraphRouterEvaluatedOnce(t *testing.T) {
	graph := NewGraph[*counterState]()
	mustAdd(t, graph, testNode{id: "start"}, testNode{id: "left", kind: NodeTypeTerminal}, testNode{id: "right", kind: NodeTypeTerminal})
	if err := graph.SetStart("start"); err != nil {
		t.Fatalf("set start: %v", err)
	}
	calls := 0
	route := func(s *counterState) string {
		calls++
		s.count = 42
		return "right"
	}
	if err := graph.AddRouter("start", route, map[string]string{"left": "left", "right": "right"}); err != nil {
		t.Fatalf("add router: %v", err)
	}
	state := &counterState{}
	trace, err := graph.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute graph: %v", err)
	}
	if calls != 1 || state.count != 42 {
		t.Fatalf("router calls=%d count=%d", calls, state.count)
	}
	if trace.Path[len(trace.Path)-1] != "right" {
		t.Fatalf("expected to finish on right, got %v", trace.Path)
	}
}

// TestGraphAmbiguousTransition rejects two matching serial edges.
func TestGraphAmbiguousTransition(t *testing.T) {
	graph := NewGraph[*counterState]()
	mustAdd(t, graph, testNode{id: "a"}, testNode{id: "b"}, testNode{id: "c"})
	_ = graph.SetStart("a")
	_ = graph.AddEdge("a", "b", nil)
	_ = graph.AddEdge("a", "c", nil)
	if _, err := graph.Execute(context.Background(), &counterState{}); err == nil {
		t.Fatalf("expected ambiguity error")
	}
}

// TestGraphNodeError ensures node failures bubble up wrapped and are reported
// to telemetry.
func TestGraphNodeError(t *testing.T) {
	boom := errors.New("boom")
	graph := NewGraph[*counterState]()
	sink := &recordingTelemetry{}
	graph.SetTelemetry(sink)
	mustAdd(t, graph, testNode{id: "fail", run: func(context.Context, *counterState) error { return boom }})
	if err := graph.SetStart("fail"); err != nil {
		t.Fatalf("set start: %v", err)
	}
	ctx := WithRunID(context.Background(), "run-1")
	_, err := graph.Execute(ctx, &counterState{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	var sawError bool
	for _, ev := range sink.events {
		if ev.RunID != "run-1" {
			t.Fatalf("event missing run id: %+v", ev)
		}
		if ev.Type == EventNodeError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected a node_error event, got %+v", sink.events)
	}
}

// TestGraphHonoursCancellation stops before executing when the context is done.
func TestGraphHonoursCancellation(t *testing.T) {
	graph := NewGraph[*counterState]()
	mustAdd(t, graph, testNode{id: "only"})
	_ = graph.SetStart("only")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := &counterState{}
	if _, err := graph.Execute(ctx, state); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(state.path) != 0 {
		t.Fatalf("node should not have run: %v", state.path)
	}
}
