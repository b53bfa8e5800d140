// Package graph is a small workflow engine: named nodes transform a state
// value and edges, fixed or state-dependent, pick the next node.
package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// End is the pseudo-node that terminates a run.
const End = "__end__"

// DefaultStepLimit bounds the number of node executions in one run.
const DefaultStepLimit = 25

// ErrStepLimit is returned when a run executes more nodes than allowed.
var ErrStepLimit = errors.New("graph: step limit reached")

// NodeFunc transforms the state. On error it should still return the state
// it reached, which the run hands back to the caller.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Router picks the next node from the state a node produced.
type Router[S any] func(state S) string

// Event describes one completed node execution.
type Event[S any] struct {
	Node     string
	Step     int
	State    S
	Duration time.Duration
	Err      error
}

// Observer is called after every node execution.
type Observer[S any] func(ctx context.Context, ev Event[S])

type conditional[S any] struct {
	route   Router[S]
	targets []string
}

// Graph is a mutable workflow definition. Compile it before running.
type Graph[S any] struct {
	nodes     map[string]NodeFunc[S]
	order     []string
	edges     map[string]string
	routers   map[string]conditional[S]
	entry     string
	stepLimit int
	observers []Observer[S]
	errs      []error
}

// New returns an empty graph.
func New[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:     make(map[string]NodeFunc[S]),
		edges:     make(map[string]string),
		routers:   make(map[string]conditional[S]),
		stepLimit: DefaultStepLimit,
	}
}

// AddNode registers a node. Names must be unique and not End.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	switch {
	case name == "" || name == End:
		g.errs = append(g.errs, fmt.Errorf("invalid node name %q", name))
	case fn == nil:
		g.errs = append(g.errs, fmt.Errorf("node %q has no function", name))
	case g.nodes[name] != nil:
		g.errs = append(g.errs, fmt.Errorf("duplicate node %q", name))
	default:
		g.nodes[name] = fn
		g.order = append(g.order, name)
	}
	return g
}

// AddEdge adds an unconditional transition.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	if g.hasRule(from) {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an outgoing rule", from))
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdges routes from a node by inspecting its output state.
// targets lists every node the router may return.
func (g *Graph[S]) AddConditionalEdges(from string, route Router[S], targets ...string) *Graph[S] {
	if g.hasRule(from) {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an outgoing rule", from))
		return g
	}
	if route == nil || len(targets) == 0 {
		g.errs = append(g.errs, fmt.Errorf("conditional edges from %q need a router and targets", from))
		return g
	}
	g.routers[from] = conditional[S]{route: route, targets: targets}
	return g
}

// SetEntry sets the first node of every run.
func (g *Graph[S]) SetEntry(name string) *Graph[S] {
	g.entry = name
	return g
}

// SetStepLimit overrides DefaultStepLimit.
func (g *Graph[S]) SetStepLimit(n int) *Graph[S] {
	if n > 0 {
		g.stepLimit = n
	}
	return g
}

// Observe registers an observer for node executions.
func (g *Graph[S]) Observe(o Observer[S]) *Graph[S] {
	if o != nil {
		g.observers = append(g.observers, o)
	}
	return g
}

func (g *Graph[S]) hasRule(from string) bool {
	_, e := g.edges[from]
	_, r := g.routers[from]
	return e || r
}

// Compile validates the definition and freezes it into a Runnable.
func (g *Graph[S]) Compile() (*Runnable[S], error) {
	errs := slices.Clone(g.errs)
	target := func(from, to string) {
		if to != End && g.nodes[to] == nil {
			errs = append(errs, fmt.Errorf("edge %s -> %s: unknown node", from, to))
		}
	}

	if g.entry == "" {
		errs = append(errs, errors.New("no entry node"))
	} else if g.nodes[g.entry] == nil {
		errs = append(errs, fmt.Errorf("entry node %q is not defined", g.entry))
	}
	for from, to := range g.edges {
		if g.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
		target(from, to)
	}
	for from, c := range g.routers {
		if g.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("conditional edges from unknown node %q", from))
		}
		for _, to := range c.targets {
			target(from, to)
		}
	}
	for _, name := range g.order {
		if !g.hasRule(name) {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile graph: %w", errors.Join(errs...))
	}

	r := &Runnable[S]{
		nodes:     make(map[string]NodeFunc[S], len(g.nodes)),
		edges:     make(map[string]string, len(g.edges)),
		routers:   make(map[string]conditional[S], len(g.routers)),
		entry:     g.entry,
		stepLimit: g.stepLimit,
		observers: slices.Clone(g.observers),
	}
	for k, v := range g.nodes {
		r.nodes[k] = v
	}
	for k, v := range g.edges {
		r.edges[k] = v
	}
	for k, v := range g.routers {
		r.routers[k] = v
	}
	return r, nil
}

// Runnable is a compiled, immutable graph.
type Runnable[S any] struct {
	nodes     map[string]NodeFunc[S]
	edges     map[string]string
	routers   map[string]conditional[S]
	entry     string
	stepLimit int
	observers []Observer[S]
}

// Run executes nodes from the entry until End. It always returns the last
// state reached, also when a node fails or the step limit is hit.
func (r *Runnable[S]) Run(ctx context.Context, state S) (S, error) {
	current := r.entry
	for step := 1; ; step++ {
		if step > r.stepLimit {
			return state, fmt.Errorf("%w (%d) before %s", ErrStepLimit, r.stepLimit, current)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		start := time.Now()
		next, err := r.nodes[current](ctx, state)
		state = next
		ev := Event[S]{Node: current, Step: step, State: state, Duration: time.Since(start), Err: err}
		for _, o := range r.observers {
			o(ctx, ev)
		}
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}

		to, err := r.next(current, state)
		if err != nil {
			return state, err
		}
		if to == End {
			return state, nil
		}
		current = to
	}
}

func (r *Runnable[S]) next(from string, state S) (string, error) {
	if to, ok := r.edges[from]; ok {
		return to, nil
	}
	c := r.routers[from]
	to := c.route(state)
	if !slices.Contains(c.targets, to) {
		return "", fmt.Errorf("router for %s returned undeclared target %q", from, to)
	}
	return to, nil
}
