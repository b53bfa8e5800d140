package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Visits []string
	N      int
}

func visit(name string) NodeFunc[counter] {
	return func(_ context.Context, s counter) (counter, error) {
		s.Visits = append(append([]string(nil), s.Visits...), name)
		s.N++
		return s, nil
	}
}

func TestRunLinear(t *testing.T) {
	r, err := New[counter]().
		AddNode("a", visit("a")).
		AddNode("b", visit("b")).
		AddEdge("a", "b").
		AddEdge("b", End).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	out, err := r.Run(context.Background(), counter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Visits)
}

func TestRunConditionalLoop(t *testing.T) {
	var events []Event[counter]
	r, err := New[counter]().
		AddNode("work", visit("work")).
		AddConditionalEdges("work", func(s counter) string {
			if s.N < 3 {
				return "work"
			}
			return End
		}, "work", End).
		SetEntry("work").
		Observe(func(_ context.Context, ev Event[counter]) { events = append(events, ev) }).
		Compile()
	require.NoError(t, err)

	out, err := r.Run(context.Background(), counter{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.N)
	require.Len(t, events, 3)
	assert.Equal(t, 3, events[2].Step)
	assert.Equal(t, "work", events[2].Node)
}

func TestRunStepLimit(t *testing.T) {
	r, err := New[counter]().
		AddNode("spin", visit("spin")).
		AddEdge("spin", "spin").
		SetEntry("spin").
		SetStepLimit(5).
		Compile()
	require.NoError(t, err)

	out, err := r.Run(context.Background(), counter{})
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, 5, out.N, "last state is returned")
}

func TestRunNodeErrorReturnsState(t *testing.T) {
	boom := errors.New("boom")
	var seen error
	r, err := New[counter]().
		AddNode("a", visit("a")).
		AddNode("fail", func(_ context.Context, s counter) (counter, error) {
			s.N = 42
			return s, boom
		}).
		AddEdge("a", "fail").
		AddEdge("fail", End).
		SetEntry("a").
		Observe(func(_ context.Context, ev Event[counter]) {
			if ev.Err != nil {
				seen = ev.Err
			}
		}).
		Compile()
	require.NoError(t, err)

	out, err := r.Run(context.Background(), counter{})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "node fail")
	assert.Equal(t, 42, out.N)
	assert.Equal(t, boom, seen)
}

func TestRunUndeclaredRouterTarget(t *testing.T) {
	r, err := New[counter]().
		AddNode("a", visit("a")).
		AddConditionalEdges("a", func(counter) string { return "nowhere" }, End).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = r.Run(context.Background(), counter{})
	assert.ErrorContains(t, err, `undeclared target "nowhere"`)
}

func TestRunCancelledContext(t *testing.T) {
	r, err := New[counter]().AddNode("a", visit("a")).AddEdge("a", End).SetEntry("a").Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := r.Run(ctx, counter{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, out.N)
}

func TestCompileErrors(t *testing.T) {
	tests := map[string]*Graph[counter]{
		"no entry":        New[counter]().AddNode("a", visit("a")).AddEdge("a", End),
		"unknown entry":   New[counter]().AddNode("a", visit("a")).AddEdge("a", End).SetEntry("b"),
		"unknown target":  New[counter]().AddNode("a", visit("a")).AddEdge("a", "b").SetEntry("a"),
		"no outgoing":     New[counter]().AddNode("a", visit("a")).SetEntry("a"),
		"duplicate node":  New[counter]().AddNode("a", visit("a")).AddNode("a", visit("a")).AddEdge("a", End).SetEntry("a"),
		"reserved name":   New[counter]().AddNode(End, visit("x")).SetEntry(End),
		"two rules":       New[counter]().AddNode("a", visit("a")).AddEdge("a", End).AddEdge("a", End).SetEntry("a"),
		"bad cond target": New[counter]().AddNode("a", visit("a")).AddConditionalEdges("a", func(counter) string { return End }, "zz").SetEntry("a"),
		"edge from ghost": New[counter]().AddNode("a", visit("a")).AddEdge("a", End).AddEdge("ghost", End).SetEntry("a"),
	}
	for name, g := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := g.Compile()
			assert.Error(t, err)
		})
	}
}

func TestCompiledGraphIsIndependent(t *testing.T) {
	g := New[counter]().AddNode("a", visit("a")).AddEdge("a", End).SetEntry("a")
	r, err := g.Compile()
	require.NoError(t, err)

	g.AddNode("b", visit("b"))
	out, err := r.Run(context.Background(), counter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Visits)
}
