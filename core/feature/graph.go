// Package feature evaluates per-revision features over a fixed dependency
// graph. Nodes declare their dependencies by ID; Solve computes a node after
// its dependencies and memoizes every value in a per-revision Cache, so a
// node shared by two consumers runs once per revision.
package feature

import (
	"fmt"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// NodeID is the stable identifier of a node within a graph.
type NodeID string

// Inputs holds the external values TextInput nodes read, keyed by name.
type Inputs map[string]any

// Node is one computation in a graph. The set of node kinds is closed:
// TextInput, Tokenize, Lookup and Mean.
type Node interface {
	// Name is the node's ID.
	Name() NodeID

	// Dependencies lists the nodes whose values feed compute, in argument order.
	Dependencies() []NodeID

	compute(deps []any, inputs Inputs, cache *Cache) (any, error)
}

// Graph is a validated, immutable node set. It is safe for concurrent use;
// all per-revision state lives in the Cache passed to Solve.
type Graph struct {
	nodes map[NodeID]Node
	order []NodeID
}

// NewGraph validates nodes and returns the graph. Duplicate IDs, references
// to unknown nodes and cycles are configuration errors.
func NewGraph(nodes ...Node) (*Graph, error) {
	g := &Graph{nodes: make(map[NodeID]Node, len(nodes))}
	for _, n := range nodes {
		id := n.Name()
		if _, exists := g.nodes[id]; exists {
			return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "build feature graph", string(id), ErrDuplicateNode)
		}
		g.nodes[id] = n
	}

	order, err := newValidator(g.nodes).validate()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// Order returns the node IDs in a dependency-respecting order.
func (g *Graph) Order() []NodeID {
	out := make([]NodeID, len(g.order))
	copy(out, g.order)
	return out
}

// Node returns the node registered under id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Solve returns the value of node id for the revision described by cache and
// inputs. Cached values are returned as is; otherwise dependencies are solved
// first, the node is computed and its value stored in cache.
func (g *Graph) Solve(id NodeID, cache *Cache, inputs Inputs) (any, error) {
	if v, ok := cache.lookup(id); ok {
		return v, nil
	}

	node, ok := g.nodes[id]
	if !ok {
		return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "solve", string(id), ErrUnknownNode)
	}

	deps := node.Dependencies()
	values := make([]any, len(deps))
	for i, dep := range deps {
		v, err := g.Solve(dep, cache, inputs)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	v, err := node.compute(values, inputs, cache)
	if err != nil {
		return nil, err
	}
	cache.store(id, v)
	return v, nil
}

// SolveVector solves id and asserts a vector result.
func SolveVector(g *Graph, id NodeID, cache *Cache, inputs Inputs) ([]float32, error) {
	v, err := g.Solve(id, cache, inputs)
	if err != nil {
		return nil, err
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, typeError(id, "[]float32", v)
	}
	return vec, nil
}

// SolveTokens solves id and asserts a token list result.
func SolveTokens(g *Graph, id NodeID, cache *Cache, inputs Inputs) ([]string, error) {
	v, err := g.Solve(id, cache, inputs)
	if err != nil {
		return nil, err
	}
	tokens, ok := v.([]string)
	if !ok {
		return nil, typeError(id, "[]string", v)
	}
	return tokens, nil
}

func typeError(id NodeID, want string, got any) error {
	return rcerrors.Errorf(rcerrors.KindConfiguration, "solve", string(id), "value is %T, want %s", got, want)
}

func depValue[T any](id NodeID, deps []any, i int) (T, error) {
	var zero T
	if i >= len(deps) {
		return zero, rcerrors.Errorf(rcerrors.KindConfiguration, "solve", string(id), "missing dependency value %d", i)
	}
	v, ok := deps[i].(T)
	if !ok {
		return zero, typeError(id, fmt.Sprintf("%T", zero), deps[i])
	}
	return v, nil
}
