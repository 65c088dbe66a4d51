package feature

import (
	"errors"
	"sort"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

var (
	ErrDuplicateNode     = errors.New("duplicate node id")
	ErrMissingDependency = errors.New("dependency not in graph")
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrUnknownNode       = errors.New("node not in graph")
	ErrEmptyGraph        = errors.New("graph has no nodes")
)

// =============================================================================
// Validator
// =============================================================================

// validator checks graph structure and computes a topological order.
type validator struct {
	nodes      map[NodeID]Node
	dependents map[NodeID][]NodeID
}

func newValidator(nodes map[NodeID]Node) *validator {
	return &validator{nodes: nodes, dependents: make(map[NodeID][]NodeID, len(nodes))}
}

func (v *validator) validate() ([]NodeID, error) {
	if len(v.nodes) == 0 {
		return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "build feature graph", "", ErrEmptyGraph)
	}
	if err := v.validateDependencies(); err != nil {
		return nil, err
	}
	v.buildDependents()
	return v.topologicalSort()
}

func (v *validator) validateDependencies() error {
	for _, id := range v.sortedIDs() {
		for _, dep := range v.nodes[id].Dependencies() {
			if _, exists := v.nodes[dep]; !exists {
				return rcerrors.Wrap(rcerrors.KindConfiguration, "build feature graph",
					string(id)+" -> "+string(dep), ErrMissingDependency)
			}
		}
	}
	return nil
}

func (v *validator) buildDependents() {
	for _, id := range v.sortedIDs() {
		for _, dep := range v.nodes[id].Dependencies() {
			v.dependents[dep] = append(v.dependents[dep], id)
		}
	}
}

// topologicalSort runs Kahn's algorithm. Nodes left unordered sit on a cycle.
func (v *validator) topologicalSort() ([]NodeID, error) {
	inDegree := make(map[NodeID]int, len(v.nodes))
	for id, n := range v.nodes {
		inDegree[id] = len(n.Dependencies())
	}

	queue := make([]NodeID, 0)
	for _, id := range v.sortedIDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]NodeID, 0, len(v.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dependent := range v.dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(v.nodes) {
		return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "build feature graph",
			string(v.firstUnordered(inDegree)), ErrCyclicDependency)
	}
	return order, nil
}

func (v *validator) firstUnordered(inDegree map[NodeID]int) NodeID {
	for _, id := range v.sortedIDs() {
		if inDegree[id] > 0 {
			return id
		}
	}
	return ""
}

func (v *validator) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(v.nodes))
	for id := range v.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
