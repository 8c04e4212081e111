// Package buildgraph defines the build graph the scheduler walks: a DAG of
// Operation nodes, each carrying the inputs it depends on and a tagged kind
// the scheduler dispatches to the matching executor.
package buildgraph

import (
	"github.com/pkg/errors"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/container-build/buildcore/pkg/digest"
)

// OperationID uniquely identifies an operation node within a graph.
type OperationID string

// Kind tags an operation with the executor family that claims it.
type Kind uint8

const (
	// KindImageLoad produces a base snapshot with no parent.
	KindImageLoad Kind = iota
	// KindFilesystem performs COPY/ADD-style mutations over a prepared
	// mountpoint.
	KindFilesystem
	// KindExec performs RUN-style command simulation/execution.
	KindExec
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindImageLoad:
		return "imageLoad"
	case KindFilesystem:
		return "filesystem"
	case KindExec:
		return "exec"
	default:
		return "unknown"
	}
}

// Operation is a single node in the build graph.
type Operation struct {
	ID   OperationID
	Kind Kind

	// Inputs lists the operations this one depends on; the scheduler only
	// dispatches an operation once every input has completed.
	Inputs []OperationID

	// OperationDigest identifies this operation's content (e.g. a hash of
	// its command line, source file set, or base image reference) for cache
	// key derivation.
	OperationDigest digest.Digest

	// Command is populated for KindExec nodes.
	Command []string

	// Sources/Destination are populated for KindFilesystem nodes.
	Sources     []string
	Destination string

	// BaseImageReference is populated for KindImageLoad nodes.
	BaseImageReference string
}

// EnsureValid ensures that the operation is valid.
func (o *Operation) EnsureValid() error {
	if o == nil {
		return errors.New("nil operation")
	}
	if o.ID == "" {
		return errors.New("operation missing id")
	}
	switch o.Kind {
	case KindImageLoad, KindFilesystem, KindExec:
	default:
		return errors.New("operation has unknown kind")
	}
	if o.OperationDigest.IsZero() {
		return errors.New("operation missing operation digest")
	}
	return nil
}

// Graph is an immutable build graph: a set of operations plus the platform
// they execute against.
type Graph struct {
	Platform   v1.Platform
	operations map[OperationID]*Operation
	order      []OperationID
}

// New constructs a Graph from a platform and a set of operations, validating
// every operation and rejecting duplicate ids, unknown input references, and
// dependency cycles.
func New(platform v1.Platform, operations []*Operation) (*Graph, error) {
	g := &Graph{
		Platform:   platform,
		operations: make(map[OperationID]*Operation, len(operations)),
	}

	for _, op := range operations {
		if err := op.EnsureValid(); err != nil {
			return nil, errors.Wrapf(err, "invalid operation %q", op.ID)
		}
		if _, exists := g.operations[op.ID]; exists {
			return nil, errors.Errorf("duplicate operation id %q", op.ID)
		}
		g.operations[op.ID] = op
	}

	for _, op := range operations {
		for _, input := range op.Inputs {
			if _, ok := g.operations[input]; !ok {
				return nil, errors.Errorf("operation %q references unknown input %q", op.ID, input)
			}
		}
	}

	order, err := topologicalOrder(g.operations)
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// Operation returns the operation with the given id.
func (g *Graph) Operation(id OperationID) (*Operation, bool) {
	op, ok := g.operations[id]
	return op, ok
}

// Order returns operation ids in a valid dependency order: every operation
// appears after all of its inputs.
func (g *Graph) Order() []OperationID {
	out := make([]OperationID, len(g.order))
	copy(out, g.order)
	return out
}

// topologicalOrder performs a depth-first topological sort, detecting
// cycles.
func topologicalOrder(operations map[OperationID]*Operation) ([]OperationID, error) {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[OperationID]int, len(operations))
	order := make([]OperationID, 0, len(operations))

	// Iterate in a stable order (sorted by id) so that Order() is
	// deterministic across runs for identical graphs.
	ids := make([]OperationID, 0, len(operations))
	for id := range operations {
		ids = append(ids, id)
	}
	sortOperationIDs(ids)

	var visit func(id OperationID) error
	visit = func(id OperationID) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return errors.Errorf("build graph contains a cycle involving %q", id)
		}
		state[id] = visiting
		for _, input := range operations[id].Inputs {
			if err := visit(input); err != nil {
				return err
			}
		}
		state[id] = visited
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	return order, nil
}

func sortOperationIDs(ids []OperationID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
