// Package scheduler walks a buildgraph.Graph in dependency order,
// dispatching each node to the Executor registered for its Kind and wiring
// the result through the cache and execution context. Dispatch is bounded by
// a configurable concurrency limit; with fail-fast enabled, the first
// operation failure cancels all remaining work via the dispatch group's
// context.
package scheduler

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/container-build/buildcore/pkg/buildcontext"
	"github.com/container-build/buildcore/pkg/buildcoreerrors"
	"github.com/container-build/buildcore/pkg/buildgraph"
	"github.com/container-build/buildcore/pkg/buildinfo"
	"github.com/container-build/buildcore/pkg/cache"
	"github.com/container-build/buildcore/pkg/cachemanifest"
	"github.com/container-build/buildcore/pkg/diffkey"
	"github.com/container-build/buildcore/pkg/diffmodel"
	"github.com/container-build/buildcore/pkg/digest"
	"github.com/container-build/buildcore/pkg/logging"
	"github.com/container-build/buildcore/pkg/snapshot"
)

// Result is what an Executor produces for one operation: the deltas it
// applied to the execution context, plus the diff records describing what
// changed on disk between the operation's parent and child snapshot.
type Result struct {
	EnvironmentChanges map[string]string
	MetadataChanges    map[string]string
	Diffs              []*diffmodel.Diff
}

// Executor performs the operation-specific side effects for one
// buildgraph.Operation against a freshly-prepared snapshot mountpoint. It
// must not commit or remove the snapshot itself; the scheduler drives the
// snapshot lifecycle around it.
type Executor interface {
	Execute(ctx context.Context, op *buildgraph.Operation, stageCtx *buildcontext.Context, mountpoint string) (*Result, error)
}

// Registry maps an operation Kind to the Executor that claims it.
type Registry struct {
	executors map[buildgraph.Kind]Executor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[buildgraph.Kind]Executor)}
}

// Register installs executor as the handler for kind, replacing any prior
// registration.
func (r *Registry) Register(kind buildgraph.Kind, executor Executor) {
	r.executors[kind] = executor
}

// lookup returns the executor for kind, or an unsupportedOperation error if
// none is registered.
func (r *Registry) lookup(kind buildgraph.Kind) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, buildcoreerrors.New(buildcoreerrors.KindUnsupportedOperation, "no executor registered for operation kind "+kind.String())
	}
	return executor, nil
}

// Configuration enumerates the scheduler's tunables.
type Configuration struct {
	// Concurrency bounds how many operations may be dispatched at once. A
	// value <= 0 is treated as 1.
	Concurrency int
	// FailFast cancels remaining work the moment one operation fails.
	FailFast bool
	// OperationType/BuildVersion are recorded on cache manifests produced by
	// this scheduler's runs.
	OperationType string
	BuildVersion  string
}

// Scheduler walks a build graph, dispatching each operation to its executor
// and threading results through the cache and an execution context.
type Scheduler struct {
	graph    *buildgraph.Graph
	context  *buildcontext.Context
	cache    *cache.Cache
	registry *Registry
	config   Configuration
	logger   *logging.Logger
}

// New constructs a Scheduler for one build graph run. An empty
// config.BuildVersion defaults to buildinfo.Version.
func New(graph *buildgraph.Graph, stageCtx *buildcontext.Context, c *cache.Cache, registry *Registry, config Configuration, logger *logging.Logger) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.BuildVersion == "" {
		config.BuildVersion = buildinfo.Version
	}
	return &Scheduler{
		graph:    graph,
		context:  stageCtx,
		cache:    c,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// nodeState tracks one operation's completion for dependency waiting.
type nodeState struct {
	done chan struct{}
	err  error
}

// Run walks the graph in dependency order, dispatching ready operations up
// to config.Concurrency at a time. With FailFast set, the first operation
// failure cancels the run and Run returns that error once every
// already-dispatched operation has unwound; otherwise Run dispatches every
// operation whose inputs succeed. An operation with a failed input is not
// dispatched; its failure wraps the input's error and names that input. A
// single failure is returned as is; several are reported as one error
// giving their count and the first failure.
func (s *Scheduler) Run(ctx context.Context) error {
	order := s.graph.Order()
	states := make(map[buildgraph.OperationID]*nodeState, len(order))
	for _, id := range order {
		states[id] = &nodeState{done: make(chan struct{})}
	}

	if s.config.FailFast {
		return s.runFailFast(ctx, order, states)
	}
	return s.runBestEffort(ctx, order, states)
}

func (s *Scheduler) runFailFast(ctx context.Context, order []buildgraph.OperationID, states map[buildgraph.OperationID]*nodeState) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, id := range order {
		id := id
		st := states[id]
		g.Go(func() error {
			defer close(st.done)
			if err := s.awaitInputs(gctx, id, states); err != nil {
				st.err = err
				return err
			}
			if err := s.dispatch(gctx, id); err != nil {
				st.err = err
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) runBestEffort(ctx context.Context, order []buildgraph.OperationID, states map[buildgraph.OperationID]*nodeState) error {
	sem := semaphore.NewWeighted(int64(s.config.Concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error

	for _, id := range order {
		id := id
		st := states[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(st.done)

			if err := s.awaitInputs(ctx, id, states); err != nil {
				st.err = err
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				st.err = err
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			if err := s.dispatch(ctx, id); err != nil {
				st.err = err
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if len(failures) == 0 {
		return nil
	}
	if len(failures) == 1 {
		return failures[0]
	}
	return errors.Errorf("%d operations failed, first: %v", len(failures), failures[0])
}

// awaitInputs blocks until every input of id has finished, returning the
// first input failure (wrapped) or nil if all inputs succeeded.
func (s *Scheduler) awaitInputs(ctx context.Context, id buildgraph.OperationID, states map[buildgraph.OperationID]*nodeState) error {
	op, _ := s.graph.Operation(id)
	for _, input := range op.Inputs {
		inputState := states[input]
		select {
		case <-inputState.done:
			if inputState.err != nil {
				return errors.Wrapf(inputState.err, "dependency %q failed", input)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// dispatch runs the cache-check/execute/commit/cache-put sequence for a
// single ready operation.
func (s *Scheduler) dispatch(ctx context.Context, id buildgraph.OperationID) error {
	op, _ := s.graph.Operation(id)

	executor, err := s.registry.lookup(op.Kind)
	if err != nil {
		return err
	}

	key, err := s.cacheKeyFor(op)
	if err != nil {
		return errors.Wrap(err, "unable to derive cache key")
	}

	result, hit, err := s.cache.Get(key)
	if err != nil {
		return errors.Wrap(err, "cache lookup failed")
	}
	if hit {
		s.context.MergeEnvironment(result.EnvironmentChanges)
		s.context.MergeMetadata(result.MetadataChanges)
		restored := &snapshot.Snapshot{
			ID:             snapshot.ID(string(id) + "-cached"),
			HasParent:      true,
			State:          snapshot.StateCommitted,
			Digest:         result.Snapshot.Digest,
			Size:           result.Snapshot.Size,
			LayerDigest:    result.Snapshot.LayerDigest,
			HasLayerDigest: !result.Snapshot.LayerDigest.IsZero(),
			LayerSize:      result.Snapshot.LayerSize,
			LayerMediaType: result.Snapshot.LayerMediaType,
			DiffKey:        result.Snapshot.DiffKey,
		}
		s.context.PromoteSnapshot(buildcontext.OperationID(id), restored)
		return nil
	}

	var executorResult *Result
	bcOpID := buildcontext.OperationID(id)
	_, committed, err := s.context.WithSnapshot(ctx, bcOpID, nil, func(prepared *snapshot.Snapshot) (interface{}, error) {
		r, execErr := executor.Execute(ctx, op, s.context, prepared.Mountpoint)
		if execErr != nil {
			return nil, buildcoreerrors.WithKind(buildcoreerrors.KindExecutionFailed, execErr, "operation executor failed")
		}
		executorResult = r
		return r, nil
	})
	if err != nil {
		return err
	}

	diffKey, err := diffkey.Compute(executorResult.Diffs, true, committed.ParentDigest, committed.HasParent)
	if err != nil {
		return errors.Wrap(err, "unable to compute diff key")
	}
	committed.DiffKey = diffKey.String()

	if executorResult.EnvironmentChanges != nil {
		s.context.MergeEnvironment(executorResult.EnvironmentChanges)
	}
	if executorResult.MetadataChanges != nil {
		s.context.MergeMetadata(executorResult.MetadataChanges)
	}

	s.cache.Put(&cache.Result{
		Snapshot: cachemanifest.SnapshotReference{
			Digest:         committed.Digest,
			Size:           committed.Size,
			LayerDigest:    committed.LayerDigest,
			LayerSize:      committed.LayerSize,
			LayerMediaType: committed.LayerMediaType,
			DiffKey:        committed.DiffKey,
		},
		EnvironmentChanges: executorResult.EnvironmentChanges,
		MetadataChanges:    executorResult.MetadataChanges,
	}, key, s.config.OperationType, s.config.BuildVersion, nil)

	return nil
}

// cacheKeyFor derives a cache.Key from an operation's own digest, its
// inputs' digests, and the graph's platform.
func (s *Scheduler) cacheKeyFor(op *buildgraph.Operation) (cache.Key, error) {
	inputs := make([]digest.Digest, 0, len(op.Inputs))
	for _, inputID := range op.Inputs {
		inputOp, ok := s.graph.Operation(inputID)
		if !ok {
			return cache.Key{}, errors.Errorf("operation %q references unknown input %q", op.ID, inputID)
		}
		inputs = append(inputs, inputOp.OperationDigest)
	}
	return cache.Key{
		OperationDigest: op.OperationDigest,
		InputDigests:    inputs,
		Platform:        s.graph.Platform,
	}, nil
}
