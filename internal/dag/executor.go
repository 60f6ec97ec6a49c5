package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gitter-badger/stack/internal/ctxlog"
)

// Executor runs a graph on a bounded worker pool.
type Executor struct {
	Graph      *Graph
	actions    Actions
	numWorkers int
	wg         sync.WaitGroup
}

// NewExecutor creates an executor over graph. An invalid worker count
// falls back to 1.
func NewExecutor(graph *Graph, actions Actions, numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Executor{
		Graph:      graph,
		actions:    actions,
		numWorkers: numWorkers,
	}
}

// Run executes the whole graph and returns an error if any node failed.
// A node failure skips its transitive dependents, but nodes on unrelated
// subtrees keep running so one invocation surfaces as many independent
// problems as possible. Already-running nodes are never interrupted.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	readyChan := make(chan *Node, len(e.Graph.Nodes))

	rootCount := 0
	for _, node := range e.Graph.Nodes {
		if node.depCount.Load() == 0 {
			readyChan <- node
			rootCount++
		}
	}
	logger.Debug("Executor initialized.", "roots", rootCount, "workers", e.numWorkers)

	e.wg.Add(len(e.Graph.Nodes))
	for i := 0; i < e.numWorkers; i++ {
		go e.worker(ctx, readyChan, i)
	}
	e.wg.Wait()
	close(readyChan)

	return e.collectFailures(ctx)
}

// collectFailures turns the post-run node states into the run result,
// separating real failures from skip symptoms.
func (e *Executor) collectFailures(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	var failedIDs []string
	var causes []error
	for _, node := range e.Graph.Nodes {
		if node.State() != Failed {
			continue
		}
		logger.Error("Node failed.", "node", node.ID, "error", node.Err)
		var skip *skipError
		if node.Err != nil && !errors.As(node.Err, &skip) && !errors.Is(node.Err, context.Canceled) {
			failedIDs = append(failedIDs, node.ID)
			causes = append(causes, node.Err)
		}
	}
	if len(causes) == 0 {
		return nil
	}
	sort.Strings(failedIDs)
	return fmt.Errorf("build failed for %s: %w", strings.Join(failedIDs, ", "), errors.Join(causes...))
}

// skipError marks a node that never ran because an upstream node failed.
type skipError struct {
	upstream string
}

func (s *skipError) Error() string {
	return fmt.Sprintf("skipped due to upstream failure of '%s'", s.upstream)
}

// skipDependents recursively marks all downstream nodes as failed without
// running them.
func (e *Executor) skipDependents(ctx context.Context, node *Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range node.Dependents {
		dependent.skipOnce.Do(func() {
			logger.Warn("Skipping node due to upstream failure.", "node", dependent.ID, "failed_dependency", node.ID)
			dependent.setState(Failed)
			dependent.Err = &skipError{upstream: node.ID}
			e.wg.Done()
			e.skipDependents(ctx, dependent)
		})
	}
}

// worker is the processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *Node, workerID int) {
	logger := ctxlog.FromContext(ctx)

	for node := range readyChan {
		nodeLogger := logger.With("worker", workerID, "node", node.ID)

		if ctx.Err() != nil {
			node.skipOnce.Do(func() {
				nodeLogger.Warn("Context canceled, not starting node.")
				node.setState(Failed)
				node.Err = ctx.Err()
				e.wg.Done()
				e.skipDependents(ctx, node)
			})
			continue
		}

		node.setState(Running)
		err := e.runNode(ctx, node, nodeLogger)
		if err != nil {
			nodeLogger.Error("Node execution failed.", "error", err)
			node.setState(Failed)
			node.Err = err
			e.skipDependents(ctx, node)
			e.wg.Done()
			continue
		}

		node.setState(Done)
		for _, dependent := range node.Dependents {
			if dependent.depCount.Add(-1) == 0 {
				readyChan <- dependent
			}
		}
		e.wg.Done()
	}
}

// runNode consults the stage's staleness check and invokes the action only
// when its outputs are out of date.
func (e *Executor) runNode(ctx context.Context, node *Node, logger *slog.Logger) error {
	switch node.Stage {
	case StageConfigure:
		if e.actions.ConfigureCurrent(node.Pkg) {
			logger.Debug("Configure up to date, skipping action.")
			return nil
		}
		return e.actions.Configure(ctx, node.Pkg)
	case StageBuild:
		if e.actions.BuildCurrent(node.Pkg) {
			logger.Debug("Build up to date, skipping action.")
			return nil
		}
		return e.actions.Build(ctx, node.Pkg)
	default:
		return fmt.Errorf("unknown stage %q for node %s", node.Stage, node.ID)
	}
}
