// Package dag builds and executes the incremental task graph: two typed
// nodes per package (configure, build) with explicit dependency edges,
// run by a concurrency-limited worker pool.
package dag

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gitter-badger/stack/internal/pack"
)

// Stage identifies which of a package's two actions a node runs.
type Stage string

const (
	StageConfigure Stage = "configure"
	StageBuild     Stage = "build"
)

// NodeState tracks a node through the run.
type NodeState int32

const (
	Pending NodeState = iota
	Running
	Done
	Failed
)

// Actions supplies the per-package behavior the graph schedules. The graph
// owns ordering and memoization; Actions own the side effects and the
// staleness checks that let an up-to-date node complete without running.
type Actions interface {
	// Configure runs the configure stage for a package.
	Configure(ctx context.Context, pkg *pack.Package) error
	// Build runs the build stage (build, optional final action, install).
	Build(ctx context.Context, pkg *pack.Package) error
	// ConfigureCurrent reports whether the configure stage's outputs are
	// newer than all its prerequisites.
	ConfigureCurrent(pkg *pack.Package) bool
	// BuildCurrent reports the same for the build stage.
	BuildCurrent(pkg *pack.Package) bool
}

// Node is a single vertex: one stage of one package. A node executes at
// most once per run regardless of how many dependents demand it.
type Node struct {
	// ID is "<stage>.<package name>", unique within the graph.
	ID    string
	Stage Stage
	Pkg   *pack.Package

	Deps       map[string]*Node
	Dependents map[string]*Node

	// depCount reaches zero when every prerequisite has completed, making
	// the node ready.
	depCount atomic.Int32
	state    atomic.Int32
	// Err holds the node's failure, or the skip reason when an upstream
	// node failed.
	Err error
	// skipOnce guards the transition into the skipped-failed state so a
	// node is skipped exactly once even when several upstreams fail.
	skipOnce sync.Once
}

// State returns the node's current state.
func (n *Node) State() NodeState {
	return NodeState(n.state.Load())
}

func (n *Node) setState(s NodeState) {
	n.state.Store(int32(s))
}

// Graph is the full task graph for one run.
type Graph struct {
	Nodes map[string]*Node
}

// NodeID returns the graph key for a package stage.
func NodeID(name pack.Name, stage Stage) string {
	return string(stage) + "." + string(name)
}

// link records that to depends on from.
func link(from, to *Node) {
	if _, exists := to.Deps[from.ID]; exists {
		return
	}
	to.Deps[from.ID] = from
	from.Dependents[to.ID] = to
}
