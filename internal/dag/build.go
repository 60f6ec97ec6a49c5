package dag

import (
	"context"
	"fmt"

	"github.com/gitter-badger/stack/internal/ctxlog"
	"github.com/gitter-badger/stack/internal/pack"
)

// Build constructs the validated task graph for a working set. Every
// package gets a configure node and a build node; build depends on
// configure, and configure depends on the build node of every dependency
// resolvable inside the working set, so dependencies are built and
// installed before a dependent package is configured.
func Build(ctx context.Context, working []*pack.Package) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting graph construction.")

	graph := &Graph{Nodes: make(map[string]*Node, 2*len(working))}

	// First pass: create both stage nodes for every package.
	for _, p := range working {
		for _, stage := range []Stage{StageConfigure, StageBuild} {
			id := NodeID(p.Name, stage)
			if _, exists := graph.Nodes[id]; exists {
				return nil, fmt.Errorf("duplicate package name %q in working set", p.Name)
			}
			graph.Nodes[id] = &Node{
				ID:         id,
				Stage:      stage,
				Pkg:        p,
				Deps:       make(map[string]*Node),
				Dependents: make(map[string]*Node),
			}
		}
	}
	logger.Debug("Build: node creation complete.", "node_count", len(graph.Nodes))

	// Second pass: link stage and dependency edges.
	for _, p := range working {
		configure := graph.Nodes[NodeID(p.Name, StageConfigure)]
		build := graph.Nodes[NodeID(p.Name, StageBuild)]
		link(configure, build)

		for dep := range p.Deps {
			depBuild, ok := graph.Nodes[NodeID(dep, StageBuild)]
			if !ok {
				// Not part of the working set: satisfied by an already
				// installed package outside this run.
				continue
			}
			link(depBuild, configure)
		}
	}
	logger.Debug("Build: node linking complete.")

	// Third pass: initialize readiness counters.
	for _, node := range graph.Nodes {
		node.depCount.Store(int32(len(node.Deps)))
	}

	if err := graph.detectCycles(); err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}
	logger.Debug("Build: graph construction successful.")
	return graph, nil
}

// detectCycles checks for circular dependencies in the graph using DFS.
func (g *Graph) detectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(node *Node) error
	visit = func(node *Node) error {
		visiting[node.ID] = true
		for _, dep := range node.Deps {
			if visiting[dep.ID] {
				return fmt.Errorf("cycle detected involving '%s'", dep.ID)
			}
			if !visited[dep.ID] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		delete(visiting, node.ID)
		visited[node.ID] = true
		return nil
	}

	for _, node := range g.Nodes {
		if !visited[node.ID] {
			if err := visit(node); err != nil {
				return err
			}
		}
	}
	return nil
}
