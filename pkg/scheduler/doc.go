/*
Package scheduler executes a task graph built with pkg/graph to completion
against a resource set built with pkg/resourcemanager.

# Architecture

Setup runs once, in topological order, before any node processes a frame.
Every node then gets its own executor goroutine:

	┌─────────────────────────────────────────────────┐
	│ Setup: walk topological order, call Task.Setup   │
	└────────────────────┬──────────────────────────────┘
	                     ▼
	┌─────────────────────────────────────────────────┐
	│ spawn one executor goroutine per node            │
	│                                                   │
	│   pop one buffer per input edge                  │
	│   any input = finish? -> push finish, exit       │
	│   GetRequisition -> RequestBuffer -> Process      │
	│   push output to every output edge               │
	│   release consumed inputs                        │
	│   repeat                                         │
	└────────────────────┬──────────────────────────────┘
	                     ▼
	┌─────────────────────────────────────────────────┐
	│ wg.Wait(): join every executor, return first err │
	└─────────────────────────────────────────────────┘

A node with no input edges (a source) has no input port to observe a
finish sentinel on; its own Process return status drives termination
instead.

# Error handling

An executor that hits an error records it (first error wins), still
propagates finish downstream so the rest of the graph drains instead of
deadlocking on a node that will never produce again, and exits. Sibling
executors are unaffected and continue until they, too, see finish.

# Cancellation

Cancel sets a flag every source executor checks between frames, and
pushes the finish sentinel directly onto every root node's output edges
so downstream nodes stop waiting on input that will never arrive.

# Usage

	g := graph.New()
	in := g.AddNode(task.NewInput("in", dims, 2))
	out := g.AddNode(task.NewOutput("out", 2))
	g.Connect(in, out, 0, 2)

	sched := scheduler.New(g, resources)
	if err := sched.Run(); err != nil {
		log.Error().Err(err).Msg("graph run failed")
	}
*/
package scheduler
