// Package graph implements the task-graph DAG: nodes own a task, edges own a
// bounded FIFO of buffers between a producer's output and one consumer's
// input port. See graph.go for connection and traversal rules.
package graph
