// Package daemon implements the request dispatcher that runs a task graph
// on behalf of a remote client over a messenger: a
// single-threaded state machine (idle → graph_loaded → streaming →
// drained → cleaned → idle | terminated) dispatching one handler per wire
// message type, with the scheduler itself running on a dedicated
// goroutine once a graph has been streamed in.
package daemon
