// Package remotetask implements the remote-node proxy task: a
// local transform task that forwards its work to a daemon over a
// messenger. From the scheduler's point of view it behaves like any other
// transform; from the wire's point of view it drives the exact
// stream_json / send_inputs / get_requisition / get_result / cleanup /
// terminate sequence a hand-written client would.
package remotetask
