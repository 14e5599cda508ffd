// Package messenger implements the transport-agnostic request/reply
// channel the daemon and remote-node proxy task speak:
// fixed message types, a length-prefixed wire encoding, and a Messenger
// interface any net.Conn-backed transport can satisfy. A TCP
// transport and an in-memory pipe for tests both wrap the same
// connMessenger.
package messenger
