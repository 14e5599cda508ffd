package messenger

import "net"

// NewPipe returns two connected in-memory Messengers, one per side of a
// net.Pipe, standing in for the network in tests.
func NewPipe() (client Messenger, server Messenger) {
	a, b := net.Pipe()
	return newConnMessenger(a), newConnMessenger(b)
}
