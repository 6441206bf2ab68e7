package core

// Frame is a raw encoded envelope.
type Frame []byte

// SignalConnection abstracts the relay messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
