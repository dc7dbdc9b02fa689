package exam

import "sync"

type MsgKind int

const (
	MsgRequest MsgKind = iota
	MsgReply
)

func (k MsgKind) String() string {
	if k == MsgReply {
		return "REPLY"
	}
	return "REQUEST"
}

// Message is a mutual-exclusion protocol message. REQUEST carries the Lamport
// stamp of the contention attempt; REPLY the sender's clock at send time.
type Message struct {
	Kind      MsgKind
	From      string
	To        string
	Timestamp int64
}

// Transport carries REQUEST/REPLY traffic between participants. The engine
// runs the algorithm's message flow through this interface so it stays
// testable without a network layer.
type Transport interface {
	Send(to string, msg Message) error
}

// Loopback is the in-process transport: the coordinator mediates all
// participant traffic, so every message is delivered back into a single
// receiver. Delivery is asynchronous; senders never block on handlers.
type Loopback struct {
	mu      sync.RWMutex
	deliver func(Message)
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

// Bind installs the receiver for all subsequent sends.
func (l *Loopback) Bind(fn func(Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliver = fn
}

func (l *Loopback) Send(to string, msg Message) error {
	l.mu.RLock()
	fn := l.deliver
	l.mu.RUnlock()
	if fn == nil {
		return nil
	}
	msg.To = to
	go fn(msg)
	return nil
}
