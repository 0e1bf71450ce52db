package can

import "sync"

// VirtualBus is an in-process Bus used for deterministic protocol tests
// without a real CAN adapter.
type VirtualBus struct {
	mu        sync.Mutex
	listeners []FrameListener
	// Reply, if set, is invoked synchronously from Send to produce the
	// server's response frame(s), emulating a node's SDO server.
	Reply func(Frame) []Frame
}

func init() {
	RegisterBackend("virtual", func(string) (Bus, error) { return NewVirtualBus(), nil })
}

// NewVirtualBus returns a ready, disconnected VirtualBus.
func NewVirtualBus() *VirtualBus {
	return &VirtualBus{}
}

func (b *VirtualBus) Connect() error    { return nil }
func (b *VirtualBus) Disconnect() error { return nil }

func (b *VirtualBus) Send(frame Frame) error {
	if b.Reply == nil {
		return nil
	}
	for _, reply := range b.Reply(frame) {
		b.dispatch(reply)
	}
	return nil
}

func (b *VirtualBus) Subscribe(listener FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener)
	return nil
}

func (b *VirtualBus) dispatch(frame Frame) {
	b.mu.Lock()
	listeners := append([]FrameListener(nil), b.listeners...)
	b.mu.Unlock()
	for _, l := range listeners {
		l.Handle(frame)
	}
}
