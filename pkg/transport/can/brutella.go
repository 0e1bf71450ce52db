package can

import (
	sockcan "github.com/brutella/can"
)

func init() {
	RegisterBackend("socketcan", newBrutellaBus)
}

// brutellaBus adapts our Bus interface onto an existing SocketCAN driver
// (github.com/brutella/can). Driving the bus itself (timing, arbitration,
// raw socket setup) is brutella/can's job, not ours — this is a thin
// conversion layer, the same shape as the upstream library's own
// socketcan wrapper.
type brutellaBus struct {
	bus      *sockcan.Bus
	listener FrameListener
}

func newBrutellaBus(channel string) (Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &brutellaBus{bus: bus}, nil
}

func (b *brutellaBus) Connect() error {
	go b.bus.ConnectAndPublish()
	return nil
}

func (b *brutellaBus) Disconnect() error {
	return b.bus.Disconnect()
}

func (b *brutellaBus) Send(frame Frame) error {
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

func (b *brutellaBus) Subscribe(listener FrameListener) error {
	b.listener = listener
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's Handler interface.
func (b *brutellaBus) Handle(frame sockcan.Frame) {
	b.listener.Handle(Frame{ID: frame.ID, DLC: frame.Length, Data: frame.Data})
}
