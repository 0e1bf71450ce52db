// Package network implements the Network facade: it owns the set of
// Servos bound to it and the single cooperative PDO thread that cycles
// process data for all of them.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ingenialink/gomcb/pkg/pdo"
	"github.com/ingenialink/gomcb/pkg/servo"
	"github.com/sirupsen/logrus"
)

var (
	// ErrIDConflict: a Servo is already registered under the given id.
	ErrIDConflict = errors.New("network: id already in use")
	// ErrIDRange: an id outside [NodeIDMin, NodeIDMax] was given.
	ErrIDRange = errors.New("network: id out of range")
	// ErrNotFound: no Servo is registered under the given id.
	ErrNotFound = errors.New("network: servo id not found")
)

// NodeIDMin and NodeIDMax bound the id a Servo may be registered under,
// the conventional CANopen/MCB node-id range (0 is reserved for the
// master and never assigned to a peer).
const (
	NodeIDMin = uint8(1)
	NodeIDMax = uint8(126)
)

// Option configures a Network at construction.
type Option func(*Network)

// WithLogger attaches a structured logger; falls back to logrus's
// standard logger when omitted.
func WithLogger(log *logrus.Entry) Option {
	return func(n *Network) { n.log = log }
}

// Network owns the set of Servos bound to it and, optionally, the single
// PDO engine that cycles process data for all of them once per period.
// A Servo is strictly bound to one peer address on one transport
// already, at its own construction; Network only aggregates
// and schedules -- it never reaches into a Servo's transport.
type Network struct {
	log *logrus.Entry

	mu        sync.Mutex
	servos    map[uint8]*servo.Servo
	listeners map[uint8]*servo.StatusListener
	engine    *pdo.Engine
}

// New builds an inert Network: no goroutine is spawned until Start.
func New(opts ...Option) *Network {
	n := &Network{
		log:       logrus.NewEntry(logrus.StandardLogger()),
		servos:    map[uint8]*servo.Servo{},
		listeners: map[uint8]*servo.StatusListener{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AddServo registers s under id, and builds (but does not start) a
// StatusListener spanning every subnode s's dictionary declares.
func (n *Network) AddServo(id uint8, s *servo.Servo) error {
	if id < NodeIDMin || id > NodeIDMax {
		return fmt.Errorf("%w: %d", ErrIDRange, id)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.servos[id]; exists {
		return fmt.Errorf("%w: %d", ErrIDConflict, id)
	}

	subnodes := make([]uint8, 0, len(s.Dictionary().Subnodes))
	for sn := range s.Dictionary().Subnodes {
		subnodes = append(subnodes, sn)
	}

	n.servos[id] = s
	n.listeners[id] = servo.NewStatusListener(s, subnodes...)
	return nil
}

// RemoveServo stops id's status listener (if running) and drops it from
// the Network.
func (n *Network) RemoveServo(id uint8) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.servos[id]; !exists {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	n.listeners[id].Stop()
	delete(n.servos, id)
	delete(n.listeners, id)
	return nil
}

// Servo returns the Servo registered under id.
func (n *Network) Servo(id uint8) (*servo.Servo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.servos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s, nil
}

// Servos returns a snapshot of every registered id/Servo pair.
func (n *Network) Servos() map[uint8]*servo.Servo {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[uint8]*servo.Servo, len(n.servos))
	for id, s := range n.servos {
		out[id] = s
	}
	return out
}

// SetPDOEngine attaches the single cooperative PDO engine this Network
// will start/stop alongside its Servos' status listeners. Only one
// engine may be attached at a time; pass nil to detach.
func (n *Network) SetPDOEngine(e *pdo.Engine) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine = e
}

// Engine returns the attached PDO engine, or nil if none was set.
func (n *Network) Engine() *pdo.Engine {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine
}

// Start starts every registered Servo's status listener and, if a PDO
// engine is attached, starts it too. If the engine fails to start, no
// listener is left running.
func (n *Network) Start(ctx context.Context) error {
	n.mu.Lock()
	engine := n.engine
	listeners := make([]*servo.StatusListener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	if engine != nil {
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("network: start PDO engine: %w", err)
		}
	}
	for _, l := range listeners {
		l.Start(ctx)
	}
	return nil
}

// Stop stops the PDO engine (if running) and then every status listener,
// one at a time; each Stop call waits for its goroutine to exit before
// the next one is issued.
func (n *Network) Stop() {
	n.mu.Lock()
	engine := n.engine
	listeners := make([]*servo.StatusListener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}
	for _, l := range listeners {
		l.Stop()
	}
}

// Close stops everything (see Stop) and releases every registered
// Servo's transport.
func (n *Network) Close() error {
	n.Stop()

	n.mu.Lock()
	servos := make([]*servo.Servo, 0, len(n.servos))
	for _, s := range n.servos {
		servos = append(servos, s)
	}
	n.mu.Unlock()

	var firstErr error
	for _, s := range servos {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
