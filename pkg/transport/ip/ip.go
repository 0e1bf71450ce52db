// Package ip implements MCB-over-IP: one MCB frame per UDP datagram or TCP
// request/response pair, over a single mutex-protected socket per Servo.
package ip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ingenialink/gomcb/pkg/mcb"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/sirupsen/logrus"
)

// Network selects the underlying socket kind.
type Network string

const (
	UDP Network = "udp"
	TCP Network = "tcp"
)

const (
	// DefaultReceiveBufferSize is the maximum reply size read per request.
	DefaultReceiveBufferSize = 1024
	// DefaultTimeout is the per-request response deadline (§5).
	DefaultTimeout = 200 * time.Millisecond
)

// Option configures a Transport at construction.
type Option func(*Transport)

// WithTimeout overrides the default 200ms response deadline.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithReceiveBufferSize overrides the default 1024-byte receive buffer.
func WithReceiveBufferSize(n int) Option {
	return func(t *Transport) { t.recvBufSize = n }
}

// WithLogger attaches a structured logger; the default is logrus's
// standard logger when omitted.
func WithLogger(log *logrus.Entry) Option {
	return func(t *Transport) { t.log = log }
}

// Transport is the MCB-over-IP backend. One Transport serializes all
// traffic to a single peer address behind mu: acquire -> send -> receive
// -> parse -> release.
type Transport struct {
	mu          sync.Mutex
	conn        net.Conn
	network     Network
	timeout     time.Duration
	recvBufSize int
	log         *logrus.Entry
}

// Dial opens a socket (UDP or TCP) to addr and returns a ready Transport.
func Dial(network Network, addr string, opts ...Option) (*Transport, error) {
	conn, err := net.Dial(string(network), addr)
	if err != nil {
		return nil, fmt.Errorf("ip transport: dial %s %s: %w", network, addr, err)
	}
	t := &Transport{
		conn:        conn,
		network:     network,
		timeout:     DefaultTimeout,
		recvBufSize: DefaultReceiveBufferSize,
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}

func (t *Transport) transact(ctx context.Context, frame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(t.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("ip transport: set deadline: %w", err)
	}

	if _, err := t.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("ip transport: write: %w", err)
	}

	buf := make([]byte, t.recvBufSize)
	n, err := t.conn.Read(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, fmt.Errorf("ip transport: read timed out after %s: %w", t.timeout, err)
		}
		return nil, fmt.Errorf("ip transport: read: %w", err)
	}
	return buf[:n], nil
}

// ReadRaw sends an MCB READ for reg's address and returns the ACKed payload.
func (t *Transport) ReadRaw(ctx context.Context, reg *register.Register) ([]byte, error) {
	addr, err := ipAddress(reg)
	if err != nil {
		return nil, err
	}
	frame := mcb.BuildFrame(mcb.Read, reg.Subnode, addr, nil)
	reply, err := t.transact(ctx, frame)
	if err != nil {
		t.log.WithFields(logrus.Fields{"register": reg.Identifier, "address": addr}).
			WithError(err).Warn("ip transport: read failed")
		return nil, fmt.Errorf("ip transport: read %s: %w", reg.Identifier, err)
	}
	data, err := mcb.ReadData(addr, reply)
	if err != nil {
		return nil, fmt.Errorf("ip transport: read %s: %w", reg.Identifier, err)
	}
	if n := reg.DType.Size(); n > 0 && len(data) > n {
		data = data[:n]
	}
	return data, nil
}

// WriteRaw sends an MCB WRITE for reg's address with data and confirms the ACK.
func (t *Transport) WriteRaw(ctx context.Context, reg *register.Register, data []byte) error {
	addr, err := ipAddress(reg)
	if err != nil {
		return err
	}
	frame := mcb.BuildFrame(mcb.Write, reg.Subnode, addr, data)
	reply, err := t.transact(ctx, frame)
	if err != nil {
		t.log.WithFields(logrus.Fields{"register": reg.Identifier, "address": addr}).
			WithError(err).Warn("ip transport: write failed")
		return fmt.Errorf("ip transport: write %s: %w", reg.Identifier, err)
	}
	if _, err := mcb.ReadData(addr, reply); err != nil {
		return fmt.Errorf("ip transport: write %s: %w", reg.Identifier, err)
	}
	return nil
}

func ipAddress(reg *register.Register) (uint16, error) {
	addr, ok := reg.Address.(register.IPAddress)
	if !ok {
		return 0, fmt.Errorf("ip transport: register %s has no flat IP address", reg.Identifier)
	}
	return addr.Addr, nil
}
