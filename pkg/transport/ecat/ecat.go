// Package ecat implements the EtherCAT/CoE transport: mailbox SDO
// read/write plus CompleteAccess for structured objects (map register
// sub-0/sub-1 pairs read or written as one CoE transfer). Real EtherCAT
// mastering (frame scheduling, distributed clocks) is the named
// out-of-scope collaborator; Master is the seam an existing master is
// adapted behind.
package ecat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is the mailbox exchange deadline.
const DefaultTimeout = 300 * time.Millisecond

// Master is the mailbox primitive an EtherCAT master implementation
// provides: a CoE SDO upload/download addressed by slave position, object
// index and sub-index. WorkingCounter reports whether the datagram
// carrying the mailbox exchange was acknowledged by the expected number
// of slaves; a value other than the expected count surfaces as a
// WorkingCounterError sub-case.
type Master interface {
	SDORead(ctx context.Context, slave int, index uint16, subIndex uint8, completeAccess bool) ([]byte, int, error)
	SDOWrite(ctx context.Context, slave int, index uint16, subIndex uint8, data []byte, completeAccess bool) (int, error)
}

// ProcessDataMaster is the optional cyclic-exchange primitive a master
// additionally provides: one process-data cycle (outputs staged, inputs
// returned) and the drive-side watchdog programming. A master that
// implements it makes the Transport usable by the PDO engine.
type ProcessDataMaster interface {
	ExchangeProcessData(ctx context.Context, slave int, outputs []byte) (inputs []byte, wc int, err error)
	SetWatchdog(ctx context.Context, slave int, seconds float64) error
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithTimeout overrides the default mailbox response deadline.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Entry) Option {
	return func(t *Transport) { t.log = log }
}

// Transport implements the EtherCAT/CoE register-access backend: one
// Servo is one slave position on the master.
type Transport struct {
	mu      sync.Mutex
	master  Master
	slave   int
	timeout time.Duration
	log     *logrus.Entry
}

// NewTransport wraps master, addressing slave position slave, as a
// Transport.
func NewTransport(master Master, slave int, opts ...Option) *Transport {
	t := &Transport{
		master:  master,
		slave:   slave,
		timeout: DefaultTimeout,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Close() error { return nil }

func (t *Transport) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

func (t *Transport) ReadRaw(ctx context.Context, reg *register.Register) ([]byte, error) {
	addr, err := ecatAddress(reg)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cctx, cancel := t.withDeadline(ctx)
	defer cancel()
	data, wc, err := t.master.SDORead(cctx, t.slave, addr.Index, addr.SubIndex, false)
	if err != nil {
		return nil, fmt.Errorf("ecat transport: read %s: %w", reg.Identifier, err)
	}
	if err := checkWorkingCounter(wc); err != nil {
		return nil, fmt.Errorf("ecat transport: read %s: %w", reg.Identifier, err)
	}
	return data, nil
}

func (t *Transport) WriteRaw(ctx context.Context, reg *register.Register, data []byte) error {
	addr, err := ecatAddress(reg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cctx, cancel := t.withDeadline(ctx)
	defer cancel()
	wc, err := t.master.SDOWrite(cctx, t.slave, addr.Index, addr.SubIndex, data, false)
	if err != nil {
		return fmt.Errorf("ecat transport: write %s: %w", reg.Identifier, err)
	}
	return checkWorkingCounter(wc)
}

// ReadComplete and WriteComplete implement transport.CompleteAccess: the
// drive's sub-0/sub-1 pair of a structured object (e.g. a PDO mapping
// register) transacted as one CoE exchange. complete_access is an
// EtherCAT-only capability; IP transport performs the two sub-indices as
// separate transactions instead.
func (t *Transport) ReadComplete(ctx context.Context, reg *register.Register) ([]byte, error) {
	addr, err := ecatAddress(reg)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cctx, cancel := t.withDeadline(ctx)
	defer cancel()
	data, wc, err := t.master.SDORead(cctx, t.slave, addr.Index, 0, true)
	if err != nil {
		return nil, fmt.Errorf("ecat transport: complete-access read %s: %w", reg.Identifier, err)
	}
	if err := checkWorkingCounter(wc); err != nil {
		return nil, fmt.Errorf("ecat transport: complete-access read %s: %w", reg.Identifier, err)
	}
	return data, nil
}

func (t *Transport) WriteComplete(ctx context.Context, reg *register.Register, data []byte) error {
	addr, err := ecatAddress(reg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cctx, cancel := t.withDeadline(ctx)
	defer cancel()
	wc, err := t.master.SDOWrite(cctx, t.slave, addr.Index, 0, data, true)
	if err != nil {
		return fmt.Errorf("ecat transport: complete-access write %s: %w", reg.Identifier, err)
	}
	return checkWorkingCounter(wc)
}

// SendReceiveProcessData transacts one process-data cycle through the
// master, implementing transport.ProcessData when the master supports it.
func (t *Transport) SendReceiveProcessData(ctx context.Context, rpdo []byte) ([]byte, error) {
	pd, ok := t.master.(ProcessDataMaster)
	if !ok {
		return nil, fmt.Errorf("ecat transport: master has no process-data support")
	}
	inputs, wc, err := pd.ExchangeProcessData(ctx, t.slave, rpdo)
	if err != nil {
		return nil, fmt.Errorf("ecat transport: process data: %w", err)
	}
	if err := checkWorkingCounter(wc); err != nil {
		return nil, fmt.Errorf("ecat transport: process data: %w", err)
	}
	return inputs, nil
}

// ConfigureWatchdog programs the slave's process-data watchdog timer.
func (t *Transport) ConfigureWatchdog(ctx context.Context, period float64) error {
	pd, ok := t.master.(ProcessDataMaster)
	if !ok {
		return fmt.Errorf("ecat transport: master has no process-data support")
	}
	if err := pd.SetWatchdog(ctx, t.slave, period); err != nil {
		return fmt.Errorf("ecat transport: configure watchdog: %w", err)
	}
	return nil
}

func ecatAddress(reg *register.Register) (register.ECATAddress, error) {
	addr, ok := reg.Address.(register.ECATAddress)
	if !ok {
		return register.ECATAddress{}, fmt.Errorf("ecat transport: register %s has no EtherCAT index/sub-index", reg.Identifier)
	}
	return addr, nil
}

func checkWorkingCounter(wc int) error {
	if wc == 1 {
		return nil
	}
	switch wc {
	case 0:
		return workingCounterError(0)
	case -1:
		return workingCounterError(-1)
	default:
		return workingCounterError(-5)
	}
}
