// Package transport defines the transport-agnostic interface every Servo
// talks through, and the optional capability interfaces a concrete
// transport may additionally implement.
package transport

import (
	"context"

	"github.com/ingenialink/gomcb/pkg/register"
)

// Transport is the synchronous, blocking read/write primitive every
// backend (MCB-over-IP, CANopen SDO, EtherCAT/CoE) implements. Both
// methods return/accept raw payload bytes sized to the register's dtype;
// Str and ByteArray512 use a transport-declared maximum buffer size.
type Transport interface {
	ReadRaw(ctx context.Context, reg *register.Register) ([]byte, error)
	WriteRaw(ctx context.Context, reg *register.Register, data []byte) error

	// Close releases the underlying socket/bus handle.
	Close() error
}

// CompleteAccess is an optional capability a Transport may implement:
// serializing sub-0 and sub-1 of a structured object as one exchange.
// Only the EtherCAT/CoE transport implements it; IP performs two separate
// MCB transactions instead.
type CompleteAccess interface {
	ReadComplete(ctx context.Context, reg *register.Register) ([]byte, error)
	WriteComplete(ctx context.Context, reg *register.Register, data []byte) error
}

// ProcessData is an optional capability a Transport may implement to
// support the PDO engine's cyclic exchange: send the staged RPDO bytes
// and receive the drive's TPDO bytes in a single cycle.
type ProcessData interface {
	SendReceiveProcessData(ctx context.Context, rpdo []byte) (tpdo []byte, err error)

	// ConfigureWatchdog programs the drive-side PDO watchdog timer.
	ConfigureWatchdog(ctx context.Context, period float64) error
}
