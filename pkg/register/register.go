// Package register defines the typed register model shared by every
// transport: dtype encode/decode, the three address flavors a register can
// carry, access/cyclic classification, and range/enum/bitfield metadata.
package register

import (
	"fmt"
	"math"
)

// Access controls which operations the servo façade permits on a register.
type Access uint8

const (
	RO Access = iota
	WO
	RW
)

func (a Access) String() string {
	switch a {
	case RO:
		return "ro"
	case WO:
		return "wo"
	case RW:
		return "rw"
	default:
		return "unknown"
	}
}

// Cyclic classifies a register's eligibility for cyclic process-data
// exchange (PDO mapping).
type Cyclic uint8

const (
	Config Cyclic = iota
	CyclicRX
	CyclicTX
	CyclicRXTX
	CyclicSI
	CyclicSO
	CyclicSISO
)

// MappableRPDO reports whether a register may appear in an RPDOMap (items
// the host sends to the drive).
func (c Cyclic) MappableRPDO() bool {
	return c == CyclicRX || c == CyclicRXTX
}

// MappableTPDO reports whether a register may appear in a TPDOMap (items
// the drive sends to the host).
func (c Cyclic) MappableTPDO() bool {
	return c == CyclicTX || c == CyclicRXTX
}

// Phy is an opaque physical-unit tag; the core never converts units, it
// only carries the tag through for a units layer above it to use.
type Phy uint8

const (
	PhyNone Phy = iota
	PhyTorque
	PhyPos
	PhyVel
	PhyAcc
	PhyVoltRel
	PhyRad
)

// Address is implemented by the three address flavors a register can
// carry. It is a marker interface: callers type-switch on the concrete
// type to recover the flavor they expect for the transport in use.
type Address interface {
	isAddress()
	String() string
}

// IPAddress is the flat 12-bit register address used by MCB-over-IP.
type IPAddress struct {
	Addr uint16
}

func (IPAddress) isAddress() {}
func (a IPAddress) String() string {
	return fmt.Sprintf("ip:0x%03X", a.Addr&0xFFF)
}

// CoEAddress is the CANopen (index, sub-index) pair used by the SDO
// transport.
type CoEAddress struct {
	Index    uint16
	SubIndex uint8
}

func (CoEAddress) isAddress() {}
func (a CoEAddress) String() string {
	return fmt.Sprintf("coe:0x%04X:%d", a.Index, a.SubIndex)
}

// ECATAddress is the CoE (index, sub-index) pair used over EtherCAT
// mailboxes, after the per-subnode CiA offset (§4.3) has already been
// applied by the dictionary loader.
type ECATAddress struct {
	Index    uint16
	SubIndex uint8
}

func (ECATAddress) isAddress() {}
func (a ECATAddress) String() string {
	return fmt.Sprintf("ecat:0x%04X:%d", a.Index, a.SubIndex)
}

// ECATSubnodeOffset computes the CiA base index for a given subnode:
// subnode 0 maps to 0x5800; subnode k>0 maps to 0x2000 + 0x800*(k-1).
func ECATSubnodeOffset(subnode uint8) uint16 {
	if subnode == 0 {
		return 0x5800
	}
	return 0x2000 + 0x800*uint16(subnode-1)
}

// Range holds an inclusive (min, max) bound on a scalar register's
// value. STR and ByteArray512 registers never carry a Range.
type Range struct {
	Min, Max any
}

// DefaultRange derives the dtype's full-width range, used when the
// dictionary declares no explicit Range for a scalar register. U64 and
// non-integer dtypes have no representable default and return nil.
func DefaultRange(dtype DType) *Range {
	switch dtype {
	case U8:
		return &Range{Min: int64(0), Max: int64(math.MaxUint8)}
	case S8:
		return &Range{Min: int64(math.MinInt8), Max: int64(math.MaxInt8)}
	case U16:
		return &Range{Min: int64(0), Max: int64(math.MaxUint16)}
	case S16:
		return &Range{Min: int64(math.MinInt16), Max: int64(math.MaxInt16)}
	case U32:
		return &Range{Min: int64(0), Max: int64(math.MaxUint32)}
	case S32:
		return &Range{Min: int64(math.MinInt32), Max: int64(math.MaxInt32)}
	case S64:
		return &Range{Min: int64(math.MinInt64), Max: int64(math.MaxInt64)}
	case Bool:
		return &Range{Min: int64(0), Max: int64(1)}
	default:
		return nil
	}
}

// Bitfield describes a named, atomically read/write sub-field of an
// integer register: bits [StartBit, EndBit] inclusive.
type Bitfield struct {
	Name     string
	StartBit int
	EndBit   int
}

// Width returns the number of bits the field occupies.
func (b Bitfield) Width() int {
	return b.EndBit - b.StartBit + 1
}

// Mask returns the bitmask for the field, pre-shift.
func (b Bitfield) Mask() uint64 {
	return (uint64(1)<<uint(b.Width()) - 1) << uint(b.StartBit)
}

// Register is the unit of addressable state in a drive.
type Register struct {
	Identifier string
	DType      DType
	Access     Access
	Cyclic     Cyclic
	Phy        Phy
	Subnode    uint8
	Address    Address

	Range *Range
	Enums map[string]int64

	// Bitfields maps a field name to its bit range within the register.
	Bitfields map[string]Bitfield

	Default any

	// Storage holds the dictionary's parsed storage attribute, and the
	// dictionary loader sets StorageValid. Neither is changed by read/write
	// traffic or by pkg/xcf.
	Storage      any
	StorageValid bool
}

// Field looks up a bitfield by name, reporting ok=false if it isn't
// declared on this register.
func (r *Register) Field(name string) (Bitfield, bool) {
	f, ok := r.Bitfields[name]
	return f, ok
}

// InRange reports whether v satisfies the register's declared Range, when
// one is present. Registers without a Range always pass: Str,
// ByteArray512, U64 and Float registers the dictionary didn't constrain,
// and registers built outside the loader. The loader gives every other
// unconstrained register its dtype's DefaultRange.
func (r *Register) InRange(v any) bool {
	if r.Range == nil {
		return true
	}
	if r.DType == Float {
		fv, err := toFloat64(v)
		if err != nil {
			return true
		}
		lo, loErr := toFloat64(r.Range.Min)
		hi, hiErr := toFloat64(r.Range.Max)
		if loErr != nil || hiErr != nil {
			return true
		}
		return fv >= lo && fv <= hi
	}
	iv, err := toInt64(v)
	if err != nil {
		return true
	}
	lo, loErr := toInt64(r.Range.Min)
	hi, hiErr := toInt64(r.Range.Max)
	if loErr != nil || hiErr != nil {
		return true
	}
	return iv >= lo && iv <= hi
}
