// Package pdo implements the process-data engine: map construction,
// the cyclic send/receive loop, the drive-side watchdog, per-map
// callbacks, and the at-most-one-active-thread rule.
package pdo

import (
	"fmt"
	"sync"

	"github.com/ingenialink/gomcb/pkg/register"
)

// MaxMapDataBytes is the drive's per-map byte limit: the total mapped
// width of one PDO map may not exceed it.
const MaxMapDataBytes = 64

// Direction distinguishes outputs to the drive (RPDO) from inputs from
// the drive (TPDO).
type Direction uint8

const (
	RPDO Direction = iota
	TPDO
)

// MapItem is one entry of a Map: either a Register reference with its
// mapped bit-size, or a padding gap of N bits. Its raw wire bytes are
// guarded by a mutex rather than touched directly, since send-observers
// set them and the engine reads them (RPDO), or the engine sets them and
// receive-observers read them (TPDO), from different call sites within
// the same cooperative iteration.
type MapItem struct {
	Register *register.Register // nil for a padding item
	SizeBits int

	mu    sync.Mutex
	bytes []byte
}

// IsPadding reports whether the item is a gap rather than a register.
func (i *MapItem) IsPadding() bool { return i.Register == nil }

// SetBytes stores the item's current raw value.
func (i *MapItem) SetBytes(b []byte) {
	i.mu.Lock()
	i.bytes = append(i.bytes[:0], b...)
	i.mu.Unlock()
}

// Bytes returns a copy of the item's current raw value.
func (i *MapItem) Bytes() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.bytes...)
}

// NewItem builds a mapped-register item.
func NewItem(reg *register.Register, sizeBits int) *MapItem {
	return &MapItem{Register: reg, SizeBits: sizeBits, bytes: make([]byte, (sizeBits+7)/8)}
}

// NewPadding builds a padding item of n bits.
func NewPadding(n int) *MapItem {
	return &MapItem{SizeBits: n, bytes: make([]byte, (n+7)/8)}
}

// Map is an ordered sequence of MapItems shared by the user who
// configures it and the engine that publishes it into the slave.
// Mutation after activation is forbidden until the engine is
// stopped. Nothing enforces this: the engine takes its maps at
// construction and keeps reading Items while running, and Map does not
// guard Items.
type Map struct {
	Direction Direction
	Items     []*MapItem

	// MapRegisterIndex is the drive-side CoE index the map has been
	// written to; nil before first activation.
	MapRegisterIndex *uint16
}

// NewRPDOMap builds an RPDOMap, validating that every item's register (if
// any) is cyclic-eligible for RX.
func NewRPDOMap(items ...*MapItem) (*Map, error) {
	for _, item := range items {
		if item.Register != nil && !item.Register.Cyclic.MappableRPDO() {
			return nil, fmt.Errorf("pdo: register %s is not RPDO-mappable (cyclic=%v)", item.Register.Identifier, item.Register.Cyclic)
		}
	}
	return &Map{Direction: RPDO, Items: items}, nil
}

// NewTPDOMap builds a TPDOMap, validating that every item's register (if
// any) is cyclic-eligible for TX.
func NewTPDOMap(items ...*MapItem) (*Map, error) {
	for _, item := range items {
		if item.Register != nil && !item.Register.Cyclic.MappableTPDO() {
			return nil, fmt.Errorf("pdo: register %s is not TPDO-mappable (cyclic=%v)", item.Register.Identifier, item.Register.Cyclic)
		}
	}
	return &Map{Direction: TPDO, Items: items}, nil
}

// DataLengthBits returns the sum of every item's bit size.
func (m *Map) DataLengthBits() int {
	total := 0
	for _, item := range m.Items {
		total += item.SizeBits
	}
	return total
}

// DataLengthBytes returns ceil(DataLengthBits()/8).
func (m *Map) DataLengthBytes() int {
	return (m.DataLengthBits() + 7) / 8
}

// Descriptor returns the u32-LE map descriptor for item i, per §6.2:
// (index<<16)|size_bits. Only meaningful for CoE/EtherCAT maps; index is
// the item register's CoE/ECAT index when present, 0 for padding.
func (m *Map) Descriptor(i int) uint32 {
	item := m.Items[i]
	var index uint16
	if item.Register != nil {
		switch addr := item.Register.Address.(type) {
		case register.CoEAddress:
			index = addr.Index
		case register.ECATAddress:
			index = addr.Index
		}
	}
	return uint32(index)<<16 | uint32(item.SizeBits)
}

// Pack concatenates every item's current bytes in map order, MSB-first
// item order but little-endian within each item (the items were already
// dtype-encoded little-endian by the caller).
func (m *Map) Pack() []byte {
	out := make([]byte, 0, m.DataLengthBytes())
	for _, item := range m.Items {
		out = append(out, item.Bytes()...)
	}
	return out
}

// Unpack splits data into per-item slices in map order and calls
// SetBytes on each register item (padding items are skipped).
func (m *Map) Unpack(data []byte) error {
	offset := 0
	for _, item := range m.Items {
		n := (item.SizeBits + 7) / 8
		if offset+n > len(data) {
			return fmt.Errorf("pdo: unpack: map needs %d bytes, got %d", m.DataLengthBytes(), len(data))
		}
		if !item.IsPadding() {
			item.SetBytes(data[offset : offset+n])
		}
		offset += n
	}
	return nil
}
