package pdo

import (
	"context"
	"fmt"

	"github.com/ingenialink/gomcb"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/transport"
)

// MapPDOs writes an RPDOMap and a TPDOMap to the drive's reserved CoE
// objects, per §6.2: each map's item count is zeroed, its descriptors
// written one by one, the item count restored, then the PDO is
// registered in the corresponding assign object. On a transport that
// implements transport.CompleteAccess, the item count and all descriptors
// are instead written to sub-0 as one complete-access transaction before
// the assign step. Both maps share map
// slot 0 (CoEIndexRPDOMap0/CoEIndexTPDOMap0); multi-slot mapping is out
// of scope.
func MapPDOs(ctx context.Context, t transport.Transport, rpdo, tpdo *Map) error {
	for _, m := range []*Map{rpdo, tpdo} {
		if m != nil && m.DataLengthBytes() > MaxMapDataBytes {
			return fmt.Errorf("pdo: map of %d bytes exceeds the %d-byte per-map limit", m.DataLengthBytes(), MaxMapDataBytes)
		}
	}
	if rpdo != nil {
		if err := writeMap(ctx, t, rpdo, gomcb.CoEIndexRPDOMap0); err != nil {
			return fmt.Errorf("pdo: map RPDO: %w", err)
		}
		if err := assign(ctx, t, gomcb.CoEIndexRPDOAssign, gomcb.CoEIndexRPDOMap0); err != nil {
			return fmt.Errorf("pdo: assign RPDO: %w", err)
		}
		index := gomcb.CoEIndexRPDOMap0
		rpdo.MapRegisterIndex = &index
	}
	if tpdo != nil {
		if err := writeMap(ctx, t, tpdo, gomcb.CoEIndexTPDOMap0); err != nil {
			return fmt.Errorf("pdo: map TPDO: %w", err)
		}
		if err := assign(ctx, t, gomcb.CoEIndexTPDOAssign, gomcb.CoEIndexTPDOMap0); err != nil {
			return fmt.Errorf("pdo: assign TPDO: %w", err)
		}
		index := gomcb.CoEIndexTPDOMap0
		tpdo.MapRegisterIndex = &index
	}
	return nil
}

func writeMap(ctx context.Context, t transport.Transport, m *Map, mapIndex uint16) error {
	// Complete access writes the item count and every descriptor as one
	// CoE transaction when the transport supports it.
	if ca, ok := t.(transport.CompleteAccess); ok {
		buf := []byte{uint8(len(m.Items)), 0}
		for i := range m.Items {
			desc, err := register.Encode(register.U32, m.Descriptor(i), 0)
			if err != nil {
				return fmt.Errorf("encode descriptor %d: %w", i, err)
			}
			buf = append(buf, desc...)
		}
		return ca.WriteComplete(ctx, subRegister(mapIndex, 0, register.ByteArray512), buf)
	}

	if err := t.WriteRaw(ctx, subRegister(mapIndex, 0, register.U8), []byte{0}); err != nil {
		return fmt.Errorf("clear item count: %w", err)
	}
	for i := range m.Items {
		desc := m.Descriptor(i)
		data, err := register.Encode(register.U32, desc, 0)
		if err != nil {
			return fmt.Errorf("encode descriptor %d: %w", i, err)
		}
		if err := t.WriteRaw(ctx, subRegister(mapIndex, uint8(i+1), register.U32), data); err != nil {
			return fmt.Errorf("write descriptor %d: %w", i, err)
		}
	}
	count := uint8(len(m.Items))
	if err := t.WriteRaw(ctx, subRegister(mapIndex, 0, register.U8), []byte{count}); err != nil {
		return fmt.Errorf("write item count: %w", err)
	}
	return nil
}

func assign(ctx context.Context, t transport.Transport, assignIndex, mapIndex uint16) error {
	if err := t.WriteRaw(ctx, subRegister(assignIndex, 0, register.U8), []byte{0}); err != nil {
		return fmt.Errorf("clear assign count: %w", err)
	}
	entry, err := register.Encode(register.U16, mapIndex, 0)
	if err != nil {
		return fmt.Errorf("encode assign entry: %w", err)
	}
	if err := t.WriteRaw(ctx, subRegister(assignIndex, 1, register.U16), entry); err != nil {
		return fmt.Errorf("write assign entry: %w", err)
	}
	return t.WriteRaw(ctx, subRegister(assignIndex, 0, register.U8), []byte{1})
}

// subRegister synthesizes an ephemeral Register over a fixed CoE
// index/sub-index, for addressing reserved mapping objects that the
// dictionary never declares as ordinary registers.
func subRegister(index uint16, sub uint8, dtype register.DType) *register.Register {
	return &register.Register{
		Identifier: fmt.Sprintf("PDO_MAP_0x%04X:%d", index, sub),
		DType:      dtype,
		Access:     register.RW,
		Address:    register.ECATAddress{Index: index, SubIndex: sub},
	}
}
