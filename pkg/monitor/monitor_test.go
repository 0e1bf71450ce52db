package monitor

import (
	"context"
	"testing"

	"github.com/ingenialink/gomcb/pkg/dictionary"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/servo"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-process Transport double keyed by register
// identifier. ReadRaw("MON_CFG_BYTES_VALUE") drains pendingQueue one
// entry per call, and ReadRaw("MON_DATA_VALUE") always serves the one
// staged buffer, standing in for the drive's upload ring.
type fakeTransport struct {
	storage       map[string][]byte
	pendingQueue  []uint32
	pendingCalls  int
	monitorBuffer []byte
}

func (f *fakeTransport) ReadRaw(ctx context.Context, reg *register.Register) ([]byte, error) {
	switch reg.Identifier {
	case UIDBytesValue:
		v := f.pendingQueue[f.pendingCalls]
		if f.pendingCalls < len(f.pendingQueue)-1 {
			f.pendingCalls++
		}
		buf := make([]byte, 4)
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
		return buf, nil
	case UIDDataValue:
		return f.monitorBuffer, nil
	}
	data, ok := f.storage[reg.Identifier]
	if !ok {
		data = make([]byte, reg.DType.Size())
	}
	return data, nil
}

func (f *fakeTransport) WriteRaw(ctx context.Context, reg *register.Register, data []byte) error {
	f.storage[reg.Identifier] = append([]byte(nil), data...)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func testDictionary() *dictionary.Dictionary {
	regs := map[string]*register.Register{
		"MON_CFG_REG0_MAP": {Identifier: "MON_CFG_REG0_MAP", DType: register.U32, Access: register.RW, Address: register.IPAddress{Addr: 0x100}},
		"MON_CFG_REG1_MAP": {Identifier: "MON_CFG_REG1_MAP", DType: register.U32, Access: register.RW, Address: register.IPAddress{Addr: 0x101}},
		UIDTotalMap:        {Identifier: UIDTotalMap, DType: register.U16, Access: register.RW, Address: register.IPAddress{Addr: 0x102}},
		UIDFreqDivider:     {Identifier: UIDFreqDivider, DType: register.U32, Access: register.RW, Address: register.IPAddress{Addr: 0x103}},
		UIDWindowSamp:      {Identifier: UIDWindowSamp, DType: register.U32, Access: register.RW, Address: register.IPAddress{Addr: 0x104}},
		UIDTriggerType:     {Identifier: UIDTriggerType, DType: register.U16, Access: register.RW, Address: register.IPAddress{Addr: 0x105}},
		UIDEnable:          {Identifier: UIDEnable, DType: register.U16, Access: register.RW, Address: register.IPAddress{Addr: 0x106}},
		UIDForceTrig:       {Identifier: UIDForceTrig, DType: register.U16, Access: register.RW, Address: register.IPAddress{Addr: 0x107}},
		UIDBytesValue:      {Identifier: UIDBytesValue, DType: register.U32, Access: register.RO, Address: register.IPAddress{Addr: 0x108}},
		UIDDataValue:       {Identifier: UIDDataValue, DType: register.ByteArray512, Access: register.RO, Address: register.IPAddress{Addr: 0x109}},
		"POS_ACTUAL":       {Identifier: "POS_ACTUAL", DType: register.U16, Access: register.RO, Address: register.IPAddress{Addr: 0x20}},
	}
	return &dictionary.Dictionary{
		Subnodes:  map[uint8]dictionary.SubnodeKind{0: dictionary.Communication},
		Registers: map[uint8]map[string]*register.Register{0: regs},
	}
}

func TestMapChannelsWritesDescriptorsAndCount(t *testing.T) {
	ft := &fakeTransport{storage: map[string][]byte{}}
	s := servo.New(ft, testDictionary())
	m := New(s, 0)

	ch := Channel{Register: testDictionary().Registers[0]["POS_ACTUAL"], Subnode: 1}
	require.NoError(t, m.MapChannels(context.Background(), []Channel{ch}))

	total, err := s.Read(context.Background(), UIDTotalMap, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(1), total)
}

func TestChannelDescriptorPacking(t *testing.T) {
	reg := &register.Register{DType: register.U16, Address: register.IPAddress{Addr: 0x123}}
	ch := Channel{Register: reg, Subnode: 1}
	desc := ch.Descriptor()
	require.Equal(t, uint32(1), desc>>28&0xF)
	require.Equal(t, uint32(0x123), desc>>16&0xFFF)
	require.Equal(t, uint32(register.U16), desc>>8&0xFF)
	require.Equal(t, uint32(2), desc&0xFF)
}

func TestReadAllDrainsUntilPendingIsZero(t *testing.T) {
	ft := &fakeTransport{
		storage:       map[string][]byte{},
		pendingQueue:  []uint32{4, 0},
		monitorBuffer: []byte{0x01, 0x00, 0x02, 0x00},
	}
	s := servo.New(ft, testDictionary())
	m := New(s, 0)

	posReg := testDictionary().Registers[0]["POS_ACTUAL"]
	require.NoError(t, m.MapChannels(context.Background(), []Channel{{Register: posReg, Subnode: 1}}))

	samples, err := m.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, uint16(1), samples[0].Value)
	require.Equal(t, uint16(2), samples[1].Value)
}
