package disturbance

import (
	"context"
	"testing"

	"github.com/ingenialink/gomcb/pkg/dictionary"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/servo"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	storage map[string][]byte
	writes  [][]byte
}

func (f *fakeTransport) ReadRaw(ctx context.Context, reg *register.Register) ([]byte, error) {
	data, ok := f.storage[reg.Identifier]
	if !ok {
		data = make([]byte, reg.DType.Size())
	}
	return data, nil
}

func (f *fakeTransport) WriteRaw(ctx context.Context, reg *register.Register, data []byte) error {
	f.storage[reg.Identifier] = append([]byte(nil), data...)
	if reg.Identifier == UIDDataValue {
		f.writes = append(f.writes, append([]byte(nil), data...))
	}
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func testDictionary() *dictionary.Dictionary {
	regs := map[string]*register.Register{
		"DIST_CFG_REG0_MAP": {Identifier: "DIST_CFG_REG0_MAP", DType: register.U32, Access: register.RW, Address: register.IPAddress{Addr: 0x200}},
		UIDMapRegs:          {Identifier: UIDMapRegs, DType: register.U16, Access: register.RW, Address: register.IPAddress{Addr: 0x201}},
		UIDNumSamples:       {Identifier: UIDNumSamples, DType: register.U32, Access: register.RW, Address: register.IPAddress{Addr: 0x202}},
		UIDEnable:           {Identifier: UIDEnable, DType: register.U16, Access: register.RW, Address: register.IPAddress{Addr: 0x203}},
		UIDDataValue:        {Identifier: UIDDataValue, DType: register.ByteArray512, Access: register.WO, Address: register.IPAddress{Addr: 0x204}},
		"TARGET_POS":        {Identifier: "TARGET_POS", DType: register.U16, Access: register.RW, Address: register.IPAddress{Addr: 0x30}},
	}
	return &dictionary.Dictionary{
		Subnodes:  map[uint8]dictionary.SubnodeKind{0: dictionary.Communication},
		Registers: map[uint8]map[string]*register.Register{0: regs},
	}
}

func TestMapChannelsWritesCount(t *testing.T) {
	ft := &fakeTransport{storage: map[string][]byte{}}
	s := servo.New(ft, testDictionary())
	d := New(s, 0)

	targetPos := testDictionary().Registers[0]["TARGET_POS"]
	require.NoError(t, d.MapChannels(context.Background(), []Channel{{Register: targetPos, Subnode: 1}}))

	count, err := s.Read(context.Background(), UIDMapRegs, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(1), count)
}

func TestWriteSamplesPacksAndChunks(t *testing.T) {
	ft := &fakeTransport{storage: map[string][]byte{}}
	s := servo.New(ft, testDictionary())
	d := New(s, 0)

	targetPos := testDictionary().Registers[0]["TARGET_POS"]
	require.NoError(t, d.MapChannels(context.Background(), []Channel{{Register: targetPos, Subnode: 1}}))

	samples := [][]any{{uint16(10)}, {uint16(20)}, {uint16(30)}}
	require.NoError(t, d.WriteSamples(context.Background(), samples))

	require.Len(t, ft.writes, 1) // 6 bytes total, well under one 512-byte chunk
	require.Equal(t, []byte{10, 0, 20, 0, 30, 0}, ft.writes[0][:6])

	n, err := s.Read(context.Background(), UIDNumSamples, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(3), n)
}

func TestWriteSamplesRejectsWrongValueCount(t *testing.T) {
	ft := &fakeTransport{storage: map[string][]byte{}}
	s := servo.New(ft, testDictionary())
	d := New(s, 0)

	targetPos := testDictionary().Registers[0]["TARGET_POS"]
	require.NoError(t, d.MapChannels(context.Background(), []Channel{{Register: targetPos, Subnode: 1}}))

	err := d.WriteSamples(context.Background(), [][]any{{uint16(1), uint16(2)}})
	require.Error(t, err)
}

func TestChunkingSplitsAtMaxChunkBytes(t *testing.T) {
	ft := &fakeTransport{storage: map[string][]byte{}}
	s := servo.New(ft, testDictionary())
	d := New(s, 0)

	targetPos := testDictionary().Registers[0]["TARGET_POS"]
	require.NoError(t, d.MapChannels(context.Background(), []Channel{{Register: targetPos, Subnode: 1}}))

	samples := make([][]any, 300) // 300*2 = 600 bytes, spans two 512-byte chunks
	for i := range samples {
		samples[i] = []any{uint16(i)}
	}
	require.NoError(t, d.WriteSamples(context.Background(), samples))
	require.Len(t, ft.writes, 2)
}
