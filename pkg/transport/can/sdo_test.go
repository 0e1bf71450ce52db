package can

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/stretchr/testify/require"
)

// sdoServer is an in-process SDO server behind a VirtualBus, standing in
// for the out-of-scope real node. It answers expedited transfers for
// values of 4 bytes or fewer and segmented transfers otherwise.
type sdoServer struct {
	nodeID uint8
	state  map[uint32][]byte

	upData []byte
	upOff  int

	dlKey  uint32
	dlBuf  []byte
	dlSize uint32
}

func newSDOServer(bus *VirtualBus, nodeID uint8) *sdoServer {
	s := &sdoServer{nodeID: nodeID, state: map[uint32][]byte{}}
	bus.Reply = s.reply
	return s
}

func (s *sdoServer) reply(req Frame) []Frame {
	if req.ID != 0x600+uint32(s.nodeID) {
		return nil
	}
	resp := Frame{ID: 0x580 + uint32(s.nodeID), DLC: 8}

	switch req.Data[0] >> 5 {
	case scsInitiateUpload:
		index := binary.LittleEndian.Uint16(req.Data[1:3])
		sub := req.Data[3]
		key := uint32(index)<<8 | uint32(sub)
		v := s.state[key]
		copy(resp.Data[1:3], req.Data[1:3])
		resp.Data[3] = sub
		if len(v) <= 4 {
			resp.Data[0] = byte(scsInitiateUpload<<5) | flagExpedited | flagSizeIndicated | byte((4-len(v))<<2)
			copy(resp.Data[4:], v)
		} else {
			resp.Data[0] = byte(scsInitiateUpload<<5) | flagSizeIndicated
			binary.LittleEndian.PutUint32(resp.Data[4:8], uint32(len(v)))
			s.upData = v
			s.upOff = 0
		}

	case scsSegmentUpload:
		toggle := req.Data[0] >> 4 & 1
		chunk := s.upData[s.upOff:]
		if len(chunk) > segmentPayloadSize {
			chunk = chunk[:segmentPayloadSize]
		}
		s.upOff += len(chunk)
		empty := segmentPayloadSize - len(chunk)
		resp.Data[0] = respSegmentUpload<<5 | toggle<<4 | byte(empty<<1)
		if s.upOff >= len(s.upData) {
			resp.Data[0] |= 1
		}
		copy(resp.Data[1:], chunk)

	case scsInitiateDownload:
		index := binary.LittleEndian.Uint16(req.Data[1:3])
		sub := req.Data[3]
		key := uint32(index)<<8 | uint32(sub)
		copy(resp.Data[1:3], req.Data[1:3])
		resp.Data[3] = sub
		resp.Data[0] = 3 << 5 // initiate download response
		if req.Data[0]&flagExpedited != 0 {
			n := 4
			if req.Data[0]&flagSizeIndicated != 0 {
				n = 4 - int((req.Data[0]>>2)&0x3)
			}
			s.state[key] = append([]byte(nil), req.Data[4:4+n]...)
		} else {
			s.dlKey = key
			s.dlBuf = nil
			s.dlSize = binary.LittleEndian.Uint32(req.Data[4:8])
		}

	case scsSegmentDownload:
		toggle := req.Data[0] >> 4 & 1
		empty := int(req.Data[0] >> 1 & 0x7)
		s.dlBuf = append(s.dlBuf, req.Data[1:1+segmentPayloadSize-empty]...)
		if req.Data[0]&1 != 0 {
			if s.dlSize != 0 && uint32(len(s.dlBuf)) > s.dlSize {
				s.dlBuf = s.dlBuf[:s.dlSize]
			}
			s.state[s.dlKey] = s.dlBuf
		}
		resp.Data[0] = respSegmentDownload<<5 | toggle<<4
	}

	return []Frame{resp}
}

func TestSDOExpeditedReadWriteRoundTrip(t *testing.T) {
	bus := NewVirtualBus()
	newSDOServer(bus, 0x20)

	transport, err := NewTransport(bus, 0x20)
	require.NoError(t, err)

	reg := &register.Register{
		Identifier: "DRV_BUS_VOLT",
		DType:      register.U32,
		Address:    register.CoEAddress{Index: 0x2000, SubIndex: 1},
	}

	err = transport.WriteRaw(context.Background(), reg, []byte{0xef, 0xbe, 0xad, 0xde})
	require.NoError(t, err)

	got, err := transport.ReadRaw(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, got)
}

func TestSDOSegmentedReadWriteRoundTrip(t *testing.T) {
	bus := NewVirtualBus()
	newSDOServer(bus, 0x20)

	transport, err := NewTransport(bus, 0x20)
	require.NoError(t, err)

	reg := &register.Register{
		Identifier: "DRV_HW_VERSION",
		DType:      register.Str,
		Address:    register.CoEAddress{Index: 0x6E5, SubIndex: 0},
	}

	// 24 bytes: spans four 7-byte segments, exercising both toggle values.
	payload := []byte("http://www.ingeniamc.com")
	require.NoError(t, transport.WriteRaw(context.Background(), reg, payload))

	got, err := transport.ReadRaw(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestSDOSegmentedEightByteScalar(t *testing.T) {
	bus := NewVirtualBus()
	newSDOServer(bus, 0x20)

	transport, err := NewTransport(bus, 0x20)
	require.NoError(t, err)

	reg := &register.Register{
		Identifier: "DRV_TOTAL_TIME",
		DType:      register.U64,
		Address:    register.CoEAddress{Index: 0x2030, SubIndex: 1},
	}

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, transport.WriteRaw(context.Background(), reg, payload))

	got, err := transport.ReadRaw(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestSDOReadRejectsNonCoEAddress(t *testing.T) {
	bus := NewVirtualBus()
	transport, err := NewTransport(bus, 0x20)
	require.NoError(t, err)

	reg := &register.Register{
		Identifier: "FLAT_REG",
		DType:      register.U16,
		Address:    register.IPAddress{Addr: 0x100},
	}
	_, err = transport.ReadRaw(context.Background(), reg)
	require.Error(t, err)
}

func TestSDOAbortSurfacesAsError(t *testing.T) {
	bus := NewVirtualBus()
	bus.Reply = func(req Frame) []Frame {
		resp := Frame{ID: 0x580 + uint32(0x20), DLC: 8}
		resp.Data[0] = scsAbort << 5
		binary.LittleEndian.PutUint32(resp.Data[4:8], 0x06020000) // object does not exist
		return []Frame{resp}
	}

	transport, err := NewTransport(bus, 0x20)
	require.NoError(t, err)

	reg := &register.Register{
		Identifier: "MISSING",
		DType:      register.U16,
		Address:    register.CoEAddress{Index: 0x5FFF, SubIndex: 0},
	}
	_, err = transport.ReadRaw(context.Background(), reg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "0x06020000")
}
