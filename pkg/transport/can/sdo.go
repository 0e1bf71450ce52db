package can

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/sirupsen/logrus"
)

// SDO command specifiers, bits [7:5] of the first byte of a CAN SDO
// frame. Client-to-server and server-to-client directions assign the
// values differently; the resp* constants are the server's.
const (
	scsSegmentDownload  = 0
	scsInitiateDownload = 1
	scsInitiateUpload   = 2
	scsSegmentUpload    = 3
	scsAbort            = 4

	respSegmentUpload   = 0
	respSegmentDownload = 1
)

// Initiate-frame flag bits: e marks an expedited transfer, s marks that
// the size field is valid.
const (
	flagExpedited     = 0x02
	flagSizeIndicated = 0x01
)

// segmentPayloadSize is how many data bytes one segment frame carries.
const segmentPayloadSize = 7

// DefaultTimeout is the SDO response deadline (§4.2/§5).
const DefaultTimeout = 300 * time.Millisecond

// interleaveYield is the explicit yield between lock acquisition and send
// on CAN: the bus library otherwise starves other listeners (§5).
const interleaveYield = 100 * time.Microsecond

// Option configures a Transport at construction.
type Option func(*Transport)

// WithTimeout overrides the default 300ms SDO response deadline.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Entry) Option {
	return func(t *Transport) { t.log = log }
}

// Transport implements the CANopen SDO client: reads are uploads, writes
// are downloads, one Servo is one CAN node. A per-node mutex serializes
// exchanges (§5) and is held across a whole segmented transfer; nodeID is
// the 7-bit CANopen node identifier addressed by the SDO client/server
// COB-IDs (0x600+nodeID client->server, 0x580+nodeID server->client).
type Transport struct {
	mu      sync.Mutex
	bus     Bus
	nodeID  uint8
	timeout time.Duration
	log     *logrus.Entry

	replies chan Frame
}

// NewTransport wraps bus, addressing CANopen node nodeID, as a Transport.
func NewTransport(bus Bus, nodeID uint8, opts ...Option) (*Transport, error) {
	t := &Transport{
		bus:     bus,
		nodeID:  nodeID,
		timeout: DefaultTimeout,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		replies: make(chan Frame, 8),
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := bus.Subscribe(frameListenerFunc(t.handle)); err != nil {
		return nil, fmt.Errorf("can transport: subscribe: %w", err)
	}
	return t, nil
}

func (t *Transport) Close() error {
	return t.bus.Disconnect()
}

type frameListenerFunc func(Frame)

func (f frameListenerFunc) Handle(frame Frame) { f(frame) }

// handle is invoked by the Bus on every received frame; it only forwards
// frames on our SDO server COB-ID (0x580+nodeID).
func (t *Transport) handle(frame Frame) {
	if frame.ID != 0x580+uint32(t.nodeID) {
		return
	}
	select {
	case t.replies <- frame:
	default:
	}
}

// drainStaleReplies discards replies left over from a timed-out exchange
// so the next request re-synchronizes.
func (t *Transport) drainStaleReplies() {
	for {
		select {
		case <-t.replies:
		default:
			return
		}
	}
}

// exchange sends req and blocks for the matching server reply. The caller
// must hold t.mu; segmented transfers call it once per segment under one
// lock acquisition.
func (t *Transport) exchange(ctx context.Context, req Frame) (Frame, error) {
	time.Sleep(interleaveYield)

	if err := t.bus.Send(req); err != nil {
		return Frame{}, fmt.Errorf("can transport: send: %w", err)
	}

	deadline := time.Now().Add(t.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case reply := <-t.replies:
		return reply, nil
	case <-timer.C:
		return Frame{}, fmt.Errorf("can transport: SDO response timed out after %s", t.timeout)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// ReadRaw performs an SDO upload of reg's CoE (index, sub-index):
// expedited for values of 4 bytes or fewer, segmented with alternating
// toggle bits otherwise (Str, ByteArray512, 8-byte scalars).
func (t *Transport) ReadRaw(ctx context.Context, reg *register.Register) ([]byte, error) {
	addr, err := coeAddress(reg)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.drainStaleReplies()

	req := Frame{ID: 0x600 + uint32(t.nodeID), DLC: 8}
	req.Data[0] = scsInitiateUpload << 5
	binary.LittleEndian.PutUint16(req.Data[1:3], addr.Index)
	req.Data[3] = addr.SubIndex

	reply, err := t.exchange(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("can transport: read %s: %w", reg.Identifier, err)
	}
	if err := checkAbort(reply); err != nil {
		return nil, fmt.Errorf("can transport: read %s: %w", reg.Identifier, err)
	}

	if reply.Data[0]&flagExpedited != 0 {
		n := 4
		if reply.Data[0]&flagSizeIndicated != 0 {
			n = 4 - int((reply.Data[0]>>2)&0x3)
		}
		return append([]byte(nil), reply.Data[4:4+n]...), nil
	}

	data, err := t.uploadSegments(ctx, reply)
	if err != nil {
		return nil, fmt.Errorf("can transport: read %s: %w", reg.Identifier, err)
	}
	return data, nil
}

// uploadSegments runs the segmented half of an upload after a normal
// (non-expedited) initiate response, alternating the toggle bit until the
// server flags the last segment. Caller holds t.mu.
func (t *Transport) uploadSegments(ctx context.Context, initiate Frame) ([]byte, error) {
	var sizeIndicated uint32
	if initiate.Data[0]&flagSizeIndicated != 0 {
		sizeIndicated = binary.LittleEndian.Uint32(initiate.Data[4:8])
	}

	var data []byte
	toggle := uint8(0)
	for {
		req := Frame{ID: 0x600 + uint32(t.nodeID), DLC: 8}
		req.Data[0] = scsSegmentUpload<<5 | toggle<<4

		reply, err := t.exchange(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := checkAbort(reply); err != nil {
			return nil, err
		}
		if reply.Data[0]>>5 != respSegmentUpload {
			return nil, fmt.Errorf("unexpected command specifier %d in upload segment", reply.Data[0]>>5)
		}
		if reply.Data[0]>>4&1 != toggle {
			return nil, fmt.Errorf("toggle bit mismatch in upload segment")
		}

		empty := int(reply.Data[0] >> 1 & 0x7)
		data = append(data, reply.Data[1:1+segmentPayloadSize-empty]...)

		if reply.Data[0]&1 != 0 {
			break
		}
		toggle ^= 1
	}

	if sizeIndicated != 0 && uint32(len(data)) > sizeIndicated {
		data = data[:sizeIndicated]
	}
	return data, nil
}

// WriteRaw performs an SDO download of data to reg's CoE (index,
// sub-index): expedited for 4 bytes or fewer, segmented otherwise.
func (t *Transport) WriteRaw(ctx context.Context, reg *register.Register, data []byte) error {
	addr, err := coeAddress(reg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.drainStaleReplies()

	req := Frame{ID: 0x600 + uint32(t.nodeID), DLC: 8}
	binary.LittleEndian.PutUint16(req.Data[1:3], addr.Index)
	req.Data[3] = addr.SubIndex

	expedited := len(data) <= 4
	if expedited {
		req.Data[0] = byte(scsInitiateDownload<<5) | flagExpedited | flagSizeIndicated | byte((4-len(data))<<2)
		copy(req.Data[4:], data)
	} else {
		req.Data[0] = byte(scsInitiateDownload<<5) | flagSizeIndicated
		binary.LittleEndian.PutUint32(req.Data[4:8], uint32(len(data)))
	}

	reply, err := t.exchange(ctx, req)
	if err != nil {
		return fmt.Errorf("can transport: write %s: %w", reg.Identifier, err)
	}
	if err := checkAbort(reply); err != nil {
		return fmt.Errorf("can transport: write %s: %w", reg.Identifier, err)
	}
	if expedited {
		return nil
	}

	if err := t.downloadSegments(ctx, data); err != nil {
		return fmt.Errorf("can transport: write %s: %w", reg.Identifier, err)
	}
	return nil
}

// downloadSegments streams data in 7-byte segments with alternating
// toggle bits, flagging the last segment. Caller holds t.mu.
func (t *Transport) downloadSegments(ctx context.Context, data []byte) error {
	toggle := uint8(0)
	for offset := 0; offset < len(data); offset += segmentPayloadSize {
		end := offset + segmentPayloadSize
		last := end >= len(data)
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		empty := segmentPayloadSize - len(chunk)

		req := Frame{ID: 0x600 + uint32(t.nodeID), DLC: 8}
		req.Data[0] = scsSegmentDownload<<5 | toggle<<4 | byte(empty<<1)
		if last {
			req.Data[0] |= 1
		}
		copy(req.Data[1:], chunk)

		reply, err := t.exchange(ctx, req)
		if err != nil {
			return err
		}
		if err := checkAbort(reply); err != nil {
			return err
		}
		if reply.Data[0]>>5 != respSegmentDownload || reply.Data[0]>>4&1 != toggle {
			return fmt.Errorf("unexpected segment confirmation 0x%02X", reply.Data[0])
		}
		toggle ^= 1
	}
	return nil
}

func checkAbort(reply Frame) error {
	if reply.Data[0]>>5 == scsAbort {
		code := binary.LittleEndian.Uint32(reply.Data[4:8])
		return fmt.Errorf("can transport: SDO abort, code 0x%08X", code)
	}
	return nil
}

func coeAddress(reg *register.Register) (register.CoEAddress, error) {
	addr, ok := reg.Address.(register.CoEAddress)
	if !ok {
		return register.CoEAddress{}, fmt.Errorf("can transport: register %s has no CoE index/sub-index", reg.Identifier)
	}
	return addr, nil
}
