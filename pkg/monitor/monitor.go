// Package monitor implements the drive-to-host monitoring channel:
// channel mapping, trigger/window configuration, enable, and the
// chunked readback loop that splits the drive's upload ring into
// per-channel, dtype-decoded samples.
package monitor

import (
	"context"
	"fmt"

	"github.com/ingenialink/gomcb/internal/ringbuf"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/servo"
)

// MaxChannels bounds how many monitoring channels this package maps;
// the dictionary only ever declares MON_CFG_REG0_MAP..MON_CFG_REG7_MAP.
const MaxChannels = 8

// Reserved/configuration register UIDs the dictionary declares for the
// monitoring path. MON_DATA_VALUE is the one auto-appended
// reserved register (see pkg/dictionary/reserved.go); the rest are
// ordinary catalog entries every real monitoring-capable dictionary
// carries.
const (
	UIDTotalMap    = "MON_CFG_TOTAL_MAP"
	UIDFreqDivider = "MON_DIST_FREQ_DIV"
	UIDWindowSamp  = "MON_CFG_WINDOW_SAMP"
	UIDTriggerType = "MON_CFG_SOC_TYPE"
	UIDEnable      = "MON_DIST_ENABLE"
	UIDForceTrig   = "MON_CMD_FORCE_TRIGGER"
	UIDBytesValue  = "MON_CFG_BYTES_VALUE"
	UIDDataValue   = "MON_DATA_VALUE"
)

// Trigger types written to MON_CFG_SOC_TYPE.
const (
	TriggerAuto   uint16 = 0
	TriggerForced uint16 = 1
	TriggerEdge   uint16 = 2 // rising/falling
)

func channelMapUID(c int) string {
	return fmt.Sprintf("MON_CFG_REG%d_MAP", c)
}

// Channel is one mapped monitoring source: a register sampled by the
// drive at the configured divider, at the given subnode.
type Channel struct {
	Register *register.Register
	Subnode  uint8
}

// Descriptor packs the channel into a u32-LE word:
// subnode[31:28] | address[27:16] | dtype index[15:8] | size bytes[7:0].
func (c Channel) Descriptor() uint32 {
	addr := flatAddress(c.Register)
	size := c.Register.DType.Size()
	return uint32(c.Subnode&0xF)<<28 | uint32(addr&0xFFF)<<16 | uint32(uint8(c.Register.DType))<<8 | uint32(size&0xFF)
}

func flatAddress(reg *register.Register) uint16 {
	switch addr := reg.Address.(type) {
	case register.IPAddress:
		return addr.Addr
	case register.CoEAddress:
		return addr.Index
	case register.ECATAddress:
		return addr.Index
	default:
		return 0
	}
}

// Config configures the monitoring trigger and sampling parameters,
// alongside the mapped channels.
type Config struct {
	Divider     uint32
	WindowSamp  uint32
	TriggerType uint16
}

// Monitor owns one monitoring session against a Servo: the mapped
// channels and the accumulation ring for the readback loop.
type Monitor struct {
	servo    *servo.Servo
	subnode  uint8
	channels []Channel
	ring     *ringbuf.Ring
}

// New builds a Monitor bound to s. Reads/writes address subnode (the
// comms-layer registers monitoring configures are subnode 0 on most
// drives, but the caller decides).
func New(s *servo.Servo, subnode uint8) *Monitor {
	return &Monitor{servo: s, subnode: subnode, ring: ringbuf.New(4096)}
}

// MapChannels writes each channel's descriptor and the total channel
// count. Replaces any previously mapped channels.
func (m *Monitor) MapChannels(ctx context.Context, channels []Channel) error {
	if len(channels) > MaxChannels {
		return fmt.Errorf("monitor: %d channels exceeds max %d", len(channels), MaxChannels)
	}
	for i, ch := range channels {
		if err := m.servo.Write(ctx, channelMapUID(i), ch.Descriptor(), m.subnode, false); err != nil {
			return fmt.Errorf("monitor: map channel %d: %w", i, err)
		}
	}
	if err := m.servo.Write(ctx, UIDTotalMap, uint16(len(channels)), m.subnode, false); err != nil {
		return fmt.Errorf("monitor: write total map: %w", err)
	}
	m.channels = channels
	m.ring.Reset()
	return nil
}

// Configure writes the divider, window size, and trigger type.
func (m *Monitor) Configure(ctx context.Context, cfg Config) error {
	if err := m.servo.Write(ctx, UIDFreqDivider, cfg.Divider, m.subnode, false); err != nil {
		return fmt.Errorf("monitor: write divider: %w", err)
	}
	if err := m.servo.Write(ctx, UIDWindowSamp, cfg.WindowSamp, m.subnode, false); err != nil {
		return fmt.Errorf("monitor: write window size: %w", err)
	}
	if err := m.servo.Write(ctx, UIDTriggerType, cfg.TriggerType, m.subnode, false); err != nil {
		return fmt.Errorf("monitor: write trigger type: %w", err)
	}
	return nil
}

// Enable arms the monitoring session.
func (m *Monitor) Enable(ctx context.Context) error {
	return m.servo.Write(ctx, UIDEnable, uint16(1), m.subnode, false)
}

// Disable disarms the monitoring session. Per spec's invariant, the
// caller must have drained every pending byte with ReadAll first, or
// the drive's ring buffer is left holding stale data for the next run.
func (m *Monitor) Disable(ctx context.Context) error {
	return m.servo.Write(ctx, UIDEnable, uint16(0), m.subnode, false)
}

// ForceTrigger issues a software trigger.
func (m *Monitor) ForceTrigger(ctx context.Context) error {
	return m.servo.Write(ctx, UIDForceTrig, uint16(1), m.subnode, false)
}

// bytesPerBlock is the total byte width of one sample across every
// mapped channel.
func (m *Monitor) bytesPerBlock() int {
	total := 0
	for _, ch := range m.channels {
		total += ch.Register.DType.Size()
	}
	return total
}

// ReadAll drains every byte currently pending in the drive's monitoring
// buffer, reading up to 512 bytes per transaction from MON_DATA_VALUE
// while MON_CFG_BYTES_VALUE reports remaining bytes, and returns the
// decoded samples for every complete per-channel block received.
// Per the spec's invariant, this must be called to completion (pending
// count reaches zero) before Disable.
func (m *Monitor) ReadAll(ctx context.Context) ([]Sample, error) {
	var out []Sample
	for {
		pendingAny, err := m.servo.Read(ctx, UIDBytesValue, m.subnode)
		if err != nil {
			return nil, fmt.Errorf("monitor: read pending byte count: %w", err)
		}
		pending, err := toUint32(pendingAny)
		if err != nil {
			return nil, err
		}
		if pending == 0 {
			break
		}

		dataAny, err := m.servo.Read(ctx, UIDDataValue, m.subnode)
		if err != nil {
			return nil, fmt.Errorf("monitor: read data value: %w", err)
		}
		data, ok := dataAny.([]byte)
		if !ok {
			return nil, fmt.Errorf("monitor: MON_DATA_VALUE decoded as %T, want []byte", dataAny)
		}
		n := len(data)
		if uint32(n) > pending {
			n = int(pending)
		}
		m.ring.Write(data[:n])
		// Decode whole blocks per chunk so the ring only ever holds a
		// trailing partial block, however long the session ran.
		out = append(out, m.decodeSamples()...)
	}
	return out, nil
}

// Sample is one decoded value from one channel of one block.
type Sample struct {
	Channel int
	Value   any
}

func (m *Monitor) decodeSamples() []Sample {
	blockSize := m.bytesPerBlock()
	if blockSize == 0 {
		return nil
	}
	var out []Sample
	for {
		block := m.ring.ReadBlocks(blockSize)
		if block == nil {
			break
		}
		for off := 0; off < len(block); {
			for ci, ch := range m.channels {
				n := ch.Register.DType.Size()
				v, err := register.Decode(ch.Register.DType, block[off:off+n])
				if err == nil {
					out = append(out, Sample{Channel: ci, Value: v})
				}
				off += n
			}
		}
	}
	return out
}

func toUint32(v any) (uint32, error) {
	switch x := v.(type) {
	case uint8:
		return uint32(x), nil
	case uint16:
		return uint32(x), nil
	case uint32:
		return x, nil
	case uint64:
		return uint32(x), nil
	default:
		return 0, fmt.Errorf("monitor: cannot treat %T as an unsigned byte count", v)
	}
}
