// Package disturbance implements the host-to-drive disturbance
// channel: symmetric channel mapping, block-packed payload assembly,
// chunked writes, and enable.
package disturbance

import (
	"context"
	"fmt"

	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/servo"
)

// MaxChannels mirrors pkg/monitor's bound: the dictionary only ever
// declares DIST_CFG_REG0_MAP..DIST_CFG_REG7_MAP.
const MaxChannels = 8

// MaxChunkBytes is the largest single MCB write the drive accepts per
// disturbance data transaction.
const MaxChunkBytes = 512

// Reserved/configuration register UIDs the dictionary declares for the
// disturbance path. DIST_DATA_VALUE is the one auto-appended
// reserved register (pkg/dictionary/reserved.go).
const (
	UIDMapRegs    = "DIST_CFG_MAP_REGS"
	UIDNumSamples = "DIST_CFG_SAMPLES"
	UIDEnable     = "DIST_ENABLE"
	UIDDataValue  = "DIST_DATA_VALUE"
)

func channelMapUID(c int) string {
	return fmt.Sprintf("DIST_CFG_REG%d_MAP", c)
}

// Channel is one mapped disturbance target: a register the drive will
// overwrite from the played-back buffer, at the given subnode.
type Channel struct {
	Register *register.Register
	Subnode  uint8
}

// Descriptor packs the channel using the same u32-LE layout as
// monitoring: subnode[31:28] | address[27:16] | dtype
// index[15:8] | size bytes[7:0].
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

// Disturbance owns one disturbance session against a Servo.
type Disturbance struct {
	servo    *servo.Servo
	subnode  uint8
	channels []Channel
}

// New builds a Disturbance bound to s.
func New(s *servo.Servo, subnode uint8) *Disturbance {
	return &Disturbance{servo: s, subnode: subnode}
}

// MapChannels writes each channel's descriptor and the channel count,
// symmetric with monitor.MapChannels.
func (d *Disturbance) MapChannels(ctx context.Context, channels []Channel) error {
	if len(channels) > MaxChannels {
		return fmt.Errorf("disturbance: %d channels exceeds max %d", len(channels), MaxChannels)
	}
	for i, ch := range channels {
		if err := d.servo.Write(ctx, channelMapUID(i), ch.Descriptor(), d.subnode, false); err != nil {
			return fmt.Errorf("disturbance: map channel %d: %w", i, err)
		}
	}
	if err := d.servo.Write(ctx, UIDMapRegs, uint16(len(channels)), d.subnode, false); err != nil {
		return fmt.Errorf("disturbance: write channel count: %w", err)
	}
	d.channels = channels
	return nil
}

// WriteSamples packs samples (one slot per outer element, one value per
// channel per slot, in channel order) into bytes_per_block blocks,
// concatenates them, writes DIST_CFG_SAMPLES, and chunks the payload
// into ≤ MaxChunkBytes writes to DIST_DATA_VALUE.
func (d *Disturbance) WriteSamples(ctx context.Context, samples [][]any) error {
	if len(d.channels) == 0 {
		return fmt.Errorf("disturbance: no channels mapped")
	}
	payload, err := d.pack(samples)
	if err != nil {
		return err
	}
	if err := d.servo.Write(ctx, UIDNumSamples, uint32(len(samples)), d.subnode, false); err != nil {
		return fmt.Errorf("disturbance: write sample count: %w", err)
	}
	for offset := 0; offset < len(payload); offset += MaxChunkBytes {
		end := offset + MaxChunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]
		if err := d.servo.Write(ctx, UIDDataValue, chunk, d.subnode, false); err != nil {
			return fmt.Errorf("disturbance: write chunk at offset %d: %w", offset, err)
		}
	}
	return nil
}

func (d *Disturbance) pack(samples [][]any) ([]byte, error) {
	var out []byte
	for slot, values := range samples {
		if len(values) != len(d.channels) {
			return nil, fmt.Errorf("disturbance: slot %d has %d values, want %d (one per mapped channel)", slot, len(values), len(d.channels))
		}
		for ci, ch := range d.channels {
			data, err := register.Encode(ch.Register.DType, values[ci], ch.Register.DType.Size())
			if err != nil {
				return nil, fmt.Errorf("disturbance: encode slot %d channel %d: %w", slot, ci, err)
			}
			out = append(out, data...)
		}
	}
	return out, nil
}

// Enable arms playback; the drive replays the buffer onto the mapped
// registers.
func (d *Disturbance) Enable(ctx context.Context) error {
	return d.servo.Write(ctx, UIDEnable, uint16(1), d.subnode, false)
}

// Disable stops playback.
func (d *Disturbance) Disable(ctx context.Context) error {
	return d.servo.Write(ctx, UIDEnable, uint16(0), d.subnode, false)
}
