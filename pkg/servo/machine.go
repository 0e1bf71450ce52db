package servo

import (
	"context"
	"fmt"
	"time"

	"github.com/ingenialink/gomcb"
)

// Dictionary UIDs the state machine and store/restore operations address.
// These are communications-layer registers every Ingenia-style dictionary
// declares as ordinary entries, not reserved/auto-appended ones.
const (
	UIDControlWord = "DRV_STATE_CONTROL"
	UIDStatusWord  = "DRV_STATE_STATUS"

	UIDStoreAll    = "DRV_STORE_COCO_ALL"
	UIDRestoreAll  = "DRV_RESTORE_COCO_ALL"
	UIDStoreAxis   = "DRV_STORE_MOCO_ALL"
	UIDRestoreAxis = "DRV_RESTORE_MOCO_ALL"
)

// FaultResetRetries bounds how many control-word edges Enable will apply
// while stuck in Fault before giving up with a StateError.
const FaultResetRetries = 20

// statusPollInterval is how often Enable/Disable/FaultReset poll the
// status word while waiting for a state transition.
const statusPollInterval = 10 * time.Millisecond

// GetStatusWord reads the raw CiA 402 status word for subnode.
func (s *Servo) GetStatusWord(ctx context.Context, subnode uint8) (uint16, error) {
	v, err := s.Read(ctx, UIDStatusWord, subnode)
	if err != nil {
		return 0, err
	}
	sw, err := asUint64(v)
	if err != nil {
		return 0, err
	}
	return uint16(sw), nil
}

// GetState reads the status word and decodes it into a State.
func (s *Servo) GetState(ctx context.Context, subnode uint8) (State, error) {
	sw, err := s.GetStatusWord(ctx, subnode)
	if err != nil {
		return 0, err
	}
	return DecodeStatusWord(sw), nil
}

// waitStatusChange polls the status word until it changes from last or
// ctx's deadline expires, returning the new status word. It returns
// normally on change and gomcb.ErrTimeout on expiry -- never a mixed
// signature.
func (s *Servo) waitStatusChange(ctx context.Context, subnode uint8, last uint16) (uint16, error) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, gomcb.ErrTimeout
		case <-ticker.C:
			sw, err := s.GetStatusWord(ctx, subnode)
			if err != nil {
				continue
			}
			if sw != last {
				return sw, nil
			}
		}
	}
}

// Enable drives the CiA 402 state machine to Enabled, applying the
// state->control-word command table until the target state
// is reached or timeout expires. Stuck-in-fault is bounded by
// FaultResetRetries.
func (s *Servo) Enable(ctx context.Context, timeout time.Duration, subnode uint8) error {
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	faultResets := 0
	sw, err := s.GetStatusWord(ctx, subnode)
	if err != nil {
		return err
	}
	state := DecodeStatusWord(sw)

	for state != Enabled {
		if state == Fault || state == FaultReactive {
			faultResets++
			if faultResets > FaultResetRetries {
				return fmt.Errorf("%w: stuck in %s after %d fault-reset attempts", gomcb.ErrStateError, state, FaultResetRetries)
			}
		}

		cw, ok := controlWordFor(state)
		if !ok {
			return fmt.Errorf("%w: no command defined to advance from state %s", gomcb.ErrStateError, state)
		}
		if err := s.writeControlWord(ctx, subnode, cw, state == Fault || state == FaultReactive); err != nil {
			return err
		}

		newSW, err := s.waitStatusChange(ctx, subnode, sw)
		if err != nil {
			return fmt.Errorf("servo: enable: last observed state %s: %w", state, err)
		}
		sw = newSW
		state = DecodeStatusWord(sw)
	}
	return nil
}

// writeControlWord writes cw to the control word. When edge is true (the
// fault-reset command), it first clears bit 7 so the subsequent write is
// a genuine rising edge.
func (s *Servo) writeControlWord(ctx context.Context, subnode uint8, cw uint16, edge bool) error {
	if edge {
		if err := s.Write(ctx, UIDControlWord, uint16(0), subnode, false); err != nil {
			return err
		}
	}
	return s.Write(ctx, UIDControlWord, cw, subnode, false)
}

// Disable drives the state machine toward Disabled (switch-on-disabled)
// by writing the disable-voltage command, symmetric with Enable.
func (s *Servo) Disable(ctx context.Context, timeout time.Duration, subnode uint8) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sw, err := s.GetStatusWord(ctx, subnode)
	if err != nil {
		return err
	}
	state := DecodeStatusWord(sw)
	for state != Disabled {
		if err := s.Write(ctx, UIDControlWord, gomcb.ControlWordDisableVoltage, subnode, false); err != nil {
			return err
		}
		newSW, err := s.waitStatusChange(ctx, subnode, sw)
		if err != nil {
			return fmt.Errorf("servo: disable: last observed state %s: %w", state, err)
		}
		sw = newSW
		state = DecodeStatusWord(sw)
	}
	return nil
}

// FaultReset applies the rising edge on control-word bit 7 and waits for
// the state to leave Fault/FaultReactive.
func (s *Servo) FaultReset(ctx context.Context, timeout time.Duration, subnode uint8) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sw, err := s.GetStatusWord(ctx, subnode)
	if err != nil {
		return err
	}
	if err := s.writeControlWord(ctx, subnode, 1<<gomcb.ControlWordFaultResetBitPos, true); err != nil {
		return err
	}
	for {
		newSW, err := s.waitStatusChange(ctx, subnode, sw)
		if err != nil {
			return err
		}
		state := DecodeStatusWord(newSW)
		if state != Fault && state != FaultReactive {
			return nil
		}
		sw = newSW
	}
}

// StoreParameters writes the store-all magic word to the COCO store-all
// register; on failure it falls back to the per-axis MOCO store
// register. Both are fire-and-forget: failures are logged, never
// returned, since the drive may still be completing the save.
func (s *Servo) StoreParameters(ctx context.Context, subnode uint8) {
	if err := s.Write(ctx, UIDStoreAll, gomcb.PasswordStoreAll, subnode, false); err != nil {
		s.log.WithError(err).WithField("subnode", subnode).Warn("servo: store-all failed, falling back to per-axis store")
		if err := s.Write(ctx, UIDStoreAxis, gomcb.PasswordStoreAll, subnode, false); err != nil {
			s.log.WithError(err).WithField("subnode", subnode).Warn("servo: per-axis store also failed")
		}
	}
}

// RestoreParameters writes the restore-all magic word, falling back to
// the per-axis MOCO restore register on failure. Failures are swallowed
// with a logged warning rather than returned, since a restore may still
// be completing on the drive side after the magic word is accepted.
func (s *Servo) RestoreParameters(ctx context.Context, subnode uint8) {
	if err := s.Write(ctx, UIDRestoreAll, gomcb.PasswordRestoreAll, subnode, false); err != nil {
		s.log.WithError(err).WithField("subnode", subnode).Warn("servo: restore-all failed, falling back to per-axis restore")
		if err := s.Write(ctx, UIDRestoreAxis, gomcb.PasswordRestoreAll, subnode, false); err != nil {
			s.log.WithError(err).WithField("subnode", subnode).Warn("servo: per-axis restore also failed")
		}
	}
}
