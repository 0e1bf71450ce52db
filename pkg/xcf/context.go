package xcf

import (
	"context"
	"sync"

	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/servo"
)

// defaultIgnoreSet names the fire-and-forget magic-word registers a
// DriveContext never replays on exit, since re-writing them would
// re-trigger a store/restore rather than undo one.
var defaultIgnoreSet = map[string]bool{
	servo.UIDStoreAll:    true,
	servo.UIDRestoreAll:  true,
	servo.UIDStoreAxis:   true,
	servo.UIDRestoreAxis: true,
}

// DriveContext snapshots every RW register's current value on entry,
// tracks subsequent writes via the servo's update observer, and on Close
// writes back the original value for every register that changed and
// isn't in the ignore set.
type DriveContext struct {
	servo   *servo.Servo
	ignore  map[string]bool
	token   servo.Token

	mu        sync.Mutex
	snapshots map[uint8]map[string]any
	changed   map[uint8]map[string]bool
}

// ContextOption configures a DriveContext at construction.
type ContextOption func(*DriveContext)

// WithIgnoreSet replaces the default ignore set.
func WithIgnoreSet(ignore map[string]bool) ContextOption {
	return func(c *DriveContext) { c.ignore = ignore }
}

// NewDriveContext snapshots the current value of every RW register on s's
// dictionary (restricted to subnode if non-nil), and starts tracking
// writes for later restoration.
func NewDriveContext(ctx context.Context, s *servo.Servo, subnode *uint8, opts ...ContextOption) (*DriveContext, error) {
	c := &DriveContext{
		servo:     s,
		ignore:    defaultIgnoreSet,
		snapshots: map[uint8]map[string]any{},
		changed:   map[uint8]map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}

	dict := s.Dictionary()
	for sn, regs := range dict.Registers {
		if subnode != nil && *subnode != sn {
			continue
		}
		c.snapshots[sn] = map[string]any{}
		for uid, reg := range regs {
			if reg.Access != register.RW {
				continue
			}
			value, err := s.Read(ctx, uid, sn)
			if err != nil {
				continue
			}
			c.snapshots[sn][uid] = value
		}
	}

	c.token = s.RegisterUpdateSubscribe(func(_ *servo.Servo, reg *register.Register, _ any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ignore[reg.Identifier] {
			return
		}
		if _, ok := c.snapshots[reg.Subnode]; !ok {
			return
		}
		if c.changed[reg.Subnode] == nil {
			c.changed[reg.Subnode] = map[string]bool{}
		}
		c.changed[reg.Subnode][reg.Identifier] = true
	})

	return c, nil
}

// Close writes back the snapshotted value for every register that
// changed since NewDriveContext and isn't in the ignore set. Call via
// defer, mirroring the source's context-manager idiom.
func (c *DriveContext) Close(ctx context.Context) error {
	c.servo.RegisterUpdateUnsubscribe(c.token)

	c.mu.Lock()
	changed := c.changed
	c.mu.Unlock()

	var firstErr error
	for subnode, uids := range changed {
		for uid := range uids {
			original, ok := c.snapshots[subnode][uid]
			if !ok {
				continue
			}
			if err := c.servo.Write(ctx, uid, original, subnode, false); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
