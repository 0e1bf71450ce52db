package servo

import (
	"context"
	"sync"
	"time"
)

// StatusPollPeriod is the status-word poll cadence.
const StatusPollPeriod = 1500 * time.Millisecond

// StatusListener is an optional background task that polls a servo's
// status word once every StatusPollPeriod per subnode, decodes the
// state, and invokes the servo's state observers on change. At most one
// listener may run per servo at a time. The constructor never spawns a
// goroutine -- Start does.
type StatusListener struct {
	servo    *Servo
	subnodes []uint8

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStatusListener builds an inert listener for the given subnodes.
func NewStatusListener(s *Servo, subnodes ...uint8) *StatusListener {
	return &StatusListener{servo: s, subnodes: subnodes}
}

// Start spawns the polling goroutine. Calling Start on an already-running
// listener is a no-op.
func (l *StatusListener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	go l.run(runCtx)
}

// Stop cancels the polling goroutine and waits for it to exit.
func (l *StatusListener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	done := l.done
	l.running = false
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *StatusListener) run(ctx context.Context) {
	defer close(l.done)

	last := make(map[uint8]State, len(l.subnodes))
	ticker := time.NewTicker(StatusPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, subnode := range l.subnodes {
				state, err := l.servo.GetState(ctx, subnode)
				if err != nil {
					continue
				}
				if prev, ok := last[subnode]; !ok || prev != state {
					last[subnode] = state
					l.servo.notifyState(subnode, state)
				}
			}
		}
	}
}
