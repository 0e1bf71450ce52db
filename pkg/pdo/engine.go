package pdo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ingenialink/gomcb"
	"github.com/ingenialink/gomcb/pkg/transport"
	"github.com/sirupsen/logrus"
)

// SafeRPDOMapUID and SafeTPDOMapUID name the safety RPDO/TPDO a safe drive
// must have mapped before the engine will start against it.
const (
	SafeRPDOMapUID = "ETG_COMMS_RPDO_MAP256"
	SafeTPDOMapUID = "ETG_COMMS_TPDO_MAP256"
)

// DefaultRefreshRate and MinRefreshRate bound the cyclic period.
const (
	DefaultRefreshRate = 10 * time.Millisecond
	MinRefreshRate     = 1 * time.Millisecond
	// busyWaitThreshold: below this, the platform's sleep granularity is
	// assumed too coarse to hit short periods accurately and the engine
	// busy-waits the remainder instead.
	busyWaitThreshold = 13 * time.Millisecond
)

// SendObserver is called once per iteration before the frame is
// transacted, to stage fresh values into the RPDO maps' items.
type SendObserver func(maps []*Map)

// ReceiveObserver is called once per iteration after the frame is
// transacted, once per TPDOMap, with that map already unpacked.
type ReceiveObserver func(m *Map)

// ExceptionObserver is notified when the engine stops due to a transport
// failure or watchdog overrun; err describes what happened.
type ExceptionObserver func(err error)

// Option configures an Engine at construction.
type Option func(*Engine)

// WithRefreshRate overrides the default 10ms cyclic period; values below
// MinRefreshRate are clamped up to it.
func WithRefreshRate(d time.Duration) Option {
	return func(e *Engine) {
		if d < MinRefreshRate {
			d = MinRefreshRate
		}
		e.refreshRate = d
	}
}

// WithWatchdog overrides the computed default watchdog period.
func WithWatchdog(d time.Duration) Option {
	return func(e *Engine) { e.watchdog = d }
}

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithSafe marks the attached drive as safe: Start refuses to run unless
// both the safety RPDO and TPDO are present in the current maps.
func WithSafe(safe bool) Option {
	return func(e *Engine) { e.safe = safe }
}

// Engine is the single cooperative PDO thread for one Network: one
// iteration is (a) call send observers, (b) transact one cycle of
// process data, (c) call receive observers. The constructor never
// spawns the goroutine; Start does.
type Engine struct {
	transport transport.ProcessData
	rpdoMaps  []*Map
	tpdoMaps  []*Map

	refreshRate time.Duration
	watchdog    time.Duration
	safe        bool
	log         *logrus.Entry

	sendObservers      []SendObserver
	receiveObservers   []ReceiveObserver
	exceptionObservers []ExceptionObserver

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	lastDuration time.Duration
	// fromThread flags Stop as being invoked from within the engine's own
	// goroutine (its exception handler), so it can return without joining
	// and deadlocking on itself.
	fromThread bool
}

// NewEngine builds an inert engine over transport t and the given
// RPDO/TPDO maps.
func NewEngine(t transport.ProcessData, rpdoMaps, tpdoMaps []*Map, opts ...Option) *Engine {
	e := &Engine{
		transport:   t,
		rpdoMaps:    rpdoMaps,
		tpdoMaps:    tpdoMaps,
		refreshRate: DefaultRefreshRate,
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.watchdog == 0 {
		e.watchdog = watchdogFor(e.refreshRate)
	}
	return e
}

// watchdogFor computes the drive-side watchdog period: max(100ms,
// refresh_rate*2).
func watchdogFor(refreshRate time.Duration) time.Duration {
	wd := refreshRate * 2
	if wd < 100*time.Millisecond {
		wd = 100 * time.Millisecond
	}
	return wd
}

func (e *Engine) OnSend(cb SendObserver)           { e.sendObservers = append(e.sendObservers, cb) }
func (e *Engine) OnReceive(cb ReceiveObserver)      { e.receiveObservers = append(e.receiveObservers, cb) }
func (e *Engine) OnException(cb ExceptionObserver)  { e.exceptionObservers = append(e.exceptionObservers, cb) }

// IsRunning reports whether the cyclic thread is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// LastIterationDuration reports how long the most recent cycle took.
func (e *Engine) LastIterationDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDuration
}

// Start configures the drive-side watchdog and spawns the cyclic thread.
// It enforces the safe-drive PDO-presence gate before doing
// either.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("pdo: engine already running")
	}
	if e.safe && !e.hasSafeMaps() {
		e.mu.Unlock()
		return fmt.Errorf("%w: wrong PDO configuration in a safe drive", gomcb.ErrStateError)
	}

	// A drive that rejects the value (above its maximum) surfaces here.
	if err := e.transport.ConfigureWatchdog(ctx, e.watchdog.Seconds()); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("pdo: sampling time too high: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.fromThread = false
	e.mu.Unlock()

	go e.run(runCtx)
	return nil
}

func (e *Engine) hasSafeMaps() bool {
	has := func(maps []*Map, uid string) bool {
		for _, m := range maps {
			for _, item := range m.Items {
				if item.Register != nil && item.Register.Identifier == uid {
					return true
				}
			}
		}
		return false
	}
	return has(e.rpdoMaps, SafeRPDOMapUID) && has(e.tpdoMaps, SafeTPDOMapUID)
}

// Stop cooperatively signals the thread to exit and joins it, unless
// called from within the thread's own exception handler, in which case
// it returns immediately to avoid self-deadlock.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	fromThread := e.fromThread
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	if fromThread {
		return
	}
	<-done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		err := e.iterate(ctx)
		elapsed := time.Since(start)
		e.mu.Lock()
		e.lastDuration = elapsed
		e.mu.Unlock()

		if err != nil {
			e.stopFromThread(fmt.Errorf("pdo: iteration failed after %s (watchdog %s): %w", elapsed, e.watchdog, err))
			return
		}
		if elapsed > e.watchdog {
			e.stopFromThread(fmt.Errorf("pdo: iteration took %s, exceeding watchdog %s", elapsed, e.watchdog))
			return
		}
		e.sleepRemainder(start)
	}
}

func (e *Engine) sleepRemainder(iterationStart time.Time) {
	remaining := e.refreshRate - time.Since(iterationStart)
	if remaining <= 0 {
		return
	}
	if e.refreshRate >= busyWaitThreshold {
		time.Sleep(remaining)
		return
	}
	deadline := iterationStart.Add(e.refreshRate)
	for time.Now().Before(deadline) {
		// busy-wait: short periods are below reliable OS sleep granularity.
	}
}

func (e *Engine) iterate(ctx context.Context) error {
	for _, cb := range e.sendObservers {
		cb(e.rpdoMaps)
	}

	rpdoData := make([]byte, 0)
	for _, m := range e.rpdoMaps {
		rpdoData = append(rpdoData, m.Pack()...)
	}

	tpdoData, err := e.transport.SendReceiveProcessData(ctx, rpdoData)
	if err != nil {
		return err
	}

	offset := 0
	for _, m := range e.tpdoMaps {
		n := m.DataLengthBytes()
		if offset+n > len(tpdoData) {
			return fmt.Errorf("short TPDO frame: need %d bytes at offset %d, got %d total", n, offset, len(tpdoData))
		}
		if err := m.Unpack(tpdoData[offset : offset+n]); err != nil {
			return err
		}
		offset += n
	}

	for _, m := range e.tpdoMaps {
		for _, cb := range e.receiveObservers {
			cb(m)
		}
	}
	return nil
}

func (e *Engine) stopFromThread(err error) {
	e.mu.Lock()
	e.fromThread = true
	cancel := e.cancel
	e.mu.Unlock()
	cancel()

	for _, cb := range e.exceptionObservers {
		cb(err)
	}
	e.log.WithError(err).Error("pdo: engine stopped")
}
