// Package servo implements the register-facing façade: typed register
// read/write by UID with per-peer serialization, bitfield access, the
// CiA 402 state machine, and store/restore-parameters.
package servo

import (
	"context"
	"fmt"
	"sync"

	"github.com/ingenialink/gomcb"
	"github.com/ingenialink/gomcb/pkg/dictionary"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/transport"
	"github.com/sirupsen/logrus"
)

// UpdateCallback is invoked after a successful write, with the servo,
// the register written, and its new value.
type UpdateCallback func(s *Servo, reg *register.Register, value any)

// StateCallback is invoked when the decoded CiA 402 state changes.
type StateCallback func(s *Servo, subnode uint8, state State)

// EmergencyCallback is invoked when an emergency/fault condition is fed
// in through NotifyEmergency.
type EmergencyCallback func(s *Servo, errorCode uint32)

// Token identifies a subscribed callback for later Unsubscribe.
type Token int

// Option configures a Servo at construction.
type Option func(*Servo)

// WithLogger attaches a structured logger; falls back to logrus's
// standard logger when omitted.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Servo) { s.log = log }
}

// Servo is bound to one peer address on one transport and one Dictionary.
// It holds the per-peer lock (one outstanding request at a time) and the
// observer lists for register updates, state changes, and emergencies.
type Servo struct {
	mu sync.Mutex // peer lock: serializes every request/response pair

	transport  transport.Transport
	dictionary *dictionary.Dictionary
	log        *logrus.Entry

	observerMu       sync.Mutex
	nextToken        Token
	updateObservers  map[Token]UpdateCallback
	stateObservers   map[Token]StateCallback
	emergencyObservers map[Token]EmergencyCallback
}

// New binds t and dict into a Servo.
func New(t transport.Transport, dict *dictionary.Dictionary, opts ...Option) *Servo {
	s := &Servo{
		transport:          t,
		dictionary:         dict,
		log:                logrus.NewEntry(logrus.StandardLogger()),
		updateObservers:    map[Token]UpdateCallback{},
		stateObservers:     map[Token]StateCallback{},
		emergencyObservers: map[Token]EmergencyCallback{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dictionary returns the servo's bound dictionary.
func (s *Servo) Dictionary() *dictionary.Dictionary { return s.dictionary }

// Close releases the servo's transport (socket, CAN node handle, or CoE
// mailbox). The servo must not be used afterwards.
func (s *Servo) Close() error { return s.transport.Close() }

func (s *Servo) lookup(uid string, subnode uint8) (*register.Register, error) {
	reg, ok := s.dictionary.Register(subnode, uid)
	if !ok {
		return nil, fmt.Errorf("servo: unknown register %q on subnode %d", uid, subnode)
	}
	return reg, nil
}

// Read looks up uid on subnode, performs a ReadRaw, and decodes the wire
// bytes into a typed value.
func (s *Servo) Read(ctx context.Context, uid string, subnode uint8) (any, error) {
	reg, err := s.lookup(uid, subnode)
	if err != nil {
		return nil, err
	}
	if reg.Access == register.WO {
		return nil, fmt.Errorf("%w: %s is write-only", gomcb.ErrAccessDenied, uid)
	}

	s.mu.Lock()
	data, err := s.transport.ReadRaw(ctx, reg)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("servo: read %s: %w", uid, err)
	}
	return register.Decode(reg.DType, data)
}

// Write looks up uid on subnode, range/dtype-checks value, and performs a
// WriteRaw. When completeAccess is true and the transport's CompleteAccess
// capability is available, sub-0 and sub-1 are written as one CoE
// transaction (EtherCAT only; spec's Open Question resolution).
func (s *Servo) Write(ctx context.Context, uid string, value any, subnode uint8, completeAccess bool) error {
	reg, err := s.lookup(uid, subnode)
	if err != nil {
		return err
	}
	if reg.Access == register.RO {
		return fmt.Errorf("%w: %s is read-only", gomcb.ErrAccessDenied, uid)
	}
	if !reg.InRange(value) {
		return &gomcb.ValueRangeError{Identifier: uid, Value: value, Min: reg.Range.Min, Max: reg.Range.Max}
	}

	data, err := register.Encode(reg.DType, value, reg.DType.Size())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", gomcb.ErrValue, uid, err)
	}

	s.mu.Lock()
	if completeAccess && reg.Cyclic == register.Config {
		if ca, ok := s.transport.(transport.CompleteAccess); ok {
			err = ca.WriteComplete(ctx, reg, data)
		} else {
			err = s.transport.WriteRaw(ctx, reg, data)
		}
	} else {
		err = s.transport.WriteRaw(ctx, reg, data)
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("servo: write %s: %w", uid, err)
	}

	s.notifyUpdate(reg, value)
	return nil
}

// ReadBitfield reads uid and extracts the named bitfield's value.
func (s *Servo) ReadBitfield(ctx context.Context, uid, field string, subnode uint8) (uint64, error) {
	reg, err := s.lookup(uid, subnode)
	if err != nil {
		return 0, err
	}
	bf, ok := reg.Field(field)
	if !ok {
		return 0, fmt.Errorf("%w: %s has no bitfield %q", gomcb.ErrValue, uid, field)
	}
	raw, err := s.Read(ctx, uid, subnode)
	if err != nil {
		return 0, err
	}
	iv, err := asUint64(raw)
	if err != nil {
		return 0, err
	}
	return (iv & bf.Mask()) >> uint(bf.StartBit), nil
}

// WriteBitfield read-modify-writes uid, replacing every named field in
// fields with its given value. Writing a value that overflows a field's
// width fails with a BitfieldOverflowError.
func (s *Servo) WriteBitfield(ctx context.Context, uid string, fields map[string]uint64, subnode uint8) error {
	reg, err := s.lookup(uid, subnode)
	if err != nil {
		return err
	}
	raw, err := s.Read(ctx, uid, subnode)
	if err != nil {
		return err
	}
	current, err := asUint64(raw)
	if err != nil {
		return err
	}
	for name, value := range fields {
		bf, ok := reg.Field(name)
		if !ok {
			return fmt.Errorf("%w: %s has no bitfield %q", gomcb.ErrValue, uid, name)
		}
		if value > (uint64(1)<<uint(bf.Width()))-1 {
			return &gomcb.BitfieldOverflowError{Register: uid, Field: name, Value: value, Bits: bf.Width()}
		}
		current = (current &^ bf.Mask()) | (value << uint(bf.StartBit) & bf.Mask())
	}
	return s.Write(ctx, uid, convertBack(reg.DType, current), subnode, false)
}

// RegisterUpdateSubscribe registers cb to be invoked after every
// successful Write; RegisterUpdateUnsubscribe reverses it.
func (s *Servo) RegisterUpdateSubscribe(cb UpdateCallback) Token {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	tok := s.nextToken
	s.nextToken++
	s.updateObservers[tok] = cb
	return tok
}

func (s *Servo) RegisterUpdateUnsubscribe(tok Token) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	delete(s.updateObservers, tok)
}

// StateSubscribe/StateUnsubscribe manage state-change observers, invoked
// by the status listener (listener.go).
func (s *Servo) StateSubscribe(cb StateCallback) Token {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	tok := s.nextToken
	s.nextToken++
	s.stateObservers[tok] = cb
	return tok
}

func (s *Servo) StateUnsubscribe(tok Token) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	delete(s.stateObservers, tok)
}

// EmergencySubscribe/EmergencyUnsubscribe manage emergency observers.
func (s *Servo) EmergencySubscribe(cb EmergencyCallback) Token {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	tok := s.nextToken
	s.nextToken++
	s.emergencyObservers[tok] = cb
	return tok
}

func (s *Servo) EmergencyUnsubscribe(tok Token) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	delete(s.emergencyObservers, tok)
}

func (s *Servo) notifyUpdate(reg *register.Register, value any) {
	s.observerMu.Lock()
	observers := make([]UpdateCallback, 0, len(s.updateObservers))
	for _, cb := range s.updateObservers {
		observers = append(observers, cb)
	}
	s.observerMu.Unlock()
	for _, cb := range observers {
		cb(s, reg, value)
	}
}

func (s *Servo) notifyState(subnode uint8, state State) {
	s.observerMu.Lock()
	observers := make([]StateCallback, 0, len(s.stateObservers))
	for _, cb := range s.stateObservers {
		observers = append(observers, cb)
	}
	s.observerMu.Unlock()
	for _, cb := range observers {
		cb(s, subnode, state)
	}
}

// NotifyEmergency invokes every subscribed emergency observer. Exposed so
// a transport-level emergency/EMCY listener can feed it in.
func (s *Servo) NotifyEmergency(errorCode uint32) {
	s.observerMu.Lock()
	observers := make([]EmergencyCallback, 0, len(s.emergencyObservers))
	for _, cb := range s.emergencyObservers {
		observers = append(observers, cb)
	}
	s.observerMu.Unlock()
	for _, cb := range observers {
		cb(s, errorCode)
	}
}

func asUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case int8:
		return uint64(x), nil
	case int16:
		return uint64(x), nil
	case int32:
		return uint64(x), nil
	case int64:
		return uint64(x), nil
	default:
		return 0, fmt.Errorf("%w: cannot treat %T as an integer bitfield host", gomcb.ErrValue, v)
	}
}

func convertBack(dtype register.DType, v uint64) any {
	switch dtype {
	case register.U8:
		return uint8(v)
	case register.S8:
		return int8(v)
	case register.U16:
		return uint16(v)
	case register.S16:
		return int16(v)
	case register.U32:
		return uint32(v)
	case register.S32:
		return int32(v)
	case register.U64:
		return v
	case register.S64:
		return int64(v)
	case register.Bool:
		return v != 0
	default:
		return v
	}
}
