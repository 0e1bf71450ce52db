package network

import (
	"context"
	"testing"

	"github.com/ingenialink/gomcb/pkg/dictionary"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/servo"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	closed bool
}

func (f *fakeTransport) ReadRaw(ctx context.Context, reg *register.Register) ([]byte, error) {
	return make([]byte, reg.DType.Size()), nil
}

func (f *fakeTransport) WriteRaw(ctx context.Context, reg *register.Register, data []byte) error {
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func testDictionary() *dictionary.Dictionary {
	return &dictionary.Dictionary{
		Subnodes: map[uint8]dictionary.SubnodeKind{0: dictionary.Communication, 1: dictionary.Motion},
		Registers: map[uint8]map[string]*register.Register{
			0: {"DRV_APP_NAME": {Identifier: "DRV_APP_NAME", DType: register.U16, Access: register.RW, Subnode: 0, Address: register.IPAddress{Addr: 0x1}}},
			1: {"DRV_STATE_STATUS": {Identifier: "DRV_STATE_STATUS", DType: register.U16, Access: register.RO, Subnode: 1, Address: register.IPAddress{Addr: 0x30}}},
		},
	}
}

func TestAddServoRejectsConflictAndRange(t *testing.T) {
	n := New()
	s := servo.New(&fakeTransport{}, testDictionary())

	require.NoError(t, n.AddServo(10, s))
	require.ErrorIs(t, n.AddServo(10, s), ErrIDConflict)
	require.ErrorIs(t, n.AddServo(0, s), ErrIDRange)
	require.ErrorIs(t, n.AddServo(200, s), ErrIDRange)
}

func TestServoLookupAndRemove(t *testing.T) {
	n := New()
	s := servo.New(&fakeTransport{}, testDictionary())
	require.NoError(t, n.AddServo(5, s))

	got, err := n.Servo(5)
	require.NoError(t, err)
	require.Same(t, s, got)

	require.NoError(t, n.RemoveServo(5))
	_, err = n.Servo(5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCloseReleasesEveryServoTransport(t *testing.T) {
	n := New()
	ft1, ft2 := &fakeTransport{}, &fakeTransport{}
	require.NoError(t, n.AddServo(1, servo.New(ft1, testDictionary())))
	require.NoError(t, n.AddServo(2, servo.New(ft2, testDictionary())))

	require.NoError(t, n.Close())
	require.True(t, ft1.closed)
	require.True(t, ft2.closed)
}

func TestStartStopWithoutPDOEngine(t *testing.T) {
	n := New()
	require.NoError(t, n.AddServo(1, servo.New(&fakeTransport{}, testDictionary())))

	require.NoError(t, n.Start(context.Background()))
	n.Stop()
}
