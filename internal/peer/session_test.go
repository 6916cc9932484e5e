package peer

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/Rozu/Pennies/internal/netaddr"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	addr := netaddr.Endpoint{NetAddress: netaddr.New(net.ParseIP("1.2.3.4"), 0), Port: 8333}
	return New(c1, addr, "1.2.3.4:8333", false, false, nil, nil)
}

func TestRefCountNeverNegativeInvariantHolds(t *testing.T) {
	s := newTestSession(t)
	s.AddRef()
	s.AddRef()
	require.EqualValues(t, 2, s.RefCount())
	s.ReleaseRef()
	require.EqualValues(t, 1, s.RefCount())
	require.False(t, s.CanDestroy(time.Now()))
	s.ReleaseRef()
	require.EqualValues(t, 0, s.RefCount())
}

func TestCanDestroyRequiresReleaseDelayElapsed(t *testing.T) {
	s := newTestSession(t)
	s.RequestDisconnect()
	require.False(t, s.CanDestroy(time.Now()), "must wait out MinReleaseDelay")
	require.True(t, s.CanDestroy(time.Now().Add(MinReleaseDelay+time.Second)))
}

func TestMisbehaviorIsMonotone(t *testing.T) {
	s := newTestSession(t)
	a := s.AddMisbehavior(10)
	b := s.AddMisbehavior(5)
	require.Equal(t, int64(10), a)
	require.Equal(t, int64(15), b)
	require.Equal(t, int64(15), s.Misbehavior())
}

func TestResetStateMachineTransitions(t *testing.T) {
	s := newTestSession(t)
	require.Equal(t, StateIdle, s.ResetState())

	s.RequestReset()
	require.Equal(t, StateWaitingForDisconnect, s.ResetState())
	require.False(t, s.DisconnectRequested(), "reset must not set the normal disconnect flag")

	s.ClearForReset()
	require.Equal(t, StateWaitingForConnected, s.ResetState())

	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	s.ReconnectedAfterReset(c2)
	require.Equal(t, StateIdle, s.ResetState())
}

func TestSendQueueIsFIFO(t *testing.T) {
	s := newTestSession(t)
	require.Equal(t, 0, s.SendQueueLen())

	first, second := wire.NewMsgVerAck(), wire.NewMsgGetAddr()
	s.QueueSend(first)
	s.QueueSend(second)
	got, ok := s.PopSend()
	require.True(t, ok)
	require.Same(t, first, got)
	got, ok = s.PopSend()
	require.True(t, ok)
	require.Same(t, second, got)
}
