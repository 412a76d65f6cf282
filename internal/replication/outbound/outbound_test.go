package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaindir/internal/replication/wire"
	"chaindir/pkg/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     map[domain.DomainID][][]byte
	failDest map[domain.DomainID]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:     make(map[domain.DomainID][][]byte),
		failDest: make(map[domain.DomainID]error),
	}
}

func (t *fakeTransport) Send(_ context.Context, dest domain.DomainID, _ domain.Address, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.failDest[dest]; ok {
		return err
	}
	t.sent[dest] = append(t.sent[dest], payload)
	return nil
}

func (t *fakeTransport) received(dest domain.DomainID) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent[dest]
}

func testAddress(t *testing.T, hexAddr string) domain.Address {
	t.Helper()
	addr, err := domain.ParseAddress(hexAddr)
	require.NoError(t, err)
	return addr
}

func TestReplicatorBroadcastUpdate(t *testing.T) {
	sender := testAddress(t, "0x00000000000000000000000000000000000000aa")
	creator := testAddress(t, "0x00000000000000000000000000000000000000bb")
	transport := newFakeTransport()
	r := NewReplicator(1, sender, transport)
	r.AddTarget(Target{DomainID: 2})
	r.AddTarget(Target{DomainID: 3})

	id := domain.NewIdentityID(creator, 1)
	rec := wire.UpdateRecord{
		ID:        id,
		DomainID:  5,
		Address:   creator,
		Added:     true,
		Creator:   creator,
		Timestamp: 42,
	}
	r.BroadcastUpdate(context.Background(), rec)

	for _, dest := range []domain.DomainID{2, 3} {
		payloads := transport.received(dest)
		require.Len(t, payloads, 1, "destination %d", dest)

		env, err := wire.DecodeEnvelope(payloads[0])
		require.NoError(t, err)
		assert.Equal(t, domain.DomainID(1), env.Source)
		assert.Equal(t, sender, env.Sender)

		routed, err := wire.DecodeRoutedMessage(env.Payload)
		require.NoError(t, err)
		assert.Equal(t, wire.FnLinkAddress, routed.Fn)
		assert.Equal(t, creator, routed.Caller)

		params, err := wire.DecodeLinkParams(routed.Params)
		require.NoError(t, err)
		assert.Equal(t, id, params.ID)
		assert.Equal(t, domain.DomainID(5), params.DomainID)
		assert.Equal(t, domain.Timestamp(42), params.Timestamp)
	}
}

func TestReplicatorBroadcastApproval(t *testing.T) {
	sender := testAddress(t, "0x00000000000000000000000000000000000000aa")
	caller := testAddress(t, "0x00000000000000000000000000000000000000bb")
	target := testAddress(t, "0x00000000000000000000000000000000000000cc")
	transport := newFakeTransport()
	r := NewReplicator(1, sender, transport)
	r.AddTarget(Target{DomainID: 2})

	rec := wire.ApprovalRecord{
		ID:        domain.NewIdentityID(caller, 1),
		Address:   target,
		Approved:  false,
		Caller:    caller,
		Timestamp: 7,
	}
	r.BroadcastApproval(context.Background(), rec)

	payloads := transport.received(2)
	require.Len(t, payloads, 1)

	env, err := wire.DecodeEnvelope(payloads[0])
	require.NoError(t, err)
	routed, err := wire.DecodeRoutedMessage(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, wire.FnRevokeAddress, routed.Fn)

	params, err := wire.DecodeApprovalParams(routed.Params)
	require.NoError(t, err)
	assert.Equal(t, target, params.Address)
}

func TestReplicatorFailingTargetDoesNotBlockOthers(t *testing.T) {
	sender := testAddress(t, "0x00000000000000000000000000000000000000aa")
	creator := testAddress(t, "0x00000000000000000000000000000000000000bb")
	transport := newFakeTransport()
	transport.failDest[2] = errors.New("broker unreachable")

	r := NewReplicator(1, sender, transport)
	r.AddTarget(Target{DomainID: 2})
	r.AddTarget(Target{DomainID: 3})
	r.AddTarget(Target{DomainID: 4})

	rec := wire.UpdateRecord{
		ID:        domain.NewIdentityID(creator, 1),
		DomainID:  1,
		Address:   creator,
		Added:     true,
		Creator:   creator,
		Timestamp: 1,
	}
	r.BroadcastUpdate(context.Background(), rec)

	assert.Empty(t, transport.received(2))
	assert.Len(t, transport.received(3), 1)
	assert.Len(t, transport.received(4), 1)
}

func TestReplicatorTargetManagement(t *testing.T) {
	sender := testAddress(t, "0x00000000000000000000000000000000000000aa")
	recvA := testAddress(t, "0x00000000000000000000000000000000000000a1")
	recvB := testAddress(t, "0x00000000000000000000000000000000000000b2")
	r := NewReplicator(1, sender, newFakeTransport())

	r.AddTarget(Target{DomainID: 2, Receiver: recvA})
	r.AddTarget(Target{DomainID: 3, Receiver: recvA})
	require.Len(t, r.Targets(), 2)

	// Re-adding a domain replaces its receiver.
	r.AddTarget(Target{DomainID: 2, Receiver: recvB})
	targets := r.Targets()
	require.Len(t, targets, 2)
	for _, tgt := range targets {
		if tgt.DomainID == 2 {
			assert.Equal(t, recvB, tgt.Receiver)
		}
	}

	assert.True(t, r.RemoveTarget(3))
	assert.False(t, r.RemoveTarget(3))
	require.Len(t, r.Targets(), 1)
}
