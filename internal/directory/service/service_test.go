package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaindir/internal/directory/store"
	"chaindir/internal/replication/wire"
	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

type recordingReplicator struct {
	updates   []wire.UpdateRecord
	approvals []wire.ApprovalRecord
}

func (r *recordingReplicator) BroadcastUpdate(_ context.Context, rec wire.UpdateRecord) {
	r.updates = append(r.updates, rec)
}

func (r *recordingReplicator) BroadcastApproval(_ context.Context, rec wire.ApprovalRecord) {
	r.approvals = append(r.approvals, rec)
}

func addr(t *testing.T, hexAddr string) domain.Address {
	t.Helper()
	a, err := domain.ParseAddress(hexAddr)
	require.NoError(t, err)
	return a
}

type fixture struct {
	svc        *Service
	replicator *recordingReplicator
	clock      *domain.Timestamp

	creator domain.Address
	other   domain.Address
	third   domain.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := domain.Timestamp(100)
	rep := &recordingReplicator{}
	f := &fixture{
		replicator: rep,
		clock:      &clock,
		creator:    addr(t, "0x00000000000000000000000000000000000000c1"),
		other:      addr(t, "0x00000000000000000000000000000000000000c2"),
		third:      addr(t, "0x00000000000000000000000000000000000000c3"),
	}
	f.svc = New(1, store.NewInMemory(),
		WithReplicator(rep),
		WithClock(func() domain.Timestamp { clock++; return clock }),
	)
	return f
}

func TestCreateIndividualBroadcastsSeedLink(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.CreateIndividual(context.Background(), f.creator)
	require.NoError(t, err)

	require.Len(t, f.replicator.updates, 1)
	rec := f.replicator.updates[0]
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, domain.DomainID(1), rec.DomainID)
	assert.Equal(t, f.creator, rec.Address)
	assert.Equal(t, f.creator, rec.Creator)
	assert.True(t, rec.Added)
	assert.Equal(t, domain.Timestamp(101), rec.Timestamp)

	// The seed link resolves locally.
	owner, found, err := f.svc.LookupOwner(context.Background(), 1, f.creator)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, owner)
}

func TestLinkAddressAuthorizationMatrix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)

	// Unapproved caller is rejected before any state changes.
	err = f.svc.LinkAddress(ctx, f.other, id, 7, f.third)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	require.Len(t, f.replicator.updates, 1)

	// The creator can always link.
	require.NoError(t, f.svc.LinkAddress(ctx, f.creator, id, 7, f.third))

	// An approved caller can link too.
	require.NoError(t, f.svc.Approve(ctx, f.creator, id, f.other))
	require.NoError(t, f.svc.LinkAddress(ctx, f.other, id, 8, f.other))

	addrs, err := f.svc.Addresses(ctx, id)
	require.NoError(t, err)
	assert.Len(t, addrs, 3)
}

func TestLinkBroadcastCarriesCreator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)
	require.NoError(t, f.svc.Approve(ctx, f.creator, id, f.other))
	require.NoError(t, f.svc.Approve(ctx, f.creator, id, f.third))
	require.NoError(t, f.svc.LinkAddress(ctx, f.other, id, 7, f.third))

	rec := f.replicator.updates[len(f.replicator.updates)-1]
	assert.Equal(t, f.creator, rec.Creator)
	assert.Equal(t, f.third, rec.Address)
}

func TestUnlinkCreatorLinkIsPermanent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)

	err = f.svc.UnlinkAddress(ctx, f.creator, id, 1, f.creator)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestUnlinkFreesPairForRelinking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)
	require.NoError(t, f.svc.LinkAddress(ctx, f.creator, id, 7, f.third))

	// A second identity cannot claim the owned pair.
	id2, err := f.svc.CreateIndividual(ctx, f.other)
	require.NoError(t, err)
	err = f.svc.LinkAddress(ctx, f.other, id2, 7, f.third)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	// After unlinking it can.
	require.NoError(t, f.svc.UnlinkAddress(ctx, f.creator, id, 7, f.third))
	require.NoError(t, f.svc.LinkAddress(ctx, f.other, id2, 7, f.third))

	owner, found, err := f.svc.LookupOwner(ctx, 7, f.third)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id2, owner)
}

func TestDuplicateCreateRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)

	// A fresh uuid gives a distinct id, so a second create succeeds, but
	// its seed link collides with the first identity's creator link.
	_, err = f.svc.CreateIndividual(ctx, f.creator)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestApproveRevokeBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)

	require.NoError(t, f.svc.Approve(ctx, f.creator, id, f.other))
	require.Len(t, f.replicator.approvals, 1)
	assert.True(t, f.replicator.approvals[0].Approved)
	assert.Equal(t, f.other, f.replicator.approvals[0].Address)

	require.NoError(t, f.svc.Revoke(ctx, f.creator, id, f.other))
	require.Len(t, f.replicator.approvals, 2)
	assert.False(t, f.replicator.approvals[1].Approved)
}

func TestRevokeCreatorRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)

	err = f.svc.Revoke(ctx, f.creator, id, f.creator)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	// Even an approved caller cannot revoke the creator.
	require.NoError(t, f.svc.Approve(ctx, f.creator, id, f.other))
	err = f.svc.Revoke(ctx, f.other, id, f.creator)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestMembershipIsLocalOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	communityID, err := f.svc.CreateCommunity(ctx, f.creator)
	require.NoError(t, err)
	memberID, err := f.svc.CreateIndividual(ctx, f.other)
	require.NoError(t, err)

	broadcastsBefore := len(f.replicator.updates)
	require.NoError(t, f.svc.AddMember(ctx, f.creator, communityID, memberID))
	require.NoError(t, f.svc.RemoveMember(ctx, f.creator, communityID, memberID))
	assert.Len(t, f.replicator.updates, broadcastsBefore)
}

func TestAddMemberRequiresExistingMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	communityID, err := f.svc.CreateCommunity(ctx, f.creator)
	require.NoError(t, err)

	missing := domain.NewIdentityID(f.third, 9)
	err = f.svc.AddMember(ctx, f.creator, communityID, missing)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestDelegatedCallsDisabledWithoutVerifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)

	err = f.svc.LinkAddressDelegated(ctx, f.creator, "token", id, 7, f.third)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestTimestampsStrictlyIncreaseUnderCoarseClock(t *testing.T) {
	// A millisecond clock can read the same instant for back-to-back
	// mutations. Peers reject records that do not advance the per-identity
	// timestamp, so issuance must break such ties itself.
	rep := &recordingReplicator{}
	svc := New(1, store.NewInMemory(),
		WithReplicator(rep),
		WithClock(func() domain.Timestamp { return 500 }),
	)
	ctx := context.Background()
	creator := addr(t, "0x00000000000000000000000000000000000000c1")
	other := addr(t, "0x00000000000000000000000000000000000000c2")

	id, err := svc.CreateIndividual(ctx, creator)
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, creator, id, other))
	require.NoError(t, svc.LinkAddress(ctx, creator, id, 2, other))

	require.Len(t, rep.updates, 2)
	require.Len(t, rep.approvals, 1)
	assert.Equal(t, domain.Timestamp(500), rep.updates[0].Timestamp)
	assert.Equal(t, domain.Timestamp(501), rep.approvals[0].Timestamp)
	assert.Equal(t, domain.Timestamp(502), rep.updates[1].Timestamp)
}
