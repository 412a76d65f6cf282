package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaindir/internal/replication/wire"
	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

func TestApplyRemoteLinkMaterializesUnknownIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulates the seed-link record broadcast by a remote creation.
	remoteID := domain.NewIdentityID(f.creator, 2)
	err := f.svc.ApplyRemoteLink(ctx, f.creator, wire.LinkParams{
		ID:        remoteID,
		DomainID:  2,
		Address:   f.creator,
		Timestamp: 50,
	})
	require.NoError(t, err)

	owner, found, err := f.svc.LookupOwner(ctx, 2, f.creator)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, remoteID, owner)

	creator, err := f.svc.CreatorOf(ctx, remoteID)
	require.NoError(t, err)
	assert.Equal(t, f.creator, creator)
}

func TestApplyRemoteLinkRequiresLocalPreApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	remoteID := domain.NewIdentityID(f.creator, 2)
	require.NoError(t, f.svc.ApplyRemoteLink(ctx, f.creator, wire.LinkParams{
		ID: remoteID, DomainID: 2, Address: f.creator, Timestamp: 50,
	}))

	// The named address carries no local approval, so the link is refused
	// even though the caller is the creator.
	err := f.svc.ApplyRemoteLink(ctx, f.creator, wire.LinkParams{
		ID: remoteID, DomainID: 7, Address: f.other, Timestamp: 51,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// Approval state replicated earlier unlocks it.
	require.NoError(t, f.svc.ApplyRemoteApprove(ctx, f.creator, wire.ApprovalParams{
		ID: remoteID, Address: f.other, Timestamp: 52,
	}))
	require.NoError(t, f.svc.ApplyRemoteLink(ctx, f.creator, wire.LinkParams{
		ID: remoteID, DomainID: 7, Address: f.other, Timestamp: 53,
	}))
}

func TestApplyRemoteLinkRejectsUnapprovedCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)

	err = f.svc.ApplyRemoteLink(ctx, f.other, wire.LinkParams{
		ID: id, DomainID: 7, Address: f.other, Timestamp: 500,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestApplyRemoteUnlinkRequiresExistingIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := domain.NewIdentityID(f.creator, 2)
	err := f.svc.ApplyRemoteUnlink(ctx, f.creator, wire.LinkParams{
		ID: missing, DomainID: 2, Address: f.creator, Timestamp: 50,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestApplyRemoteRevokePreservesCreatorAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateIndividual(ctx, f.creator)
	require.NoError(t, err)

	err = f.svc.ApplyRemoteRevoke(ctx, f.creator, wire.ApprovalParams{
		ID: id, Address: f.creator, Timestamp: 500,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestRemoteMutationsAreNotRebroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	remoteID := domain.NewIdentityID(f.creator, 2)
	require.NoError(t, f.svc.ApplyRemoteLink(ctx, f.creator, wire.LinkParams{
		ID: remoteID, DomainID: 2, Address: f.creator, Timestamp: 50,
	}))
	require.NoError(t, f.svc.ApplyRemoteApprove(ctx, f.creator, wire.ApprovalParams{
		ID: remoteID, Address: f.other, Timestamp: 51,
	}))

	assert.Empty(t, f.replicator.updates)
	assert.Empty(t, f.replicator.approvals)
}
