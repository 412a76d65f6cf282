//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"chaindir/internal/directory/models"
	"chaindir/internal/directory/store"
	"chaindir/pkg/domain"
	"chaindir/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"community_members", "approvals", "linked_addresses", "identities")
	s.Require().NoError(err)
}

func mkAddr(b byte) domain.Address {
	var a domain.Address
	a[19] = b
	return a
}

func (s *PostgresStoreSuite) seedIndividual(creator domain.Address) *models.Identity {
	id := domain.NewIdentityID(creator, 1)
	ident, err := models.NewIndividual(id, creator, 1, 100)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateIdentity(context.Background(), ident))
	return ident
}

func (s *PostgresStoreSuite) seedCommunity(creator domain.Address) *models.Identity {
	id := domain.NewIdentityID(creator, 1)
	ident, err := models.NewCommunity(id, creator, 1, 100)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateIdentity(context.Background(), ident))
	return ident
}

func (s *PostgresStoreSuite) TestCreateSeedsReverseIndex() {
	ctx := context.Background()
	creator := mkAddr(0xC1)
	ident := s.seedIndividual(creator)

	owner, found, err := s.store.LookupOwner(ctx, 1, creator)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(ident.ID, owner)

	loaded, err := s.store.Identity(ctx, ident.ID)
	s.Require().NoError(err)
	s.Equal(models.KindIndividual, loaded.Kind)
	s.Equal(creator, loaded.Creator)
	s.Equal(domain.Timestamp(100), loaded.CreatedAt)
	s.Equal(1, loaded.Links.Len())
}

func (s *PostgresStoreSuite) TestDuplicateIdentityRejected() {
	ctx := context.Background()
	creator := mkAddr(0xC1)
	ident := s.seedIndividual(creator)

	dup, err := models.NewIndividual(ident.ID, mkAddr(0xC2), 2, 200)
	s.Require().NoError(err)
	err = s.store.CreateIdentity(ctx, dup)
	s.ErrorIs(err, store.ErrIdentityExists)
}

func (s *PostgresStoreSuite) TestLinkConflictAcrossIdentities() {
	ctx := context.Background()
	first := s.seedIndividual(mkAddr(0xC1))
	second := s.seedIndividual(mkAddr(0xC2))

	link := models.LinkedAddress{DomainID: 7, Address: mkAddr(0xA1)}
	s.Require().NoError(s.store.LinkAddress(ctx, first.ID, link, 101))

	err := s.store.LinkAddress(ctx, second.ID, link, 102)
	s.ErrorIs(err, store.ErrAddressOwned)
}

func (s *PostgresStoreSuite) TestUnlinkCreatorRejected() {
	ctx := context.Background()
	creator := mkAddr(0xC1)
	ident := s.seedIndividual(creator)

	err := s.store.UnlinkAddress(ctx, ident.ID, models.LinkedAddress{DomainID: 1, Address: creator}, 101)
	s.ErrorIs(err, store.ErrCreatorLink)

	// Only the seeded home pair is permanent; the creator's address linked
	// on another domain unlinks normally.
	foreign := models.LinkedAddress{DomainID: 7, Address: creator}
	s.Require().NoError(s.store.LinkAddress(ctx, ident.ID, foreign, 102))
	s.Require().NoError(s.store.UnlinkAddress(ctx, ident.ID, foreign, 103))
}

func (s *PostgresStoreSuite) TestUnlinkSwapRemovePreservesCompactness() {
	ctx := context.Background()
	creator := mkAddr(0xC1)
	ident := s.seedIndividual(creator)

	a1 := models.LinkedAddress{DomainID: 7, Address: mkAddr(0xA1)}
	a2 := models.LinkedAddress{DomainID: 7, Address: mkAddr(0xA2)}
	a3 := models.LinkedAddress{DomainID: 7, Address: mkAddr(0xA3)}
	s.Require().NoError(s.store.LinkAddress(ctx, ident.ID, a1, 101))
	s.Require().NoError(s.store.LinkAddress(ctx, ident.ID, a2, 102))
	s.Require().NoError(s.store.LinkAddress(ctx, ident.ID, a3, 103))

	s.Require().NoError(s.store.UnlinkAddress(ctx, ident.ID, a1, 104))

	// The last link moves into the freed slot.
	links, err := s.store.Addresses(ctx, ident.ID)
	s.Require().NoError(err)
	s.Equal([]models.LinkedAddress{
		{DomainID: 1, Address: creator},
		a3,
		a2,
	}, links)

	// The freed pair can be claimed again.
	other := s.seedIndividual(mkAddr(0xC2))
	s.Require().NoError(s.store.LinkAddress(ctx, other.ID, a1, 105))

	owner, found, err := s.store.LookupOwner(ctx, 7, a1.Address)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(other.ID, owner)
}

func (s *PostgresStoreSuite) TestUnlinkAbsentLink() {
	ctx := context.Background()
	ident := s.seedIndividual(mkAddr(0xC1))

	err := s.store.UnlinkAddress(ctx, ident.ID, models.LinkedAddress{DomainID: 9, Address: mkAddr(0xA9)}, 101)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestApprovals() {
	ctx := context.Background()
	creator := mkAddr(0xC1)
	target := mkAddr(0xA1)
	ident := s.seedIndividual(creator)

	// The creator is implicitly approved.
	approved, err := s.store.IsApproved(ctx, ident.ID, creator)
	s.Require().NoError(err)
	s.True(approved)

	approved, err = s.store.IsApproved(ctx, ident.ID, target)
	s.Require().NoError(err)
	s.False(approved)

	s.Require().NoError(s.store.Approve(ctx, ident.ID, target))
	s.Require().NoError(s.store.Approve(ctx, ident.ID, target)) // idempotent

	approved, err = s.store.IsApproved(ctx, ident.ID, target)
	s.Require().NoError(err)
	s.True(approved)

	s.Require().NoError(s.store.Revoke(ctx, ident.ID, target))
	approved, err = s.store.IsApproved(ctx, ident.ID, target)
	s.Require().NoError(err)
	s.False(approved)
}

func (s *PostgresStoreSuite) TestCommunityMembers() {
	ctx := context.Background()
	community := s.seedCommunity(mkAddr(0xC1))
	member := s.seedIndividual(mkAddr(0xC2))

	s.Require().NoError(s.store.AddMember(ctx, community.ID, member.ID, 101))

	members, err := s.store.Members(ctx, community.ID)
	s.Require().NoError(err)
	s.Equal([]domain.IdentityID{member.ID}, members)

	// Membership requires the member identity to exist.
	missing := domain.NewIdentityID(mkAddr(0xC9), 9)
	err = s.store.AddMember(ctx, community.ID, missing, 102)
	s.ErrorIs(err, store.ErrNotFound)

	// Members of an individual is a kind violation.
	_, err = s.store.Members(ctx, member.ID)
	s.ErrorIs(err, store.ErrNotCommunity)

	s.Require().NoError(s.store.RemoveMember(ctx, community.ID, member.ID, 103))
	members, err = s.store.Members(ctx, community.ID)
	s.Require().NoError(err)
	s.Empty(members)
}
