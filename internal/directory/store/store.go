package store

import (
	"context"
	"fmt"

	"chaindir/internal/directory/models"
	"chaindir/pkg/domain"
	"chaindir/pkg/platform/sentinel"
)

// Named store errors. Implementations return these (optionally wrapped) so
// the service layer can translate them into coded domain errors without
// knowing which backend is in play.
var (
	ErrNotFound       = sentinel.ErrNotFound
	ErrIdentityExists = fmt.Errorf("identity id already live: %w", sentinel.ErrConflict)
	ErrAddressOwned   = fmt.Errorf("address pair already owned: %w", sentinel.ErrConflict)
	ErrCreatorLink    = fmt.Errorf("creator link is permanent: %w", sentinel.ErrInvalidState)
	ErrNotCommunity   = fmt.Errorf("identity is not a community: %w", sentinel.ErrInvalidState)
)

// Store is the authoritative per-domain directory state: identities, their
// compact linked-address sequences, community member sets, approval sets,
// and the global reverse index from address key to owning identity.
//
// Mutations are atomic per call: on error, no partial write is observable.
type Store interface {
	// CreateIdentity inserts a freshly constructed identity, including its
	// seeded creator link. Fails with ErrIdentityExists on id collision and
	// ErrAddressOwned if the seed pair is already owned.
	CreateIdentity(ctx context.Context, ident *models.Identity) error

	// Identity returns a snapshot of one identity. Mutating the snapshot
	// does not touch store state.
	Identity(ctx context.Context, id domain.IdentityID) (*models.Identity, error)

	// LinkAddress appends one pair to the identity's sequence and indexes
	// it. Fails with ErrNotFound if the identity is absent and
	// ErrAddressOwned if the pair is owned anywhere.
	LinkAddress(ctx context.Context, id domain.IdentityID, link models.LinkedAddress, ts domain.Timestamp) error

	// UnlinkAddress swap-removes one pair. Fails with ErrNotFound if the
	// identity or the link is absent, ErrCreatorLink if the pair carries the
	// creator's own address.
	UnlinkAddress(ctx context.Context, id domain.IdentityID, link models.LinkedAddress, ts domain.Timestamp) error

	// AddMember / RemoveMember maintain a community's member set with the
	// same compact-set semantics, keyed by member identity id.
	AddMember(ctx context.Context, communityID, memberID domain.IdentityID, ts domain.Timestamp) error
	RemoveMember(ctx context.Context, communityID, memberID domain.IdentityID, ts domain.Timestamp) error

	// Approve adds target to the identity's approval set; idempotent.
	Approve(ctx context.Context, id domain.IdentityID, target domain.Address) error

	// Revoke removes target from the approval set; removing an absent
	// target is a no-op. The creator-permanence check lives in the service,
	// which knows the caller.
	Revoke(ctx context.Context, id domain.IdentityID, target domain.Address) error

	// IsApproved reports approval-set membership. The creator is implicitly
	// approved.
	IsApproved(ctx context.Context, id domain.IdentityID, addr domain.Address) (bool, error)

	// LookupOwner resolves the owning identity for a pair via the global
	// reverse index. Pure read: a miss is (zero, false, nil), never an error.
	LookupOwner(ctx context.Context, dom domain.DomainID, addr domain.Address) (domain.IdentityID, bool, error)

	// Addresses returns the identity's linked addresses in storage order.
	Addresses(ctx context.Context, id domain.IdentityID) ([]models.LinkedAddress, error)

	// Creator returns the identity's creator address.
	Creator(ctx context.Context, id domain.IdentityID) (domain.Address, error)

	// Members returns a community's member ids in storage order.
	Members(ctx context.Context, communityID domain.IdentityID) ([]domain.IdentityID, error)
}
