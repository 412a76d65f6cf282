package models

import (
	"chaindir/pkg/compactset"
	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

// Kind distinguishes individual identities from communities.
type Kind string

const (
	KindIndividual Kind = "individual"
	KindCommunity  Kind = "community"
)

// LinkedAddress is one (domain, address) pair bound to an identity. A pair
// belongs to at most one identity at any time.
type LinkedAddress struct {
	DomainID domain.DomainID
	Address  domain.Address
}

// Key returns the reverse-index key for the pair.
func (l LinkedAddress) Key() domain.AddressKey {
	return domain.DeriveAddressKey(l.DomainID, l.Address)
}

// Identity is one directory entry. The id and creator are immutable after
// creation; the creator keeps mutation authority for the identity's whole
// lifetime. Identities are never deleted: an empty address set is a valid
// state, not removal.
type Identity struct {
	ID          domain.IdentityID
	Kind        Kind
	Creator     domain.Address
	CreatedAt   domain.Timestamp
	LastUpdated domain.Timestamp

	// Home is the domain the identity was created on. Only the seeded
	// (Home, Creator) pair is permanent; the creator's address on other
	// domains links and unlinks like any other. Zero on replicas, which
	// never learn the origin's home domain.
	Home domain.DomainID

	// Links holds the ordered linked-address sequence; slot 0 is seeded with
	// the creator's own address on the home domain.
	Links *compactset.Set[domain.AddressKey, LinkedAddress]

	// Approvals is the set of addresses allowed to mutate this identity.
	// The creator is implicitly authorized and never appears here.
	Approvals map[domain.Address]struct{}

	// Members is the community member set; nil for individuals.
	Members *compactset.Set[domain.IdentityID, domain.IdentityID]
}

// NewLinkSet builds an empty linked-address set.
func NewLinkSet() *compactset.Set[domain.AddressKey, LinkedAddress] {
	return compactset.New(func(l LinkedAddress) domain.AddressKey { return l.Key() })
}

// NewMemberSet builds an empty community member set.
func NewMemberSet() *compactset.Set[domain.IdentityID, domain.IdentityID] {
	return compactset.New(func(id domain.IdentityID) domain.IdentityID { return id })
}

func newIdentity(id domain.IdentityID, kind Kind, creator domain.Address, home domain.DomainID, now domain.Timestamp) (*Identity, error) {
	if id.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "identity id is required")
	}
	if creator.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "creator address is required")
	}
	ident := &Identity{
		ID:          id,
		Kind:        kind,
		Creator:     creator,
		CreatedAt:   now,
		LastUpdated: now,
		Home:        home,
		Links:       NewLinkSet(),
		Approvals:   make(map[domain.Address]struct{}),
	}
	ident.Links.Add(LinkedAddress{DomainID: home, Address: creator})
	return ident, nil
}

// NewIndividual builds an individual identity, seeding link slot 0 with the
// creator's own address on the home domain.
func NewIndividual(id domain.IdentityID, creator domain.Address, home domain.DomainID, now domain.Timestamp) (*Identity, error) {
	return newIdentity(id, KindIndividual, creator, home, now)
}

// NewReplica builds the local record for an identity first seen through a
// replicated update. No link is seeded: the origin's seed link arrives as
// its own update record, and a replica never invents links.
func NewReplica(id domain.IdentityID, creator domain.Address, now domain.Timestamp) (*Identity, error) {
	if id.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "identity id is required")
	}
	if creator.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "creator address is required")
	}
	return &Identity{
		ID:          id,
		Kind:        KindIndividual,
		Creator:     creator,
		CreatedAt:   now,
		LastUpdated: now,
		Links:       NewLinkSet(),
		Approvals:   make(map[domain.Address]struct{}),
	}, nil
}

// NewCommunity builds a community identity with an empty member set.
func NewCommunity(id domain.IdentityID, creator domain.Address, home domain.DomainID, now domain.Timestamp) (*Identity, error) {
	ident, err := newIdentity(id, KindCommunity, creator, home, now)
	if err != nil {
		return nil, err
	}
	ident.Members = NewMemberSet()
	return ident, nil
}

// IsCommunity reports whether the identity carries a member set.
func (i *Identity) IsCommunity() bool {
	return i.Kind == KindCommunity
}

// IsAuthorized reports whether caller may mutate this identity: the creator
// always may, everyone else needs an approval.
func (i *Identity) IsAuthorized(caller domain.Address) bool {
	if caller == i.Creator {
		return true
	}
	_, ok := i.Approvals[caller]
	return ok
}
