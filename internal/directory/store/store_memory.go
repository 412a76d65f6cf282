package store

import (
	"context"
	"sync"

	"chaindir/internal/directory/models"
	"chaindir/pkg/domain"
)

// InMemory is the map-backed Store. It is the default backend and the
// reference implementation the Postgres store mirrors.
type InMemory struct {
	mu         sync.RWMutex
	identities map[domain.IdentityID]*models.Identity
	// owners is the global reverse index: address key -> owning identity.
	owners map[domain.AddressKey]domain.IdentityID
}

// NewInMemory builds an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		identities: make(map[domain.IdentityID]*models.Identity),
		owners:     make(map[domain.AddressKey]domain.IdentityID),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) CreateIdentity(_ context.Context, ident *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[ident.ID]; ok {
		return ErrIdentityExists
	}
	for _, link := range ident.Links.Values() {
		if _, owned := s.owners[link.Key()]; owned {
			return ErrAddressOwned
		}
	}

	stored := cloneIdentity(ident)
	s.identities[stored.ID] = stored
	for _, link := range stored.Links.Values() {
		s.owners[link.Key()] = stored.ID
	}
	return nil
}

func (s *InMemory) Identity(_ context.Context, id domain.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIdentity(ident), nil
}

func (s *InMemory) LinkAddress(_ context.Context, id domain.IdentityID, link models.LinkedAddress, ts domain.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	if _, owned := s.owners[link.Key()]; owned {
		return ErrAddressOwned
	}
	ident.Links.Add(link)
	s.owners[link.Key()] = id
	ident.LastUpdated = ts
	return nil
}

func (s *InMemory) UnlinkAddress(_ context.Context, id domain.IdentityID, link models.LinkedAddress, ts domain.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	if link.Address == ident.Creator && link.DomainID == ident.Home {
		return ErrCreatorLink
	}
	if _, removed := ident.Links.Remove(link.Key()); !removed {
		return ErrNotFound
	}
	delete(s.owners, link.Key())
	ident.LastUpdated = ts
	return nil
}

func (s *InMemory) AddMember(_ context.Context, communityID, memberID domain.IdentityID, ts domain.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	community, err := s.community(communityID)
	if err != nil {
		return err
	}
	if _, ok := s.identities[memberID]; !ok {
		return ErrNotFound
	}
	community.Members.Add(memberID)
	community.LastUpdated = ts
	return nil
}

func (s *InMemory) RemoveMember(_ context.Context, communityID, memberID domain.IdentityID, ts domain.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	community, err := s.community(communityID)
	if err != nil {
		return err
	}
	if _, removed := community.Members.Remove(memberID); !removed {
		return ErrNotFound
	}
	community.LastUpdated = ts
	return nil
}

func (s *InMemory) Approve(_ context.Context, id domain.IdentityID, target domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	ident.Approvals[target] = struct{}{}
	return nil
}

func (s *InMemory) Revoke(_ context.Context, id domain.IdentityID, target domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	delete(ident.Approvals, target)
	return nil
}

func (s *InMemory) IsApproved(_ context.Context, id domain.IdentityID, addr domain.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[id]
	if !ok {
		return false, ErrNotFound
	}
	return ident.IsAuthorized(addr), nil
}

func (s *InMemory) LookupOwner(_ context.Context, dom domain.DomainID, addr domain.Address) (domain.IdentityID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.owners[domain.DeriveAddressKey(dom, addr)]
	return id, ok, nil
}

func (s *InMemory) Addresses(_ context.Context, id domain.IdentityID) ([]models.LinkedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ident.Links.Values(), nil
}

func (s *InMemory) Creator(_ context.Context, id domain.IdentityID) (domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[id]
	if !ok {
		return domain.Address{}, ErrNotFound
	}
	return ident.Creator, nil
}

func (s *InMemory) Members(_ context.Context, communityID domain.IdentityID) ([]domain.IdentityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	community, ok := s.identities[communityID]
	if !ok {
		return nil, ErrNotFound
	}
	if !community.IsCommunity() {
		return nil, ErrNotCommunity
	}
	return community.Members.Values(), nil
}

func (s *InMemory) community(id domain.IdentityID) (*models.Identity, error) {
	ident, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !ident.IsCommunity() {
		return nil, ErrNotCommunity
	}
	return ident, nil
}

func cloneIdentity(src *models.Identity) *models.Identity {
	dst := &models.Identity{
		ID:          src.ID,
		Kind:        src.Kind,
		Creator:     src.Creator,
		CreatedAt:   src.CreatedAt,
		LastUpdated: src.LastUpdated,
		Home:        src.Home,
		Links:       models.NewLinkSet(),
		Approvals:   make(map[domain.Address]struct{}, len(src.Approvals)),
	}
	for _, link := range src.Links.Values() {
		dst.Links.Add(link)
	}
	for addr := range src.Approvals {
		dst.Approvals[addr] = struct{}{}
	}
	if src.Members != nil {
		dst.Members = models.NewMemberSet()
		for _, m := range src.Members.Values() {
			dst.Members.Add(m)
		}
	}
	return dst
}
