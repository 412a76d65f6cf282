// Package service implements the access-controlled mutation surface of the
// directory: every write is authorized against the identity's creator and
// approval set, applied atomically to the store, and handed to the outbound
// replicator exactly once.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chaindir/internal/delegation"
	"chaindir/internal/directory/models"
	"chaindir/internal/directory/store"
	"chaindir/internal/platform/metrics"
	"chaindir/internal/replication/wire"
	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

// Replicator receives one record per accepted local mutation and fans it
// out to every peer domain. Implementations must not fail the mutation:
// transport trouble is their problem to log and count.
type Replicator interface {
	BroadcastUpdate(ctx context.Context, rec wire.UpdateRecord)
	BroadcastApproval(ctx context.Context, rec wire.ApprovalRecord)
}

// Service orchestrates directory mutations for one domain.
type Service struct {
	home       domain.DomainID
	store      store.Store
	replicator Replicator
	verifier   delegation.Verifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
	clock      func() domain.Timestamp

	// mu serializes mutations: each operation runs to completion before the
	// next is observed, so the compact structures never see interleaved
	// partial writes.
	mu sync.Mutex

	// lastIssued is the highest merge timestamp handed out so far. Guarded
	// by mu.
	lastIssued domain.Timestamp
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithReplicator(r Replicator) Option {
	return func(s *Service) { s.replicator = r }
}

func WithVerifier(v delegation.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithClock overrides the timestamp source. Tests use it to make merge
// ordering deterministic.
func WithClock(clock func() domain.Timestamp) Option {
	return func(s *Service) { s.clock = clock }
}

// New constructs a Service for the given home domain.
func New(home domain.DomainID, st store.Store, opts ...Option) *Service {
	s := &Service{
		home:  home,
		store: st,
		clock: domain.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextTimestamp issues the merge timestamp for one accepted mutation. The
// wall clock has millisecond resolution, so back-to-back mutations can read
// the same instant; peers drop any record whose timestamp does not exceed
// the last applied one, so issuance must be strictly increasing. Callers
// hold s.mu.
func (s *Service) nextTimestamp() domain.Timestamp {
	ts := s.clock()
	if ts <= s.lastIssued {
		ts = s.lastIssued + 1
	}
	s.lastIssued = ts
	return ts
}

// HomeDomain returns the domain this replica is authoritative for.
func (s *Service) HomeDomain() domain.DomainID {
	return s.home
}

// CreateIndividual registers a new individual identity anchored by creator.
// The seeded creator link is broadcast so peers materialize the identity.
func (s *Service) CreateIndividual(ctx context.Context, creator domain.Address) (domain.IdentityID, error) {
	return s.create(ctx, creator, models.KindIndividual)
}

// CreateCommunity registers a new community identity.
func (s *Service) CreateCommunity(ctx context.Context, creator domain.Address) (domain.IdentityID, error) {
	return s.create(ctx, creator, models.KindCommunity)
}

func (s *Service) create(ctx context.Context, creator domain.Address, kind models.Kind) (domain.IdentityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nextTimestamp()
	id := domain.NewIdentityID(creator, s.home)

	var ident *models.Identity
	var err error
	if kind == models.KindCommunity {
		ident, err = models.NewCommunity(id, creator, s.home, now)
	} else {
		ident, err = models.NewIndividual(id, creator, s.home, now)
	}
	if err != nil {
		return domain.IdentityID{}, err
	}

	if err := s.store.CreateIdentity(ctx, ident); err != nil {
		return domain.IdentityID{}, translateStore(err, "create identity")
	}

	s.logAudit(ctx, "identity_created", "identity", id.String(), "creator", creator.String(), "kind", string(kind))
	s.metrics.IncMutation("create_" + string(kind))
	s.broadcastUpdate(ctx, wire.UpdateRecord{
		ID:        id,
		DomainID:  s.home,
		Address:   creator,
		Added:     true,
		Creator:   creator,
		Timestamp: now,
	})
	return id, nil
}

// LinkAddress binds (dom, addr) to the identity. Caller must be authorized.
func (s *Service) LinkAddress(ctx context.Context, caller domain.Address, id domain.IdentityID, dom domain.DomainID, addr domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.authorize(ctx, id, caller)
	if err != nil {
		return err
	}
	now := s.nextTimestamp()
	link := models.LinkedAddress{DomainID: dom, Address: addr}
	if err := s.store.LinkAddress(ctx, id, link, now); err != nil {
		return translateStore(err, "link address")
	}

	s.logAudit(ctx, "address_linked", "identity", id.String(), "domain", uint64(dom), "address", addr.String(), "caller", caller.String())
	s.metrics.IncMutation("link_address")
	s.broadcastUpdate(ctx, wire.UpdateRecord{
		ID:        id,
		DomainID:  dom,
		Address:   addr,
		Added:     true,
		Creator:   ident.Creator,
		Timestamp: now,
	})
	return nil
}

// UnlinkAddress removes a bound pair. The creator's own link is permanent.
func (s *Service) UnlinkAddress(ctx context.Context, caller domain.Address, id domain.IdentityID, dom domain.DomainID, addr domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.authorize(ctx, id, caller)
	if err != nil {
		return err
	}
	now := s.nextTimestamp()
	link := models.LinkedAddress{DomainID: dom, Address: addr}
	if err := s.store.UnlinkAddress(ctx, id, link, now); err != nil {
		return translateStore(err, "unlink address")
	}

	s.logAudit(ctx, "address_unlinked", "identity", id.String(), "domain", uint64(dom), "address", addr.String(), "caller", caller.String())
	s.metrics.IncMutation("unlink_address")
	s.broadcastUpdate(ctx, wire.UpdateRecord{
		ID:        id,
		DomainID:  dom,
		Address:   addr,
		Added:     false,
		Creator:   ident.Creator,
		Timestamp: now,
	})
	return nil
}

// LinkAddressDelegated links on behalf of signer, who authorized the action
// off-chain. The relayer submitting the call needs no approval of its own.
func (s *Service) LinkAddressDelegated(ctx context.Context, signer domain.Address, token string, id domain.IdentityID, dom domain.DomainID, addr domain.Address) error {
	if err := s.verifyDelegation(token, signer, delegation.ActionLink, id); err != nil {
		return err
	}
	return s.LinkAddress(ctx, signer, id, dom, addr)
}

// UnlinkAddressDelegated is the delegated form of UnlinkAddress.
func (s *Service) UnlinkAddressDelegated(ctx context.Context, signer domain.Address, token string, id domain.IdentityID, dom domain.DomainID, addr domain.Address) error {
	if err := s.verifyDelegation(token, signer, delegation.ActionUnlink, id); err != nil {
		return err
	}
	return s.UnlinkAddress(ctx, signer, id, dom, addr)
}

func (s *Service) verifyDelegation(token string, signer domain.Address, action string, id domain.IdentityID) error {
	if s.verifier == nil {
		return dErrors.New(dErrors.CodeUnauthorized, "delegated calls are not enabled")
	}
	return s.verifier.Verify(token, signer, action, id)
}

// Approve grants target mutation authority over the identity. Idempotent.
func (s *Service) Approve(ctx context.Context, caller domain.Address, id domain.IdentityID, target domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.authorize(ctx, id, caller); err != nil {
		return err
	}
	if err := s.store.Approve(ctx, id, target); err != nil {
		return translateStore(err, "approve address")
	}

	now := s.nextTimestamp()
	s.logAudit(ctx, "address_approved", "identity", id.String(), "target", target.String(), "caller", caller.String())
	s.metrics.IncMutation("approve")
	s.broadcastApproval(ctx, wire.ApprovalRecord{
		ID:        id,
		Address:   target,
		Approved:  true,
		Caller:    caller,
		Timestamp: now,
	})
	return nil
}

// Revoke withdraws target's authority. The creator's authority is permanent.
func (s *Service) Revoke(ctx context.Context, caller domain.Address, id domain.IdentityID, target domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.authorize(ctx, id, caller)
	if err != nil {
		return err
	}
	if target == ident.Creator {
		return dErrors.New(dErrors.CodeInvariantViolation, "creator authority cannot be revoked")
	}
	if err := s.store.Revoke(ctx, id, target); err != nil {
		return translateStore(err, "revoke address")
	}

	now := s.nextTimestamp()
	s.logAudit(ctx, "address_revoked", "identity", id.String(), "target", target.String(), "caller", caller.String())
	s.metrics.IncMutation("revoke")
	s.broadcastApproval(ctx, wire.ApprovalRecord{
		ID:        id,
		Address:   target,
		Approved:  false,
		Caller:    caller,
		Timestamp: now,
	})
	return nil
}

// AddMember adds an identity to a community. Member sets are local
// configuration and are not replicated.
func (s *Service) AddMember(ctx context.Context, caller domain.Address, communityID, memberID domain.IdentityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.authorize(ctx, communityID, caller); err != nil {
		return err
	}
	if err := s.store.AddMember(ctx, communityID, memberID, s.nextTimestamp()); err != nil {
		return translateStore(err, "add member")
	}
	s.logAudit(ctx, "member_added", "community", communityID.String(), "member", memberID.String(), "caller", caller.String())
	s.metrics.IncMutation("add_member")
	return nil
}

// RemoveMember removes an identity from a community.
func (s *Service) RemoveMember(ctx context.Context, caller domain.Address, communityID, memberID domain.IdentityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.authorize(ctx, communityID, caller); err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, communityID, memberID, s.nextTimestamp()); err != nil {
		return translateStore(err, "remove member")
	}
	s.logAudit(ctx, "member_removed", "community", communityID.String(), "member", memberID.String(), "caller", caller.String())
	s.metrics.IncMutation("remove_member")
	return nil
}

// LookupOwner resolves the owning identity for a pair. A miss is a zero id
// and false, never an error.
func (s *Service) LookupOwner(ctx context.Context, dom domain.DomainID, addr domain.Address) (domain.IdentityID, bool, error) {
	id, ok, err := s.store.LookupOwner(ctx, dom, addr)
	if err != nil {
		return domain.IdentityID{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "lookup owner")
	}
	return id, ok, nil
}

// Addresses returns the identity's linked addresses in storage order.
func (s *Service) Addresses(ctx context.Context, id domain.IdentityID) ([]models.LinkedAddress, error) {
	addrs, err := s.store.Addresses(ctx, id)
	if err != nil {
		return nil, translateStore(err, "list addresses")
	}
	return addrs, nil
}

// CreatorOf returns the identity's creator.
func (s *Service) CreatorOf(ctx context.Context, id domain.IdentityID) (domain.Address, error) {
	creator, err := s.store.Creator(ctx, id)
	if err != nil {
		return domain.Address{}, translateStore(err, "load creator")
	}
	return creator, nil
}

// Members returns a community's member ids.
func (s *Service) Members(ctx context.Context, communityID domain.IdentityID) ([]domain.IdentityID, error) {
	members, err := s.store.Members(ctx, communityID)
	if err != nil {
		return nil, translateStore(err, "list members")
	}
	return members, nil
}

// IsApproved reports whether addr may mutate the identity.
func (s *Service) IsApproved(ctx context.Context, id domain.IdentityID, addr domain.Address) (bool, error) {
	ok, err := s.store.IsApproved(ctx, id, addr)
	if err != nil {
		return false, translateStore(err, "check approval")
	}
	return ok, nil
}

func (s *Service) authorize(ctx context.Context, id domain.IdentityID, caller domain.Address) (*models.Identity, error) {
	ident, err := s.store.Identity(ctx, id)
	if err != nil {
		return nil, translateStore(err, "load identity")
	}
	if !ident.IsAuthorized(caller) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is not approved for this identity")
	}
	return ident, nil
}

func (s *Service) broadcastUpdate(ctx context.Context, rec wire.UpdateRecord) {
	if s.replicator != nil {
		s.replicator.BroadcastUpdate(ctx, rec)
	}
}

func (s *Service) broadcastApproval(ctx context.Context, rec wire.ApprovalRecord) {
	if s.replicator != nil {
		s.replicator.BroadcastApproval(ctx, rec)
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

// translateStore maps named store errors onto coded domain errors.
func translateStore(err error, op string) error {
	switch {
	case errors.Is(err, store.ErrIdentityExists):
		return dErrors.Wrap(err, dErrors.CodeAlreadyExists, op)
	case errors.Is(err, store.ErrAddressOwned):
		return dErrors.Wrap(err, dErrors.CodeConflict, op)
	case errors.Is(err, store.ErrCreatorLink):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, op)
	case errors.Is(err, store.ErrNotCommunity):
		return dErrors.Wrap(err, dErrors.CodeValidation, op)
	case errors.Is(err, store.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, op)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, op)
	}
}
