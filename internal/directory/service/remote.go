package service

import (
	"context"
	"errors"

	"chaindir/internal/directory/models"
	"chaindir/internal/directory/store"
	"chaindir/internal/replication/wire"
	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

// Remote application: mutations arriving through the inbound router. The
// router has already authenticated the source domain and checked the merge
// guard; these methods enforce the local authorization rules. Remote
// mutations are never re-broadcast — each domain fans out only its own
// accepted local mutations, so updates cannot echo between peers.

// ApplyRemoteLink applies a replicated link. An identity seen for the first
// time is materialized from the record's caller, who acts as its creator;
// the origin's seed link arrives as a regular update and lands through the
// same path.
//
// Both the caller and the named address must hold local approval (the
// creator implicitly does). A remote domain cannot carry local approval
// state with it, so the address must have been pre-approved here.
func (s *Service) ApplyRemoteLink(ctx context.Context, caller domain.Address, p wire.LinkParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.store.Identity(ctx, p.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return translateStore(err, "load identity")
		}
		replica, rerr := models.NewReplica(p.ID, caller, p.Timestamp)
		if rerr != nil {
			return rerr
		}
		if cerr := s.store.CreateIdentity(ctx, replica); cerr != nil {
			return translateStore(cerr, "materialize identity")
		}
		s.logAudit(ctx, "identity_materialized", "identity", p.ID.String(), "creator", caller.String())
		ident = replica
	}

	if !ident.IsAuthorized(caller) {
		return dErrors.New(dErrors.CodeUnauthorized, "remote caller is not approved for this identity")
	}
	if !ident.IsAuthorized(p.Address) {
		return dErrors.New(dErrors.CodeUnauthorized, "linked address is not pre-approved locally")
	}

	link := models.LinkedAddress{DomainID: p.DomainID, Address: p.Address}
	if err := s.store.LinkAddress(ctx, p.ID, link, p.Timestamp); err != nil {
		return translateStore(err, "apply remote link")
	}
	s.logAudit(ctx, "remote_address_linked", "identity", p.ID.String(), "domain", uint64(p.DomainID), "address", p.Address.String())
	s.metrics.IncMutation("remote_link_address")
	return nil
}

// ApplyRemoteUnlink applies a replicated unlink under the same
// pre-approval rule as ApplyRemoteLink.
func (s *Service) ApplyRemoteUnlink(ctx context.Context, caller domain.Address, p wire.LinkParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.store.Identity(ctx, p.ID)
	if err != nil {
		return translateStore(err, "load identity")
	}
	if !ident.IsAuthorized(caller) {
		return dErrors.New(dErrors.CodeUnauthorized, "remote caller is not approved for this identity")
	}
	if !ident.IsAuthorized(p.Address) {
		return dErrors.New(dErrors.CodeUnauthorized, "unlinked address is not pre-approved locally")
	}

	link := models.LinkedAddress{DomainID: p.DomainID, Address: p.Address}
	if err := s.store.UnlinkAddress(ctx, p.ID, link, p.Timestamp); err != nil {
		return translateStore(err, "apply remote unlink")
	}
	s.logAudit(ctx, "remote_address_unlinked", "identity", p.ID.String(), "domain", uint64(p.DomainID), "address", p.Address.String())
	s.metrics.IncMutation("remote_unlink_address")
	return nil
}

// ApplyRemoteApprove applies a replicated approval grant.
func (s *Service) ApplyRemoteApprove(ctx context.Context, caller domain.Address, p wire.ApprovalParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.store.Identity(ctx, p.ID)
	if err != nil {
		return translateStore(err, "load identity")
	}
	if !ident.IsAuthorized(caller) {
		return dErrors.New(dErrors.CodeUnauthorized, "remote caller is not approved for this identity")
	}
	if err := s.store.Approve(ctx, p.ID, p.Address); err != nil {
		return translateStore(err, "apply remote approve")
	}
	s.logAudit(ctx, "remote_address_approved", "identity", p.ID.String(), "target", p.Address.String())
	s.metrics.IncMutation("remote_approve")
	return nil
}

// ApplyRemoteRevoke applies a replicated approval removal. The creator's
// authority stays irrevocable regardless of where the request came from.
func (s *Service) ApplyRemoteRevoke(ctx context.Context, caller domain.Address, p wire.ApprovalParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.store.Identity(ctx, p.ID)
	if err != nil {
		return translateStore(err, "load identity")
	}
	if !ident.IsAuthorized(caller) {
		return dErrors.New(dErrors.CodeUnauthorized, "remote caller is not approved for this identity")
	}
	if p.Address == ident.Creator {
		return dErrors.New(dErrors.CodeInvariantViolation, "creator authority cannot be revoked")
	}
	if err := s.store.Revoke(ctx, p.ID, p.Address); err != nil {
		return translateStore(err, "apply remote revoke")
	}
	s.logAudit(ctx, "remote_address_revoked", "identity", p.ID.String(), "target", p.Address.String())
	s.metrics.IncMutation("remote_revoke")
	return nil
}
