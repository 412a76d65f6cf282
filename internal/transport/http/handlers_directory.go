package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chaindir/internal/directory/models"
	"chaindir/internal/replication/inbound"
	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
	"chaindir/pkg/platform/httputil"
)

// DirectoryService is the mutation and read surface the public handlers
// delegate to.
type DirectoryService interface {
	CreateIndividual(ctx context.Context, creator domain.Address) (domain.IdentityID, error)
	CreateCommunity(ctx context.Context, creator domain.Address) (domain.IdentityID, error)
	LinkAddress(ctx context.Context, caller domain.Address, id domain.IdentityID, dom domain.DomainID, addr domain.Address) error
	UnlinkAddress(ctx context.Context, caller domain.Address, id domain.IdentityID, dom domain.DomainID, addr domain.Address) error
	LinkAddressDelegated(ctx context.Context, signer domain.Address, token string, id domain.IdentityID, dom domain.DomainID, addr domain.Address) error
	UnlinkAddressDelegated(ctx context.Context, signer domain.Address, token string, id domain.IdentityID, dom domain.DomainID, addr domain.Address) error
	Approve(ctx context.Context, caller domain.Address, id domain.IdentityID, target domain.Address) error
	Revoke(ctx context.Context, caller domain.Address, id domain.IdentityID, target domain.Address) error
	AddMember(ctx context.Context, caller domain.Address, communityID, memberID domain.IdentityID) error
	RemoveMember(ctx context.Context, caller domain.Address, communityID, memberID domain.IdentityID) error
	LookupOwner(ctx context.Context, dom domain.DomainID, addr domain.Address) (domain.IdentityID, bool, error)
	Addresses(ctx context.Context, id domain.IdentityID) ([]models.LinkedAddress, error)
	CreatorOf(ctx context.Context, id domain.IdentityID) (domain.Address, error)
	Members(ctx context.Context, communityID domain.IdentityID) ([]domain.IdentityID, error)
	IsApproved(ctx context.Context, id domain.IdentityID, addr domain.Address) (bool, error)
}

// PeerReader exposes the peer table for the public approved-sender check.
type PeerReader interface {
	Peer(dom domain.DomainID) (inbound.Peer, bool)
}

// Handler serves the public directory endpoints.
type Handler struct {
	service DirectoryService
	peers   PeerReader
	logger  *slog.Logger
}

func NewHandler(service DirectoryService, peers PeerReader, logger *slog.Logger) *Handler {
	return &Handler{service: service, peers: peers, logger: logger}
}

type createIdentityRequest struct {
	Creator string `json:"creator"`
	Kind    string `json:"kind"`
}

// HandleCreateIdentity handles POST /v1/identities.
func (h *Handler) HandleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[createIdentityRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	creator, err := domain.ParseAddress(req.Creator)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var id domain.IdentityID
	switch req.Kind {
	case "", string(models.KindIndividual):
		id, err = h.service.CreateIndividual(r.Context(), creator)
	case string(models.KindCommunity):
		id, err = h.service.CreateCommunity(r.Context(), creator)
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "unknown identity kind: "+req.Kind))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"identityId": id.String()})
}

// HandleLookupOwner handles GET /v1/owner?domain=&address=.
func (h *Handler) HandleLookupOwner(w http.ResponseWriter, r *http.Request) {
	dom, err := parseDomainID(r.URL.Query().Get("domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	addr, err := domain.ParseAddress(r.URL.Query().Get("address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	id, found, err := h.service.LookupOwner(r.Context(), dom, addr)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := map[string]any{"found": found}
	if found {
		resp["identityId"] = id.String()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandlePeer handles GET /v1/peers/{domain}: the approved-sender check.
func (h *Handler) HandlePeer(w http.ResponseWriter, r *http.Request) {
	dom, err := parseDomainID(chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	peer, ok := h.peers.Peer(dom)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no trusted peer for domain"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"domainId": uint64(peer.DomainID),
		"sender":   peer.Sender.String(),
	})
}

// HandleAddresses handles GET /v1/identities/{id}/addresses.
func (h *Handler) HandleAddresses(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	links, err := h.service.Addresses(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(links))
	for _, link := range links {
		out = append(out, map[string]any{
			"domainId": uint64(link.DomainID),
			"address":  link.Address.String(),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"addresses": out})
}

// HandleCreator handles GET /v1/identities/{id}/creator.
func (h *Handler) HandleCreator(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	creator, err := h.service.CreatorOf(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"creator": creator.String()})
}

// HandleIsApproved handles GET /v1/identities/{id}/approved?address=.
func (h *Handler) HandleIsApproved(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	addr, err := domain.ParseAddress(r.URL.Query().Get("address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	approved, err := h.service.IsApproved(r.Context(), id, addr)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"approved": approved})
}

type linkRequest struct {
	Caller   string `json:"caller"`
	DomainID uint64 `json:"domainId"`
	Address  string `json:"address"`
}

// HandleLink handles POST /v1/identities/{id}/links.
func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.DecodeJSON[linkRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	caller, addr, err := parseCallerAndAddress(req.Caller, req.Address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.LinkAddress(r.Context(), caller, id, domain.DomainID(req.DomainID), addr); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUnlink handles DELETE /v1/identities/{id}/links?caller=&domain=&address=.
func (h *Handler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	dom, err := parseDomainID(q.Get("domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	caller, addr, err := parseCallerAndAddress(q.Get("caller"), q.Get("address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.UnlinkAddress(r.Context(), caller, id, dom, addr); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type delegatedLinkRequest struct {
	Signer   string `json:"signer"`
	Token    string `json:"token"`
	Action   string `json:"action"`
	DomainID uint64 `json:"domainId"`
	Address  string `json:"address"`
}

// HandleDelegatedLink handles POST /v1/identities/{id}/links/delegated. The
// relayer submits a token signed off-band by the signer; the mutation is
// processed as if the signer called it directly.
func (h *Handler) HandleDelegatedLink(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.DecodeJSON[delegatedLinkRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	signer, addr, err := parseCallerAndAddress(req.Signer, req.Address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	switch req.Action {
	case "", "link":
		err = h.service.LinkAddressDelegated(r.Context(), signer, req.Token, id, domain.DomainID(req.DomainID), addr)
	case "unlink":
		err = h.service.UnlinkAddressDelegated(r.Context(), signer, req.Token, id, domain.DomainID(req.DomainID), addr)
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "unknown delegated action: "+req.Action))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approvalRequest struct {
	Caller string `json:"caller"`
	Target string `json:"target"`
}

// HandleApprove handles POST /v1/identities/{id}/approvals.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.DecodeJSON[approvalRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	caller, target, err := parseCallerAndAddress(req.Caller, req.Target)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Approve(r.Context(), caller, id, target); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevoke handles DELETE /v1/identities/{id}/approvals?caller=&target=.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	caller, target, err := parseCallerAndAddress(q.Get("caller"), q.Get("target"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Revoke(r.Context(), caller, id, target); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMembers handles GET /v1/communities/{id}/members.
func (h *Handler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	members, err := h.service.Members(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.String())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"members": out})
}

type memberRequest struct {
	Caller   string `json:"caller"`
	MemberID string `json:"memberId"`
}

// HandleAddMember handles POST /v1/communities/{id}/members.
func (h *Handler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[memberRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.handleMemberChange(w, r, req.Caller, req.MemberID, h.service.AddMember)
}

// HandleRemoveMember handles DELETE /v1/communities/{id}/members?caller=&memberId=.
func (h *Handler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.handleMemberChange(w, r, q.Get("caller"), q.Get("memberId"), h.service.RemoveMember)
}

func (h *Handler) handleMemberChange(w http.ResponseWriter, r *http.Request, rawCaller, rawMember string, change func(context.Context, domain.Address, domain.IdentityID, domain.IdentityID) error) {
	communityID, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	caller, err := domain.ParseAddress(rawCaller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	memberID, err := domain.ParseIdentityID(rawMember)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := change(r.Context(), caller, communityID, memberID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func identityParam(r *http.Request) (domain.IdentityID, error) {
	return domain.ParseIdentityID(chi.URLParam(r, "id"))
}

func parseDomainID(raw string) (domain.DomainID, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid domain id")
	}
	return domain.DomainID(n), nil
}

func parseCallerAndAddress(rawCaller, rawAddr string) (domain.Address, domain.Address, error) {
	caller, err := domain.ParseAddress(rawCaller)
	if err != nil {
		return domain.Address{}, domain.Address{}, err
	}
	addr, err := domain.ParseAddress(rawAddr)
	if err != nil {
		return domain.Address{}, domain.Address{}, err
	}
	return caller, addr, nil
}
