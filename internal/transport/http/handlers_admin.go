package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chaindir/internal/replication/inbound"
	"chaindir/internal/replication/outbound"
	"chaindir/internal/replication/wire"
	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
	"chaindir/pkg/platform/httputil"
	adminmw "chaindir/pkg/platform/middleware/admin"
)

// PeerAdmin is the router's administrative surface.
type PeerAdmin interface {
	SetPeer(p inbound.Peer)
	RemovePeer(dom domain.DomainID) bool
	BindOperation(fn wire.FunctionID, op string) error
	Unbind(fn wire.FunctionID) bool
}

// TargetAdmin is the replicator's administrative surface.
type TargetAdmin interface {
	AddTarget(t outbound.Target)
	RemoveTarget(dom domain.DomainID) bool
	Targets() []outbound.Target
}

// AdminHandler serves the token-guarded configuration endpoints.
type AdminHandler struct {
	peers   PeerAdmin
	targets TargetAdmin
	guard   *adminmw.TokenGuard
	logger  *slog.Logger
}

func NewAdminHandler(peers PeerAdmin, targets TargetAdmin, guard *adminmw.TokenGuard, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{peers: peers, targets: targets, guard: guard, logger: logger}
}

type setPeerRequest struct {
	Sender string `json:"sender"`
}

// HandleSetPeer handles PUT /admin/peers/{domain}.
func (a *AdminHandler) HandleSetPeer(w http.ResponseWriter, r *http.Request) {
	dom, err := parseDomainID(chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.DecodeJSON[setPeerRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sender, err := domain.ParseAddress(req.Sender)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	a.peers.SetPeer(inbound.Peer{DomainID: dom, Sender: sender})
	a.logConfig(r, "peer_set", "domain", uint64(dom), "sender", sender.String())
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemovePeer handles DELETE /admin/peers/{domain}.
func (a *AdminHandler) HandleRemovePeer(w http.ResponseWriter, r *http.Request) {
	dom, err := parseDomainID(chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !a.peers.RemovePeer(dom) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no trusted peer for domain"))
		return
	}
	a.logConfig(r, "peer_removed", "domain", uint64(dom))
	w.WriteHeader(http.StatusNoContent)
}

// HandleTargets handles GET /admin/targets.
func (a *AdminHandler) HandleTargets(w http.ResponseWriter, _ *http.Request) {
	targets := a.targets.Targets()
	out := make([]map[string]any, 0, len(targets))
	for _, t := range targets {
		out = append(out, map[string]any{
			"domainId": uint64(t.DomainID),
			"receiver": t.Receiver.String(),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"targets": out})
}

type addTargetRequest struct {
	Receiver string `json:"receiver"`
}

// HandleAddTarget handles PUT /admin/targets/{domain}.
func (a *AdminHandler) HandleAddTarget(w http.ResponseWriter, r *http.Request) {
	dom, err := parseDomainID(chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.DecodeJSON[addTargetRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	receiver, err := domain.ParseAddress(req.Receiver)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	a.targets.AddTarget(outbound.Target{DomainID: dom, Receiver: receiver})
	a.logConfig(r, "target_added", "domain", uint64(dom), "receiver", receiver.String())
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemoveTarget handles DELETE /admin/targets/{domain}.
func (a *AdminHandler) HandleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	dom, err := parseDomainID(chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !a.targets.RemoveTarget(dom) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no replication target for domain"))
		return
	}
	a.logConfig(r, "target_removed", "domain", uint64(dom))
	w.WriteHeader(http.StatusNoContent)
}

type bindRequest struct {
	Operation string `json:"operation"`
}

// HandleBindFunction handles PUT /admin/dispatch/{fn}.
func (a *AdminHandler) HandleBindFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := parseFunctionID(chi.URLParam(r, "fn"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.DecodeJSON[bindRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := a.peers.BindOperation(fn, req.Operation); err != nil {
		httputil.WriteError(w, err)
		return
	}
	a.logConfig(r, "function_bound", "function", uint64(fn), "operation", req.Operation)
	w.WriteHeader(http.StatusNoContent)
}

// HandleUnbindFunction handles DELETE /admin/dispatch/{fn}.
func (a *AdminHandler) HandleUnbindFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := parseFunctionID(chi.URLParam(r, "fn"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !a.peers.Unbind(fn) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "function is not bound"))
		return
	}
	a.logConfig(r, "function_unbound", "function", uint64(fn))
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	Token string `json:"token"`
}

// HandleTransfer handles POST /admin/transfer: hands administrative control
// to the holder of a new token.
func (a *AdminHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[transferRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Token == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "token is required"))
		return
	}

	if err := a.guard.Rotate(req.Token); err != nil {
		httputil.WriteError(w, err)
		return
	}
	a.logConfig(r, "admin_transferred")
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminHandler) logConfig(r *http.Request, event string, attributes ...any) {
	if a.logger == nil {
		return
	}
	args := append(attributes, "event", event, "log_type", "admin")
	a.logger.InfoContext(r.Context(), event, args...)
}

func parseFunctionID(raw string) (wire.FunctionID, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid function id")
	}
	return wire.FunctionID(n), nil
}
