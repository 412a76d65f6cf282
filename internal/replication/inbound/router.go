// Package inbound authenticates and dispatches envelopes arriving from
// peer domains. The peer table is the sole inbound authorization check: an
// envelope is accepted only when its sender matches the one trusted sender
// registered for its source domain. Accepted messages pass through a
// per-identity merge guard so duplicated or reordered deliveries converge
// on last-writer-wins state.
package inbound

import (
	"context"
	"log/slog"
	"sync"

	"chaindir/internal/platform/metrics"
	"chaindir/internal/replication/syncstate"
	"chaindir/internal/replication/wire"
	"chaindir/pkg/compactset"
	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

// Directory is the mutation surface the router drives. The directory
// service enforces per-identity authorization; the router only decides
// whether the message may be processed at all.
type Directory interface {
	ApplyRemoteLink(ctx context.Context, caller domain.Address, p wire.LinkParams) error
	ApplyRemoteUnlink(ctx context.Context, caller domain.Address, p wire.LinkParams) error
	ApplyRemoteApprove(ctx context.Context, caller domain.Address, p wire.ApprovalParams) error
	ApplyRemoteRevoke(ctx context.Context, caller domain.Address, p wire.ApprovalParams) error
}

// Handler processes one routed message body.
type Handler func(ctx context.Context, caller domain.Address, params []byte) error

// Peer is the one trusted sender for a source domain.
type Peer struct {
	DomainID domain.DomainID `json:"domainId"`
	Sender   domain.Address  `json:"sender"`
}

// Router validates envelopes and dispatches their routed messages.
type Router struct {
	directory Directory
	sync      syncstate.State
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu    sync.RWMutex
	peers *compactset.Set[domain.DomainID, Peer]

	dispatchMu sync.RWMutex
	dispatch   map[wire.FunctionID]Handler
}

type Option func(r *Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter constructs a Router with the four directory functions bound to
// their standard ids.
func NewRouter(directory Directory, sync syncstate.State, opts ...Option) *Router {
	r := &Router{
		directory: directory,
		sync:      sync,
		peers:     compactset.New(func(p Peer) domain.DomainID { return p.DomainID }),
		dispatch:  make(map[wire.FunctionID]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.dispatch[wire.FnLinkAddress] = r.handleLink
	r.dispatch[wire.FnUnlinkAddress] = r.handleUnlink
	r.dispatch[wire.FnApproveAddress] = r.handleApprove
	r.dispatch[wire.FnRevokeAddress] = r.handleRevoke
	return r
}

// SetPeer registers or replaces the trusted sender for a source domain.
// The change takes effect for the next envelope.
func (r *Router) SetPeer(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers.Remove(p.DomainID)
	r.peers.Add(p)
}

// RemovePeer drops trust for a source domain. Returns false if no peer
// was registered.
func (r *Router) RemovePeer(dom domain.DomainID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers.Remove(dom)
	return ok
}

// Peer returns the trusted sender registered for a source domain.
func (r *Router) Peer(dom domain.DomainID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers.Get(dom)
}

// Peers returns all registered peers in storage order.
func (r *Router) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers.Values()
}

// Bind rebinds a function id to a handler. Binding to an id that already
// has a handler replaces it.
func (r *Router) Bind(fn wire.FunctionID, h Handler) error {
	if h == nil {
		return dErrors.New(dErrors.CodeValidation, "handler is required")
	}
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	r.dispatch[fn] = h
	return nil
}

// BindOperation rebinds a function id to one of the named directory
// operations. This is the administrative form of Bind: the wire id an
// operation answers to can be remapped without redeploying peers in
// lockstep.
func (r *Router) BindOperation(fn wire.FunctionID, op string) error {
	var h Handler
	switch op {
	case "link":
		h = r.handleLink
	case "unlink":
		h = r.handleUnlink
	case "approve":
		h = r.handleApprove
	case "revoke":
		h = r.handleRevoke
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown operation: "+op)
	}
	return r.Bind(fn, h)
}

// Unbind removes a function binding. Subsequent messages naming the id are
// rejected as invalid.
func (r *Router) Unbind(fn wire.FunctionID) bool {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	_, ok := r.dispatch[fn]
	delete(r.dispatch, fn)
	return ok
}

// Receive authenticates and processes one raw envelope. An error return
// means the message was not applied; errors carrying CodeStaleUpdate mark
// deliveries that are already reflected in local state and safe to drop.
func (r *Router) Receive(ctx context.Context, raw []byte) error {
	r.metrics.IncReceived()

	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		r.metrics.IncRejected("malformed_envelope")
		return err
	}

	peer, ok := r.Peer(env.Source)
	if !ok || peer.Sender != env.Sender {
		r.metrics.IncRejected("unauthorized_sender")
		if r.logger != nil {
			r.logger.WarnContext(ctx, "envelope from unauthorized sender",
				"source", uint64(env.Source), "sender", env.Sender.String())
		}
		return dErrors.New(dErrors.CodeUnauthorized, "sender is not the trusted peer for source domain")
	}

	routed, err := wire.DecodeRoutedMessage(env.Payload)
	if err != nil {
		r.metrics.IncRejected("malformed_message")
		return err
	}
	return r.execute(ctx, routed)
}

// ExecuteLocal dispatches a routed message that originates inside this
// process, bypassing peer authentication.
func (r *Router) ExecuteLocal(ctx context.Context, routed wire.RoutedMessage) error {
	return r.execute(ctx, routed)
}

func (r *Router) execute(ctx context.Context, routed wire.RoutedMessage) error {
	r.dispatchMu.RLock()
	handler, ok := r.dispatch[routed.Fn]
	r.dispatchMu.RUnlock()
	if !ok {
		r.metrics.IncRejected("invalid_function")
		return dErrors.New(dErrors.CodeInvalidFunction, "no handler bound for function")
	}

	if err := handler(ctx, routed.Caller, routed.Params); err != nil {
		if dErrors.HasCode(err, dErrors.CodeStaleUpdate) {
			r.metrics.IncStale()
		} else {
			r.metrics.IncRejected("handler_failure")
		}
		return err
	}
	return nil
}

func (r *Router) handleLink(ctx context.Context, caller domain.Address, params []byte) error {
	p, err := wire.DecodeLinkParams(params)
	if err != nil {
		return err
	}
	return r.applyGuarded(ctx, p.ID, p.Timestamp, func() error {
		return r.directory.ApplyRemoteLink(ctx, caller, p)
	})
}

func (r *Router) handleUnlink(ctx context.Context, caller domain.Address, params []byte) error {
	p, err := wire.DecodeLinkParams(params)
	if err != nil {
		return err
	}
	return r.applyGuarded(ctx, p.ID, p.Timestamp, func() error {
		return r.directory.ApplyRemoteUnlink(ctx, caller, p)
	})
}

func (r *Router) handleApprove(ctx context.Context, caller domain.Address, params []byte) error {
	p, err := wire.DecodeApprovalParams(params)
	if err != nil {
		return err
	}
	return r.applyGuarded(ctx, p.ID, p.Timestamp, func() error {
		return r.directory.ApplyRemoteApprove(ctx, caller, p)
	})
}

func (r *Router) handleRevoke(ctx context.Context, caller domain.Address, params []byte) error {
	p, err := wire.DecodeApprovalParams(params)
	if err != nil {
		return err
	}
	return r.applyGuarded(ctx, p.ID, p.Timestamp, func() error {
		return r.directory.ApplyRemoteRevoke(ctx, caller, p)
	})
}

// applyGuarded enforces last-writer-wins per identity: a message whose
// timestamp is not strictly greater than the last applied one has already
// been superseded and is dropped as stale. The register only advances
// after the mutation lands, so a failed apply can be redelivered.
func (r *Router) applyGuarded(ctx context.Context, id domain.IdentityID, ts domain.Timestamp, apply func() error) error {
	last, err := r.sync.LastApplied(ctx, id)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "read sync state")
	}
	if ts <= last {
		return dErrors.New(dErrors.CodeStaleUpdate, "update is not newer than last applied state")
	}
	if err := apply(); err != nil {
		return err
	}
	if err := r.sync.Advance(ctx, id, ts); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "advance sync state")
	}
	return nil
}
