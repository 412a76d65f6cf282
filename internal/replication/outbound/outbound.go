// Package outbound fans accepted local mutations out to peer domains.
// Each mutation becomes one envelope, encoded once and handed to the
// transport per configured target. A failing target never blocks the
// others and never fails the local mutation.
package outbound

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"chaindir/internal/platform/metrics"
	"chaindir/internal/replication/wire"
	"chaindir/pkg/compactset"
	"chaindir/pkg/domain"
)

// Transport delivers an encoded envelope to one destination domain.
// receiver identifies the peer replica's inbound address there; transports
// may use it as a routing key.
type Transport interface {
	Send(ctx context.Context, dest domain.DomainID, receiver domain.Address, payload []byte) error
}

// Target is one peer replica that should receive our mutations.
type Target struct {
	DomainID domain.DomainID `json:"domainId"`
	Receiver domain.Address  `json:"receiver"`
}

// Replicator holds the target set and publishes envelopes through the
// transport. Targets are administrative state, adjustable at runtime.
type Replicator struct {
	home      domain.DomainID
	sender    domain.Address
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	targets *compactset.Set[domain.DomainID, Target]
}

type Option func(r *Replicator)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Replicator) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Replicator) { r.metrics = m }
}

// NewReplicator constructs a Replicator. sender is the address stamped on
// every outgoing envelope; peers authenticate it against their peer table.
func NewReplicator(home domain.DomainID, sender domain.Address, transport Transport, opts ...Option) *Replicator {
	r := &Replicator{
		home:      home,
		sender:    sender,
		transport: transport,
		targets:   compactset.New(func(t Target) domain.DomainID { return t.DomainID }),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddTarget registers a destination domain, replacing any previous entry
// for the same domain.
func (r *Replicator) AddTarget(t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets.Remove(t.DomainID)
	r.targets.Add(t)
}

// RemoveTarget drops a destination domain. Returns false if it was not set.
func (r *Replicator) RemoveTarget(dom domain.DomainID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.targets.Remove(dom)
	return ok
}

// Targets returns the current target list in storage order.
func (r *Replicator) Targets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.targets.Values()
}

// BroadcastUpdate publishes a link change to every target.
func (r *Replicator) BroadcastUpdate(ctx context.Context, rec wire.UpdateRecord) {
	routed, err := rec.Routed()
	if err != nil {
		r.logError(ctx, "encode update record", err)
		return
	}
	r.broadcast(ctx, routed)
}

// BroadcastApproval publishes an approval change to every target.
func (r *Replicator) BroadcastApproval(ctx context.Context, rec wire.ApprovalRecord) {
	routed, err := rec.Routed()
	if err != nil {
		r.logError(ctx, "encode approval record", err)
		return
	}
	r.broadcast(ctx, routed)
}

func (r *Replicator) broadcast(ctx context.Context, routed wire.RoutedMessage) {
	payload, err := routed.Encode()
	if err != nil {
		r.logError(ctx, "encode routed message", err)
		return
	}
	env := wire.Envelope{Source: r.home, Sender: r.sender, Payload: payload}
	raw, err := env.Encode()
	if err != nil {
		r.logError(ctx, "encode envelope", err)
		return
	}

	targets := r.Targets()
	if len(targets) == 0 {
		return
	}

	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			if err := r.transport.Send(ctx, t.DomainID, t.Receiver, raw); err != nil {
				r.metrics.IncPublishFailure()
				if r.logger != nil {
					r.logger.ErrorContext(ctx, "publish to peer failed",
						"destination", uint64(t.DomainID), "function", uint64(routed.Fn), "error", err)
				}
				return nil
			}
			r.metrics.IncPublished()
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Replicator) logError(ctx context.Context, op string, err error) {
	if r.logger != nil {
		r.logger.ErrorContext(ctx, op, "error", err)
	}
}
