package provision

import (
	"context"

	"github.com/pkg/errors"

	"vnet/internal/config"
	"vnet/internal/declared"
	"vnet/internal/domain"
	"vnet/internal/gateway"
	"vnet/internal/strategy"
)

// Session ties planning to provisioning. Each call plans afresh and runs a
// new Orchestrator, so address allocation and the creation ledger never
// leak between networks.
type Session struct {
	gw   gateway.Set
	opts []Option
}

// NewSession creates a session provisioning through gw. opts apply to every
// orchestrator the session runs.
func NewSession(gw gateway.Set, opts ...Option) *Session {
	return &Session{gw: gw, opts: opts}
}

// Instantiate provisions the network cfg declares. When g is non-nil its
// edges are opened on every router between their endpoints. The plan is
// returned even when provisioning fails.
func (s *Session) Instantiate(ctx context.Context, cfg *config.Network, g *domain.LogicalGraph) (*domain.Plan, error) {
	plan, err := declared.Build(cfg, g)
	if err != nil {
		return nil, errors.Wrapf(err, "plan %s", cfg.Name)
	}
	return plan, New(s.gw, s.opts...).Instantiate(ctx, plan)
}

// Delete removes every bridge and container cfg declares
func (s *Session) Delete(ctx context.Context, cfg *config.Network) error {
	return New(s.gw, s.opts...).Teardown(ctx, declared.Resources(cfg))
}

// SynthesizeAndInstantiate maps g onto a topology with st and provisions it
func (s *Session) SynthesizeAndInstantiate(ctx context.Context, st strategy.Strategy, g *domain.LogicalGraph, p strategy.Params) (*domain.Plan, error) {
	plan, err := st.Synthesize(g, p)
	if err != nil {
		return nil, errors.Wrapf(err, "synthesize with %s", st.Name())
	}
	return plan, New(s.gw, s.opts...).Instantiate(ctx, plan)
}

// Remove deletes what st synthesized for g
func (s *Session) Remove(ctx context.Context, st strategy.Strategy, g *domain.LogicalGraph, p strategy.Params) error {
	rs, err := st.Resources(g, p)
	if err != nil {
		return errors.Wrapf(err, "resources of %s", st.Name())
	}
	return New(s.gw, s.opts...).Teardown(ctx, rs)
}
