package engine

import (
	"context"

	"github.com/ashureev/lessonroute/internal/chain"
	"github.com/ashureev/lessonroute/internal/domain"
)

// updateChain applies fn to a clone of key's chain context and persists the result.
func (c *Coordinator) updateChain(ctx context.Context, key domain.Key, fn func(cc *domain.ChainContext) *domain.ChainContext) (*domain.ChainContext, error) {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	staged := fn(c.chains.GetOrCreate(e.chain, key).Clone())
	if err := c.saveContext(ctx, e, staged); err != nil {
		return nil, err
	}
	return staged.Clone(), nil
}

// AddInsight upserts an insight attributed to p. The last write for a key wins.
func (c *Coordinator) AddInsight(ctx context.Context, key domain.Key, p domain.Persona, name, value string) (*domain.ChainContext, error) {
	if err := c.requirePersona(p); err != nil {
		return nil, err
	}
	return c.updateChain(ctx, key, func(cc *domain.ChainContext) *domain.ChainContext {
		c.chains.AddInsight(cc, p, name, value)
		return cc
	})
}

// SetPreference upserts a learner preference on the chain.
func (c *Coordinator) SetPreference(ctx context.Context, key domain.Key, name, value string) (*domain.ChainContext, error) {
	return c.updateChain(ctx, key, func(cc *domain.ChainContext) *domain.ChainContext {
		c.chains.SetPreference(cc, name, value)
		return cc
	})
}

// SetProgressMarker upserts a learning-progress marker on the chain.
func (c *Coordinator) SetProgressMarker(ctx context.Context, key domain.Key, name, value string) (*domain.ChainContext, error) {
	return c.updateChain(ctx, key, func(cc *domain.ChainContext) *domain.ChainContext {
		c.chains.SetProgressMarker(cc, name, value)
		return cc
	})
}

// ResetContext replaces the chain with an empty one under a new chain id.
func (c *Coordinator) ResetContext(ctx context.Context, key domain.Key) (*domain.ChainContext, error) {
	return c.updateChain(ctx, key, c.chains.Reset)
}

// DiscardContext deletes the chain context for key. Lesson progress is kept.
func (c *Coordinator) DiscardContext(ctx context.Context, key domain.Key) error {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := c.storage(ctx, "delete context", key, func(ctx context.Context) error {
		return c.repo.DeleteContext(ctx, key)
	}); err != nil {
		return err
	}
	e.chain = nil
	return nil
}

// Context returns a copy of the chain context, or nil if none exists.
func (c *Coordinator) Context(ctx context.Context, key domain.Key) (*domain.ChainContext, error) {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.chain.Clone(), nil
}

// ContextForPersona returns the read-only view of key's chain for p. A missing
// chain yields the view of an empty one with no chain id; nothing is persisted.
func (c *Coordinator) ContextForPersona(ctx context.Context, key domain.Key, p domain.Persona) (chain.PersonaView, error) {
	if err := c.requirePersona(p); err != nil {
		return chain.PersonaView{}, err
	}
	e, err := c.acquire(ctx, key)
	if err != nil {
		return chain.PersonaView{}, err
	}
	defer e.mu.Unlock()
	return c.chains.ContextForPersona(c.chainOrEmpty(e, key), p), nil
}

// ChainSummary describes key's chain. A missing chain is described as empty.
func (c *Coordinator) ChainSummary(ctx context.Context, key domain.Key) (chain.Summary, error) {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return chain.Summary{}, err
	}
	defer e.mu.Unlock()
	if e.chain == nil {
		return chain.Summary{PersonasUsed: []domain.Persona{}, PersonaUsage: map[domain.Persona]int{}}, nil
	}
	return c.chains.Describe(e.chain), nil
}
