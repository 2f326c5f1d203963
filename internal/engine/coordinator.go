// Package engine is the suggestion coordinator: the single entry point that ties
// keyword routing, chain context and lesson progress together per (learner, lesson).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/lessonroute/internal/agent"
	"github.com/ashureev/lessonroute/internal/chain"
	"github.com/ashureev/lessonroute/internal/config"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/lesson"
	"github.com/ashureev/lessonroute/internal/persona"
	"github.com/ashureev/lessonroute/internal/routing"
	"github.com/ashureev/lessonroute/internal/store"
	"golang.org/x/sync/errgroup"
)

const defaultStorageTimeout = 2 * time.Second

// Options configures a Coordinator. Zero values are replaced with defaults.
type Options struct {
	StorageTimeout time.Duration
	Logger         *slog.Logger
	Observer       Observer
	// Memory receives committed exchanges. Optional.
	Memory agent.MemoryIndex
	Clock  func() time.Time
}

// Coordinator serializes work per (learner, lesson) key. Different keys never contend.
type Coordinator struct {
	repo        store.Repository
	registry    *persona.Registry
	recommender *routing.Recommender
	chains      *chain.Manager
	lessons     *lesson.Machine

	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
	memory   agent.MemoryIndex
	now      func() time.Time

	entries sync.Map // domain.Key -> *entry
}

// entry caches the persisted records of one key. mu guards every field but lastUsed.
type entry struct {
	mu       sync.Mutex
	loaded   bool
	evicted  bool
	chain    *domain.ChainContext
	progress *domain.LessonProgress
	lastUsed atomic.Int64
}

// New builds a Coordinator over a validated engine configuration and a repository.
func New(eng *config.Engine, repo store.Repository, opts Options) (*Coordinator, error) {
	if eng == nil || repo == nil {
		return nil, fmt.Errorf("engine: configuration and repository are required")
	}
	rec, err := routing.NewRecommender(eng.Registry, eng.Rules, eng.Routing)
	if err != nil {
		return nil, err
	}
	machine, err := lesson.NewMachine(eng.Lesson)
	if err != nil {
		return nil, err
	}

	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = defaultStorageTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Coordinator{
		repo:        repo,
		registry:    eng.Registry,
		recommender: rec,
		chains:      chain.NewManager(eng.Chain).WithClock(opts.Clock),
		lessons:     machine.WithClock(opts.Clock),
		timeout:     opts.StorageTimeout,
		logger:      opts.Logger,
		observer:    opts.Observer,
		memory:      opts.Memory,
		now:         opts.Clock,
	}, nil
}

// Personas returns the configured persona profiles in priority order.
func (c *Coordinator) Personas() []persona.Profile {
	return c.registry.Profiles()
}

// Profile returns the profile of p.
func (c *Coordinator) Profile(p domain.Persona) (persona.Profile, error) {
	prof, ok := c.registry.Lookup(p)
	if !ok {
		return persona.Profile{}, fmt.Errorf("%w: %q", domain.ErrUnknownPersona, p)
	}
	return prof, nil
}

// acquire returns the loaded, locked entry for key. Callers must unlock e.mu.
func (c *Coordinator) acquire(ctx context.Context, key domain.Key) (*entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	for {
		v, _ := c.entries.LoadOrStore(key, &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		if !e.loaded {
			if err := c.load(ctx, key, e); err != nil {
				e.mu.Unlock()
				return nil, err
			}
		}
		e.lastUsed.Store(c.now().UnixNano())
		return e, nil
	}
}

// load fetches both records for key in parallel. e is left untouched on failure.
func (c *Coordinator) load(ctx context.Context, key domain.Key, e *entry) error {
	var (
		cc *domain.ChainContext
		lp *domain.LessonProgress
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.storage(gctx, "load context", key, func(ctx context.Context) error {
			var err error
			cc, err = c.repo.LoadContext(ctx, key)
			return err
		})
	})
	g.Go(func() error {
		return c.storage(gctx, "load progress", key, func(ctx context.Context) error {
			var err error
			lp, err = c.repo.LoadProgress(ctx, key)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}
	e.chain, e.progress, e.loaded = cc, lp, true
	return nil
}

// storage runs one repository call under the storage timeout and reports it.
func (c *Coordinator) storage(ctx context.Context, op string, key domain.Key, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c.observer.StorageCall(op, time.Since(start), err)
	if err != nil {
		c.logger.Warn("storage call failed",
			"op", op,
			"learner_id", key.LearnerID,
			"lesson_id", key.LessonID,
			"error", err)
		return &domain.TransientStorageError{Op: op, Key: key, Err: err}
	}
	return nil
}

func (c *Coordinator) saveContext(ctx context.Context, e *entry, staged *domain.ChainContext) error {
	if err := c.storage(ctx, "save context", staged.Key, func(ctx context.Context) error {
		return c.repo.SaveContext(ctx, staged)
	}); err != nil {
		return err
	}
	e.chain = staged
	return nil
}

func (c *Coordinator) saveProgress(ctx context.Context, e *entry, staged *domain.LessonProgress) error {
	if err := c.storage(ctx, "save progress", staged.Key, func(ctx context.Context) error {
		return c.repo.SaveProgress(ctx, staged)
	}); err != nil {
		return err
	}
	e.progress = staged
	return nil
}

// progressOf returns the cached progress or a not_started record. Never nil.
func progressOf(e *entry, key domain.Key) *domain.LessonProgress {
	if e.progress != nil {
		return e.progress
	}
	return domain.NewLessonProgress(key)
}

func (c *Coordinator) requirePersona(p domain.Persona) error {
	if !c.registry.Has(p) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownPersona, p)
	}
	return nil
}
