// Package media aggregates metadata and streams from external music providers.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

// BranchObserver is told about every per-provider branch of a fan-out.
type BranchObserver interface {
	ObserveBranch(op string, provider models.Provider, took time.Duration, err error)
}

// FanoutPolicy controls how a fan-out treats failed branches.
type FanoutPolicy struct {
	// FailOnEmpty makes a fan-out where every branch failed return
	// ErrUpstreamFailure instead of an empty result.
	FailOnEmpty bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithPolicy sets the fan-out policy.
func WithPolicy(p FanoutPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithObserver registers a branch observer, typically metrics.
func WithObserver(o BranchObserver) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// Manager routes requests to registered scrapers. The registry is fixed at
// construction, so lookups need no locking.
type Manager struct {
	scrapers map[models.Provider]Scraper
	policy   FanoutPolicy
	observer BranchObserver
	logger   *utils.Logger
}

// NewManager builds the registry. Nil and duplicate scrapers are rejected.
func NewManager(scrapers []Scraper, logger *utils.Logger, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	m := &Manager{
		scrapers: make(map[models.Provider]Scraper, len(scrapers)),
		logger:   logger.Named("media_manager"),
	}
	for _, s := range scrapers {
		if s == nil {
			return nil, fmt.Errorf("%w: nil scraper", models.ErrConfiguration)
		}
		p := s.Provider()
		if _, dup := m.scrapers[p]; dup {
			return nil, fmt.Errorf("%w: duplicate scraper for %s", models.ErrConfiguration, p)
		}
		m.scrapers[p] = s
		m.logger.Info("Registered scraper", "provider", p.String())
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Providers lists the registered providers in canonical order.
func (m *Manager) Providers() []models.Provider {
	return lo.Filter(models.Providers, func(p models.Provider, _ int) bool {
		_, ok := m.scrapers[p]
		return ok
	})
}

// Has reports whether p is registered.
func (m *Manager) Has(p models.Provider) bool {
	_, ok := m.scrapers[p]
	return ok
}

func notEnabled(p models.Provider, op string) error {
	return models.NewProviderError(p, op, models.ErrProviderNotEnabled, nil)
}

// Suggest asks every listed provider for completions concurrently. Failing
// providers are logged and left out of the result.
func (m *Manager) Suggest(ctx context.Context, keyword string, providers []models.Provider) ([]models.Tagged[string], error) {
	return fanout(ctx, m, "suggest", providers, func(ctx context.Context, s Scraper) ([]string, error) {
		return s.Suggest(ctx, keyword)
	})
}

// Search queries every listed provider for every query type. A provider's
// results are kept only if all of its query-type calls succeed.
func (m *Manager) Search(ctx context.Context, keyword string, providers []models.Provider, queryTypes []models.QueryType, page int) ([]models.Tagged[models.ResultItem], error) {
	if q, bad := lo.Find(queryTypes, func(q models.QueryType) bool { return !q.Valid() }); bad {
		return nil, fmt.Errorf("%w: unknown query type %q", models.ErrInvalidInput, q)
	}
	types := models.ExpandQueryTypes(queryTypes)
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: no query types", models.ErrInvalidInput)
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1, got %d", models.ErrInvalidInput, page)
	}

	return fanout(ctx, m, "search", providers, func(ctx context.Context, s Scraper) ([]models.ResultItem, error) {
		g, gctx := errgroup.WithContext(ctx)
		parts := make([][]models.ResultItem, len(types))
		for i, qt := range types {
			g.Go(func() error {
				items, err := s.Search(gctx, keyword, qt, page)
				if err != nil {
					return err
				}
				parts[i] = items
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return lo.Flatten(parts), nil
	})
}

// Detail fetches a collection from a single provider.
func (m *Manager) Detail(ctx context.Context, provider models.Provider, id string) (*models.Collection, error) {
	s, ok := m.scrapers[provider]
	if !ok {
		return nil, notEnabled(provider, "detail")
	}
	return s.Detail(ctx, id)
}

// Stream resolves stream URLs from a single provider.
func (m *Manager) Stream(ctx context.Context, provider models.Provider, id string) ([]models.Stream, error) {
	s, ok := m.scrapers[provider]
	if !ok {
		return nil, notEnabled(provider, "stream")
	}
	return s.Stream(ctx, id)
}

// fanout runs call against each provider concurrently and concatenates the
// successful results in provider order.
func fanout[T any](ctx context.Context, m *Manager, op string, providers []models.Provider, call func(context.Context, Scraper) ([]T, error)) ([]models.Tagged[T], error) {
	providers = lo.Uniq(providers)
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers given", models.ErrInvalidInput)
	}
	if p, bad := lo.Find(providers, func(p models.Provider) bool { return !p.Valid() }); bad {
		return nil, fmt.Errorf("%w: unknown provider %q", models.ErrInvalidInput, p)
	}

	results := make([][]models.Tagged[T], len(providers))
	errs := make([]error, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()

			var items []T
			s, ok := m.scrapers[p]
			if !ok {
				errs[i] = notEnabled(p, op)
			} else {
				items, errs[i] = call(ctx, s)
			}

			if m.observer != nil {
				m.observer.ObserveBranch(op, p, time.Since(start), errs[i])
			}
			if errs[i] != nil {
				return
			}
			results[i] = lo.Map(items, func(v T, _ int) models.Tagged[T] {
				return models.Tag(p, v)
			})
		}()
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		m.logger.Warn("Provider failed, dropping its results",
			"op", op,
			"provider", providers[i].String(),
			"error", err,
		)
	}

	if failed == len(providers) && m.policy.FailOnEmpty {
		return nil, errors.Join(append([]error{models.ErrUpstreamFailure}, errs...)...)
	}

	return lo.Flatten(results), nil
}
