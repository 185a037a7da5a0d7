package media

import (
	"context"
	"fmt"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

// Service is the aggregation surface the transports serve. *Manager
// implements it.
type Service interface {
	Providers() []models.Provider
	Suggest(ctx context.Context, keyword string, providers []models.Provider) ([]models.Tagged[string], error)
	Search(ctx context.Context, keyword string, providers []models.Provider, queryTypes []models.QueryType, page int) ([]models.Tagged[models.ResultItem], error)
	Detail(ctx context.Context, provider models.Provider, id string) (*models.Collection, error)
	Stream(ctx context.Context, provider models.Provider, id string) ([]models.Stream, error)
}

var _ Service = (*Manager)(nil)

// SuggestRequest is the transport form of a suggest call.
type SuggestRequest struct {
	Keyword   string            `json:"keyword" validate:"required,max=200"`
	Providers []models.Provider `json:"providers" validate:"required,min=1,dive,provider"`
}

// Do validates r and runs it against svc.
func (r SuggestRequest) Do(ctx context.Context, svc Service) ([]models.Tagged[string], error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	return svc.Suggest(ctx, r.Keyword, r.Providers)
}

// SearchRequest is the transport form of a search call. Omitted types mean
// all, an omitted page means the first.
type SearchRequest struct {
	Keyword   string             `json:"keyword" validate:"required,max=200"`
	Providers []models.Provider  `json:"providers" validate:"required,min=1,dive,provider"`
	Types     []models.QueryType `json:"types"`
	Page      int                `json:"page" validate:"gte=0"`
}

// Do validates r and runs it against svc.
func (r SearchRequest) Do(ctx context.Context, svc Service) ([]models.Tagged[models.ResultItem], error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	types := r.Types
	if len(types) == 0 {
		types = []models.QueryType{models.QueryAll}
	}
	page := r.Page
	if page == 0 {
		page = 1
	}
	return svc.Search(ctx, r.Keyword, r.Providers, types, page)
}

// ItemRequest addresses one entity of one provider, for detail and stream.
type ItemRequest struct {
	Provider models.Provider `json:"provider" validate:"required,provider"`
	ID       string          `json:"id" validate:"required"`
}

// Detail validates r and fetches the collection.
func (r ItemRequest) Detail(ctx context.Context, svc Service) (*models.Collection, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	return svc.Detail(ctx, r.Provider, r.ID)
}

// Stream validates r and resolves its streams.
func (r ItemRequest) Stream(ctx context.Context, svc Service) ([]models.Stream, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	return svc.Stream(ctx, r.Provider, r.ID)
}

func validate(v any) error {
	if err := utils.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	return nil
}
