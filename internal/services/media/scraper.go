// Package media aggregates metadata and streams from external music providers.
package media

import (
	"context"

	"norelock.dev/listenify/bragi/internal/models"
)

// Scraper is the capability contract every provider implements.
//
// Search is called with one concrete query type at a time. Types a provider
// cannot serve return models.ErrUnsupportedOperation. Detail only accepts
// collection ids. Stream returns candidates best first.
type Scraper interface {
	// Provider identifies the scraper in the registry.
	Provider() models.Provider

	// Suggest returns search-term completions for keyword.
	Suggest(ctx context.Context, keyword string) ([]string, error)

	// Search returns one page of results for keyword. Pages start at 1.
	Search(ctx context.Context, keyword string, queryType models.QueryType, page int) ([]models.ResultItem, error)

	// Detail returns the collection with its tracks populated.
	Detail(ctx context.Context, id string) (*models.Collection, error)

	// Stream resolves playable URLs for a track id.
	Stream(ctx context.Context, id string) ([]models.Stream, error)
}
