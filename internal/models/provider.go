// Package models contains the data structures used throughout the application.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Provider identifies an external content source.
type Provider string

// Supported providers.
const (
	ProviderBilibili Provider = "bilibili"
	ProviderNetease  Provider = "netease"
	ProviderYouTube  Provider = "youtube"
	ProviderSpotify  Provider = "spotify"
)

// Providers lists every known provider in a stable order.
var Providers = []Provider{
	ProviderBilibili,
	ProviderNetease,
	ProviderYouTube,
	ProviderSpotify,
}

// String returns the lowercase provider name.
func (p Provider) String() string {
	return string(p)
}

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderBilibili, ProviderNetease, ProviderYouTube, ProviderSpotify:
		return true
	}
	return false
}

// ParseProvider parses a provider name. Matching is case-insensitive.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, s)
	}
	return p, nil
}

// ParseProviders parses a list of provider names, skipping blanks and
// duplicates while preserving order.
func ParseProviders(names []string) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	seen := make(map[Provider]struct{}, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, err := ParseProvider(name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Provider) MarshalText() ([]byte, error) {
	return []byte(p), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Provider) UnmarshalText(b []byte) error {
	v, err := ParseProvider(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Tagged pairs a value with the provider it came from.
type Tagged[T any] struct {
	// Provider is the origin of Value.
	Provider Provider `json:"provider"`

	// Value is the provider-supplied payload.
	Value T `json:"value"`
}

// Tag wraps v with its origin provider.
func Tag[T any](p Provider, v T) Tagged[T] {
	return Tagged[T]{Provider: p, Value: v}
}

// QueryType selects which kind of entity a search looks for.
type QueryType string

// Query types. QueryAll expands to the three concrete types.
const (
	QueryTrack      QueryType = "track"
	QueryArtist     QueryType = "artist"
	QueryCollection QueryType = "collection"
	QueryAll        QueryType = "all"
)

var concreteQueryTypes = []QueryType{QueryTrack, QueryArtist, QueryCollection}

// Valid reports whether q is a concrete query type or QueryAll.
func (q QueryType) Valid() bool {
	switch q {
	case QueryTrack, QueryArtist, QueryCollection, QueryAll:
		return true
	}
	return false
}

// ParseQueryType parses a query type name.
func ParseQueryType(s string) (QueryType, error) {
	if q := QueryType(strings.ToLower(strings.TrimSpace(s))); q.Valid() {
		return q, nil
	}
	return "", fmt.Errorf("%w: unknown query type %q", ErrInvalidInput, s)
}

// UnmarshalJSON accepts a query type name.
func (q *QueryType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseQueryType(s)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// ExpandQueryTypes replaces QueryAll with the concrete types and drops
// duplicates. Order of first appearance is kept.
func ExpandQueryTypes(types []QueryType) []QueryType {
	out := make([]QueryType, 0, len(concreteQueryTypes))
	seen := make(map[QueryType]struct{}, len(concreteQueryTypes))
	add := func(q QueryType) {
		if _, ok := seen[q]; ok {
			return
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	for _, q := range types {
		if q == QueryAll {
			for _, c := range concreteQueryTypes {
				add(c)
			}
			continue
		}
		add(q)
	}
	return out
}
