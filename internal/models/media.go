// Package models contains the data structures used throughout the application.
package models

import (
	"encoding/json"
	"fmt"
)

// Artist is a performer or uploader on a provider.
type Artist struct {
	// ID is the provider-private identifier.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Description is the artist's biography, when the provider has one.
	Description *string `json:"description,omitempty"`

	// Avatar is an image URL.
	Avatar *string `json:"avatar,omitempty"`
}

// Track is a single playable item.
type Track struct {
	// ID is the provider-private identifier.
	ID string `json:"id"`

	// Name is the track title.
	Name string `json:"name"`

	// Artists are the credited artists, possibly empty.
	Artists []Artist `json:"artists"`

	// Cover is an image URL.
	Cover *string `json:"cover,omitempty"`

	// Duration is the length in seconds.
	Duration *int `json:"duration,omitempty"`
}

// Collection is an album, playlist or multi-part upload.
// Tracks is empty in search results and filled by a detail lookup.
type Collection struct {
	// ID is the provider-private identifier.
	ID string `json:"id"`

	// Name is the collection title.
	Name string `json:"name"`

	// Artists are the owners or credited artists.
	Artists []Artist `json:"artists"`

	// Cover is an image URL.
	Cover *string `json:"cover,omitempty"`

	// Description is the provider-supplied blurb.
	Description *string `json:"description,omitempty"`

	// Tracks are the member tracks, in provider order.
	Tracks []Track `json:"tracks"`
}

// Stream is a directly fetchable media URL at a given quality.
type Stream struct {
	// Quality is a provider-defined label such as "192kbps" or "flac".
	Quality string `json:"quality"`

	// URL is the media location. It is usually short-lived.
	URL string `json:"url"`
}

// ItemKind names the variant held by a ResultItem.
type ItemKind string

// Result item kinds.
const (
	KindArtist     ItemKind = "artist"
	KindTrack      ItemKind = "track"
	KindCollection ItemKind = "collection"
)

// ResultItem is one search hit. Exactly one of the variants is set.
type ResultItem struct {
	artist     *Artist
	track      *Track
	collection *Collection
}

// ArtistItem wraps an artist.
func ArtistItem(a Artist) ResultItem { return ResultItem{artist: &a} }

// TrackItem wraps a track.
func TrackItem(t Track) ResultItem { return ResultItem{track: &t} }

// CollectionItem wraps a collection.
func CollectionItem(c Collection) ResultItem { return ResultItem{collection: &c} }

// Kind reports which variant the item holds.
func (r ResultItem) Kind() ItemKind {
	switch {
	case r.artist != nil:
		return KindArtist
	case r.track != nil:
		return KindTrack
	case r.collection != nil:
		return KindCollection
	}
	return ""
}

// Artist returns the artist variant.
func (r ResultItem) Artist() (Artist, bool) {
	if r.artist == nil {
		return Artist{}, false
	}
	return *r.artist, true
}

// Track returns the track variant.
func (r ResultItem) Track() (Track, bool) {
	if r.track == nil {
		return Track{}, false
	}
	return *r.track, true
}

// Collection returns the collection variant.
func (r ResultItem) Collection() (Collection, bool) {
	if r.collection == nil {
		return Collection{}, false
	}
	return *r.collection, true
}

// ID returns the provider-private id of whichever variant is set.
func (r ResultItem) ID() string {
	switch {
	case r.artist != nil:
		return r.artist.ID
	case r.track != nil:
		return r.track.ID
	case r.collection != nil:
		return r.collection.ID
	}
	return ""
}

type resultItemJSON struct {
	Kind       ItemKind    `json:"kind"`
	Artist     *Artist     `json:"artist,omitempty"`
	Track      *Track      `json:"track,omitempty"`
	Collection *Collection `json:"collection,omitempty"`
}

// MarshalJSON encodes the item as {"kind": ..., "<kind>": {...}}.
func (r ResultItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultItemJSON{
		Kind:       r.Kind(),
		Artist:     r.artist,
		Track:      r.track,
		Collection: r.collection,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *ResultItem) UnmarshalJSON(b []byte) error {
	var v resultItemJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = ResultItem{}
	switch {
	case v.Kind == KindArtist && v.Artist != nil:
		r.artist = v.Artist
	case v.Kind == KindTrack && v.Track != nil:
		r.track = v.Track
	case v.Kind == KindCollection && v.Collection != nil:
		r.collection = v.Collection
	default:
		return fmt.Errorf("%w: result item kind %q without payload", ErrInvalidInput, v.Kind)
	}
	return nil
}
