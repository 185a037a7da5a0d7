package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

const (
	spotifyTokenURL    = "https://accounts.spotify.com/api/token"
	spotifyAPI         = "https://api.spotify.com/v1"
	spotifyPageSize    = 20
	spotifySuggestSize = 5
	// guards against a next link loop on very large playlists
	spotifyMaxTrackPages = 100
)

var spotifyIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)

// SpotifyOptions configures the Spotify scraper.
type SpotifyOptions struct {
	ClientID     string
	ClientSecret string

	// Market is an ISO 3166-1 alpha-2 code used to filter playable items.
	Market string

	// TokenURL and APIBase override the public endpoints.
	TokenURL string
	APIBase  string
}

type spotifyImage struct {
	URL   string `json:"url"`
	Width int    `json:"width"`
}

// bestImage picks the widest image.
func bestImage(images []spotifyImage) *string {
	if len(images) == 0 {
		return nil
	}
	best := lo.MaxBy(images, func(a, b spotifyImage) bool { return a.Width > b.Width })
	return optional(best.URL)
}

type spotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []spotifyImage `json:"images"`
}

func (a spotifyArtist) artist() models.Artist {
	return models.Artist{ID: a.ID, Name: a.Name, Avatar: bestImage(a.Images)}
}

type spotifyTrack struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Name       string          `json:"name"`
	DurationMS int             `json:"duration_ms"`
	Artists    []spotifyArtist `json:"artists"`
	Album      struct {
		Images []spotifyImage `json:"images"`
	} `json:"album"`
}

func (t spotifyTrack) track() models.Track {
	out := models.Track{
		ID:   t.ID,
		Name: t.Name,
		Artists: lo.FilterMap(t.Artists, func(a spotifyArtist, _ int) (models.Artist, bool) {
			return models.Artist{ID: a.ID, Name: a.Name}, a.ID != ""
		}),
		Cover: bestImage(t.Album.Images),
	}
	if t.DurationMS > 0 {
		d := t.DurationMS / 1000
		out.Duration = &d
	}
	return out
}

type spotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Images      []spotifyImage `json:"images"`
}

func (u spotifyUser) artist() models.Artist {
	name := u.DisplayName
	if name == "" {
		name = u.ID
	}
	return models.Artist{ID: u.ID, Name: name, Avatar: bestImage(u.Images)}
}

type spotifyPlaylist struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Images      []spotifyImage `json:"images"`
	Owner       spotifyUser    `json:"owner"`
}

func (p spotifyPlaylist) collection() models.Collection {
	return models.Collection{
		ID:          p.ID,
		Name:        p.Name,
		Artists:     []models.Artist{p.Owner.artist()},
		Cover:       bestImage(p.Images),
		Description: optional(plainText(p.Description)),
		Tracks:      []models.Track{},
	}
}

type spotifyPage[T any] struct {
	Items []*T   `json:"items"`
	Next  string `json:"next"`
}

type spotifySearch struct {
	Tracks    spotifyPage[spotifyTrack]    `json:"tracks"`
	Artists   spotifyPage[spotifyArtist]   `json:"artists"`
	Playlists spotifyPage[spotifyPlaylist] `json:"playlists"`
}

type spotifyPlaylistItem struct {
	Track *spotifyTrack `json:"track"`
}

// SpotifyScraper serves metadata from the Spotify Web API. Audio needs a
// native client, so Stream is unsupported.
type SpotifyScraper struct {
	api    string
	market string
	fetch  fetcher
	logger *utils.Logger
}

// NewSpotifyScraper authenticates with the client credentials flow. Token
// requests and API calls both go through base.
func NewSpotifyScraper(ctx context.Context, opts SpotifyOptions, base *http.Client, logger *utils.Logger) (*SpotifyScraper, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret are required", models.ErrConfiguration)
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	logger = logger.Named("spotify_scraper")

	cfg := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     lo.Ternary(opts.TokenURL != "", opts.TokenURL, spotifyTokenURL),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// token refreshes outlive the constructor's context
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	source := cfg.TokenSource(tokenCtx)

	if _, err := source.Token(); err != nil {
		return nil, models.NewProviderError(models.ProviderSpotify, "login", models.ErrUnauthorized, err)
	}
	logger.Info("Obtained client credentials token")

	return &SpotifyScraper{
		api:    strings.TrimRight(lo.Ternary(opts.APIBase != "", opts.APIBase, spotifyAPI), "/"),
		market: opts.Market,
		fetch: fetcher{
			provider: models.ProviderSpotify,
			client:   oauth2.NewClient(tokenCtx, source),
			logger:   logger,
		},
		logger: logger,
	}, nil
}

// Provider implements Scraper.
func (s *SpotifyScraper) Provider() models.Provider { return models.ProviderSpotify }

// get maps 400 and 404 answers to ErrInvalidIdentifier.
func (s *SpotifyScraper) get(ctx context.Context, op, rawURL string, query url.Values, v any) error {
	err := s.fetch.getJSON(ctx, op, rawURL, query, v)
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusBadRequest) {
		return models.NewProviderError(models.ProviderSpotify, op, models.ErrInvalidIdentifier, statusErr)
	}
	return err
}

func (s *SpotifyScraper) search(ctx context.Context, op, keyword, types string, limit, offset int) (*spotifySearch, error) {
	query := url.Values{
		"q":      {keyword},
		"type":   {types},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	if s.market != "" {
		query.Set("market", s.market)
	}
	var out spotifySearch
	if err := s.fetch.getJSON(ctx, op, s.api+"/search", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Suggest implements Scraper with the names from a small mixed search.
func (s *SpotifyScraper) Suggest(ctx context.Context, keyword string) ([]string, error) {
	res, err := s.search(ctx, "suggest", keyword, "track,artist,playlist", spotifySuggestSize, 0)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, t := range lo.Compact(res.Tracks.Items) {
		names = append(names, t.Name)
	}
	for _, a := range lo.Compact(res.Artists.Items) {
		names = append(names, a.Name)
	}
	for _, p := range lo.Compact(res.Playlists.Items) {
		names = append(names, p.Name)
	}
	return lo.Uniq(lo.Compact(names)), nil
}

// Search implements Scraper.
func (s *SpotifyScraper) Search(ctx context.Context, keyword string, queryType models.QueryType, page int) ([]models.ResultItem, error) {
	var kind string
	switch queryType {
	case models.QueryTrack:
		kind = "track"
	case models.QueryArtist:
		kind = "artist"
	case models.QueryCollection:
		kind = "playlist"
	default:
		return nil, models.Unsupported(models.ProviderSpotify, "search "+string(queryType))
	}

	res, err := s.search(ctx, "search", keyword, kind, spotifyPageSize, (page-1)*spotifyPageSize)
	if err != nil {
		return nil, err
	}

	out := make([]models.ResultItem, 0, spotifyPageSize)
	switch queryType {
	case models.QueryTrack:
		for _, t := range lo.Compact(res.Tracks.Items) {
			if t.ID != "" {
				out = append(out, models.TrackItem(t.track()))
			}
		}
	case models.QueryArtist:
		for _, a := range lo.Compact(res.Artists.Items) {
			out = append(out, models.ArtistItem(a.artist()))
		}
	default:
		for _, p := range lo.Compact(res.Playlists.Items) {
			out = append(out, models.CollectionItem(p.collection()))
		}
	}
	return out, nil
}

// parseSpotifyID accepts a bare id or a spotify:{kind}:{id} URI.
func parseSpotifyID(kind, id string) (string, bool) {
	id = strings.TrimPrefix(id, "spotify:"+kind+":")
	return id, spotifyIDPattern.MatchString(id)
}

// Detail implements Scraper for playlist ids, following the track pages.
// Episodes and unavailable entries are skipped.
func (s *SpotifyScraper) Detail(ctx context.Context, id string) (*models.Collection, error) {
	pid, ok := parseSpotifyID("playlist", id)
	if !ok {
		return nil, models.InvalidID(models.ProviderSpotify, "detail", id)
	}

	query := url.Values{}
	if s.market != "" {
		query.Set("market", s.market)
	}
	var playlist struct {
		spotifyPlaylist
		Tracks spotifyPage[spotifyPlaylistItem] `json:"tracks"`
	}
	if err := s.get(ctx, "detail", s.api+"/playlists/"+pid, query, &playlist); err != nil {
		return nil, err
	}

	c := playlist.collection()
	page := playlist.Tracks
	for i := 0; ; i++ {
		for _, item := range lo.Compact(page.Items) {
			if item.Track == nil || item.Track.ID == "" || (item.Track.Type != "" && item.Track.Type != "track") {
				continue
			}
			c.Tracks = append(c.Tracks, item.Track.track())
		}
		if page.Next == "" || i >= spotifyMaxTrackPages {
			break
		}
		next := page.Next
		page = spotifyPage[spotifyPlaylistItem]{}
		if err := s.get(ctx, "detail", next, nil, &page); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Stream implements Scraper.
func (s *SpotifyScraper) Stream(context.Context, string) ([]models.Stream, error) {
	return nil, models.Unsupported(models.ProviderSpotify, "stream")
}
