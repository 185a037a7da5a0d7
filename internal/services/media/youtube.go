package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

const (
	youtubeSuggestURL = "https://suggestqueries.google.com/complete/search"
	youtubePageSize   = 20
	// Music
	youtubeMusicCategory = "10"
	// playlistItems pages are capped at 50 by the API
	youtubePlaylistPage = 50
)

var youtubeVideoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Invidious audio quality labels, worst first.
var youtubeAudioQualities = []string{
	"AUDIO_QUALITY_ULTRALOW",
	"AUDIO_QUALITY_LOW",
	"AUDIO_QUALITY_MEDIUM",
	"AUDIO_QUALITY_HIGH",
}

// YouTubeOptions configures the YouTube scraper.
type YouTubeOptions struct {
	// APIKey authenticates Data API calls.
	APIKey string

	// Instance is the Invidious base URL used to resolve streams.
	Instance string

	// APIEndpoint overrides the Data API base URL.
	APIEndpoint string
}

// YouTubeScraper serves metadata from the YouTube Data API, suggestions
// from Google and streams from an Invidious instance.
type YouTubeScraper struct {
	service  *youtube.Service
	apiKey   string
	instance string
	fetch    fetcher
	logger   *utils.Logger
}

// NewYouTubeScraper builds the Data API client over client.
func NewYouTubeScraper(ctx context.Context, opts YouTubeOptions, client *http.Client, logger *utils.Logger) (*YouTubeScraper, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: youtube api key is required", models.ErrConfiguration)
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	logger = logger.Named("youtube_scraper")

	apiOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.APIEndpoint != "" {
		apiOpts = append(apiOpts, option.WithEndpoint(opts.APIEndpoint))
	}
	service, err := youtube.NewService(ctx, apiOpts...)
	if err != nil {
		logger.Error("Failed to create YouTube service", err)
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	return &YouTubeScraper{
		service:  service,
		apiKey:   opts.APIKey,
		instance: strings.TrimRight(opts.Instance, "/"),
		fetch: fetcher{
			provider:  models.ProviderYouTube,
			client:    client,
			userAgent: desktopUserAgent,
			logger:    logger,
		},
		logger: logger,
	}, nil
}

// Provider implements Scraper.
func (s *YouTubeScraper) Provider() models.Provider { return models.ProviderYouTube }

// key is passed on every call because a custom HTTP client disables the
// client option based key.
func (s *YouTubeScraper) key() googleapi.CallOption {
	return googleapi.QueryParameter("key", s.apiKey)
}

// apiError maps Data API failures onto the shared error kinds.
func (s *YouTubeScraper) apiError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return models.NewProviderError(models.ProviderYouTube, op, models.ErrInvalidIdentifier, err)
		case http.StatusBadRequest:
			return models.NewProviderError(models.ProviderYouTube, op, models.ErrInvalidInput, err)
		}
	}
	return models.Upstream(models.ProviderYouTube, op, err)
}

// Suggest implements Scraper using Google's YouTube completion source.
func (s *YouTubeScraper) Suggest(ctx context.Context, keyword string) ([]string, error) {
	// ["keyword", ["suggestion", ...], ...]
	var raw []json.RawMessage
	query := url.Values{"client": {"firefox"}, "ds": {"yt"}, "q": {keyword}}
	if err := s.fetch.getJSON(ctx, "suggest", youtubeSuggestURL, query, &raw); err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, models.Malformed(models.ProviderYouTube, "suggest", fmt.Errorf("got %d elements", len(raw)))
	}
	var suggestions []string
	if err := json.Unmarshal(raw[1], &suggestions); err != nil {
		return nil, models.Malformed(models.ProviderYouTube, "suggest", err)
	}
	return lo.Map(suggestions, func(v string, _ int) string { return plainText(v) }), nil
}

// Search implements Scraper. The Data API pages by token, so page n walks
// n-1 tokens first.
func (s *YouTubeScraper) Search(ctx context.Context, keyword string, queryType models.QueryType, page int) ([]models.ResultItem, error) {
	var kind string
	switch queryType {
	case models.QueryTrack:
		kind = "video"
	case models.QueryArtist:
		kind = "channel"
	case models.QueryCollection:
		kind = "playlist"
	default:
		return nil, models.Unsupported(models.ProviderYouTube, "search "+string(queryType))
	}

	newCall := func() *youtube.SearchListCall {
		call := s.service.Search.List([]string{"id", "snippet"}).
			Q(keyword).
			Type(kind).
			MaxResults(youtubePageSize).
			Context(ctx)
		if kind == "video" {
			call = call.VideoCategoryId(youtubeMusicCategory)
		}
		return call
	}

	token := ""
	for i := 1; i < page; i++ {
		resp, err := newCall().PageToken(token).Fields("nextPageToken").Do(s.key())
		if err != nil {
			return nil, s.apiError(ctx, "search", err)
		}
		if resp.NextPageToken == "" {
			return []models.ResultItem{}, nil
		}
		token = resp.NextPageToken
	}

	resp, err := newCall().PageToken(token).Do(s.key())
	if err != nil {
		s.logger.Debug("Failed to search YouTube", "query", keyword, "error", err)
		return nil, s.apiError(ctx, "search", err)
	}

	switch kind {
	case "video":
		return s.videoResults(ctx, resp.Items)
	case "channel":
		return lo.FilterMap(resp.Items, func(item *youtube.SearchResult, _ int) (models.ResultItem, bool) {
			if item.Id == nil || item.Id.ChannelId == "" || item.Snippet == nil {
				return models.ResultItem{}, false
			}
			return models.ArtistItem(models.Artist{
				ID:          item.Id.ChannelId,
				Name:        plainText(item.Snippet.ChannelTitle),
				Description: optional(plainText(item.Snippet.Description)),
				Avatar:      optional(getBestThumbnail(item.Snippet.Thumbnails)),
			}), true
		}), nil
	default:
		return lo.FilterMap(resp.Items, func(item *youtube.SearchResult, _ int) (models.ResultItem, bool) {
			if item.Id == nil || item.Id.PlaylistId == "" || item.Snippet == nil {
				return models.ResultItem{}, false
			}
			return models.CollectionItem(models.Collection{
				ID:          item.Id.PlaylistId,
				Name:        plainText(item.Snippet.Title),
				Artists:     []models.Artist{{ID: item.Snippet.ChannelId, Name: plainText(item.Snippet.ChannelTitle)}},
				Cover:       optional(getBestThumbnail(item.Snippet.Thumbnails)),
				Description: optional(plainText(item.Snippet.Description)),
				Tracks:      []models.Track{},
			}), true
		}), nil
	}
}

// videoResults turns video hits into tracks, looking up durations in one
// batched call.
func (s *YouTubeScraper) videoResults(ctx context.Context, items []*youtube.SearchResult) ([]models.ResultItem, error) {
	items = lo.Filter(items, func(item *youtube.SearchResult, _ int) bool {
		return item.Id != nil && item.Id.VideoId != "" && item.Snippet != nil
	})
	if len(items) == 0 {
		return []models.ResultItem{}, nil
	}

	ids := lo.Map(items, func(item *youtube.SearchResult, _ int) string { return item.Id.VideoId })
	durations := make(map[string]int, len(ids))
	videos, err := s.service.Videos.List([]string{"contentDetails"}).Id(ids...).Context(ctx).Do(s.key())
	if err != nil {
		// durations are optional, keep the hits
		s.logger.Warn("Failed to get video details", "error", err)
	} else {
		for _, v := range videos.Items {
			if v.ContentDetails == nil {
				continue
			}
			d, err := parseDuration(v.ContentDetails.Duration)
			if err != nil {
				s.logger.Debug("Failed to parse duration", "duration", v.ContentDetails.Duration, "error", err)
				continue
			}
			durations[v.Id] = d
		}
	}

	return lo.Map(items, func(item *youtube.SearchResult, _ int) models.ResultItem {
		t := models.Track{
			ID:      item.Id.VideoId,
			Name:    plainText(item.Snippet.Title),
			Artists: []models.Artist{{ID: item.Snippet.ChannelId, Name: plainText(item.Snippet.ChannelTitle)}},
			Cover:   optional(getBestThumbnail(item.Snippet.Thumbnails)),
		}
		if d, ok := durations[item.Id.VideoId]; ok {
			t.Duration = &d
		}
		return models.TrackItem(t)
	}), nil
}

// Detail implements Scraper for playlist ids. Deleted and private entries
// are skipped.
func (s *YouTubeScraper) Detail(ctx context.Context, id string) (*models.Collection, error) {
	if id == "" || youtubeVideoID.MatchString(id) {
		return nil, models.InvalidID(models.ProviderYouTube, "detail", id)
	}

	lists, err := s.service.Playlists.List([]string{"snippet"}).Id(id).Context(ctx).Do(s.key())
	if err != nil {
		return nil, s.apiError(ctx, "detail", err)
	}
	if len(lists.Items) == 0 || lists.Items[0].Snippet == nil {
		return nil, models.InvalidID(models.ProviderYouTube, "detail", id)
	}
	snippet := lists.Items[0].Snippet

	c := &models.Collection{
		ID:          id,
		Name:        snippet.Title,
		Artists:     []models.Artist{{ID: snippet.ChannelId, Name: snippet.ChannelTitle}},
		Cover:       optional(getBestThumbnail(snippet.Thumbnails)),
		Description: optional(snippet.Description),
		Tracks:      []models.Track{},
	}

	token := ""
	for {
		page, err := s.service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(id).
			MaxResults(youtubePlaylistPage).
			PageToken(token).
			Context(ctx).
			Do(s.key())
		if err != nil {
			return nil, s.apiError(ctx, "detail", err)
		}
		for _, item := range page.Items {
			if item.Snippet == nil || item.ContentDetails == nil || item.Snippet.VideoOwnerChannelId == "" {
				continue
			}
			c.Tracks = append(c.Tracks, models.Track{
				ID:      item.ContentDetails.VideoId,
				Name:    item.Snippet.Title,
				Artists: []models.Artist{{ID: item.Snippet.VideoOwnerChannelId, Name: item.Snippet.VideoOwnerChannelTitle}},
				Cover:   optional(getBestThumbnail(item.Snippet.Thumbnails)),
			})
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	return c, nil
}

type invidiousFormat struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	AudioQuality string `json:"audioQuality"`
}

// Stream implements Scraper through Invidious. Audio-only formats are
// returned best first.
func (s *YouTubeScraper) Stream(ctx context.Context, id string) ([]models.Stream, error) {
	if !youtubeVideoID.MatchString(id) {
		return nil, models.InvalidID(models.ProviderYouTube, "stream", id)
	}
	if s.instance == "" {
		return nil, models.Unsupported(models.ProviderYouTube, "stream")
	}

	var detail struct {
		AdaptiveFormats []invidiousFormat `json:"adaptiveFormats"`
	}
	endpoint := s.instance + "/api/v1/videos/" + url.PathEscape(id)
	if err := s.fetch.getJSON(ctx, "stream", endpoint, url.Values{"fields": {"adaptiveFormats"}}, &detail); err != nil {
		return nil, err
	}

	formats := lo.Filter(detail.AdaptiveFormats, func(f invidiousFormat, _ int) bool {
		return f.URL != "" && f.AudioQuality != ""
	})
	sort.SliceStable(formats, func(i, j int) bool {
		return audioRank(formats[i].AudioQuality) > audioRank(formats[j].AudioQuality)
	})
	if len(formats) == 0 {
		return nil, models.Upstream(models.ProviderYouTube, "stream", fmt.Errorf("no audio formats for %s", id))
	}

	return lo.Map(formats, func(f invidiousFormat, _ int) models.Stream {
		quality := strings.ToLower(strings.TrimPrefix(f.AudioQuality, "AUDIO_QUALITY_"))
		return models.Stream{Quality: quality, URL: f.URL}
	}), nil
}

func audioRank(q string) int {
	return lo.IndexOf(youtubeAudioQualities, q)
}

// parseDuration parses an ISO 8601 duration such as PT1H2M3S into seconds.
func parseDuration(isoDuration string) (int, error) {
	duration, ok := strings.CutPrefix(isoDuration, "PT")
	if !ok {
		return 0, fmt.Errorf("unsupported duration %q", isoDuration)
	}

	total := 0
	for _, unit := range []struct {
		suffix string
		scale  int
	}{{"H", 3600}, {"M", 60}, {"S", 1}} {
		idx := strings.Index(duration, unit.suffix)
		if idx == -1 {
			continue
		}
		n, err := strconv.Atoi(duration[:idx])
		if err != nil {
			return 0, err
		}
		total += n * unit.scale
		duration = duration[idx+1:]
	}
	return total, nil
}

// getBestThumbnail returns the best quality thumbnail URL.
func getBestThumbnail(thumbnails *youtube.ThumbnailDetails) string {
	if thumbnails == nil {
		return ""
	}
	for _, t := range []*youtube.Thumbnail{
		thumbnails.Maxres,
		thumbnails.Standard,
		thumbnails.High,
		thumbnails.Medium,
		thumbnails.Default,
	} {
		if t != nil && t.Url != "" {
			return t.Url
		}
	}
	return ""
}
