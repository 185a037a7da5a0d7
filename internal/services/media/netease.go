package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

const (
	neteasePageSize = 30
	// song/detail accepts a bounded id list per call
	neteaseSongBatch = 500
	// realIP makes the API instance answer as if called from the mainland
	neteaseRealIP = "116.25.146.177"
)

// cloudsearch type codes
var neteaseSearchTypes = map[models.QueryType]int{
	models.QueryTrack:      1,
	models.QueryArtist:     100,
	models.QueryCollection: 1000,
}

// neteaseEnvelope carries the status code every endpoint returns.
type neteaseEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

func (e neteaseEnvelope) err() error {
	if e.Code == http.StatusOK {
		return nil
	}
	msg := e.Message
	if msg == "" {
		msg = e.Msg
	}
	return fmt.Errorf("netease api code %d: %s", e.Code, msg)
}

type neteaseArtist struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PicURL    string `json:"picUrl"`
	Img1v1URL string `json:"img1v1Url"`
}

func (a neteaseArtist) artist() models.Artist {
	avatar := a.PicURL
	if avatar == "" {
		avatar = a.Img1v1URL
	}
	return models.Artist{
		ID:     strconv.FormatInt(a.ID, 10),
		Name:   a.Name,
		Avatar: optional(avatar),
	}
}

type neteaseUser struct {
	UserID      int64  `json:"userId"`
	Nickname    string `json:"nickname"`
	AvatarURL   string `json:"avatarUrl"`
	Description string `json:"description"`
	Signature   string `json:"signature"`
}

func (u neteaseUser) artist() models.Artist {
	desc := u.Description
	if desc == "" {
		desc = u.Signature
	}
	return models.Artist{
		ID:          strconv.FormatInt(u.UserID, 10),
		Name:        u.Nickname,
		Description: optional(desc),
		Avatar:      optional(u.AvatarURL),
	}
}

type neteaseSong struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Ar      []neteaseArtist `json:"ar"`
	Artists []neteaseArtist `json:"artists"`
	Al      *struct {
		PicURL string `json:"picUrl"`
	} `json:"al"`
	// Dt is the length in milliseconds.
	Dt int `json:"dt"`
}

func (s neteaseSong) track() models.Track {
	artists := s.Ar
	if len(artists) == 0 {
		artists = s.Artists
	}
	t := models.Track{
		ID:   strconv.FormatInt(s.ID, 10),
		Name: s.Name,
		Artists: lo.Map(artists, func(a neteaseArtist, _ int) models.Artist {
			return a.artist()
		}),
	}
	if s.Al != nil {
		t.Cover = optional(s.Al.PicURL)
	}
	if s.Dt > 0 {
		d := s.Dt / 1000
		t.Duration = &d
	}
	return t
}

type neteasePlaylist struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	CoverImgURL string            `json:"coverImgUrl"`
	Creator     neteaseUser       `json:"creator"`
	Description string            `json:"description"`
	TrackIDs    []neteaseTrackRef `json:"trackIds"`
}

type neteaseTrackRef struct {
	ID int64 `json:"id"`
}

func (p neteasePlaylist) collection() models.Collection {
	return models.Collection{
		ID:          strconv.FormatInt(p.ID, 10),
		Name:        p.Name,
		Artists:     []models.Artist{p.Creator.artist()},
		Cover:       optional(p.CoverImgURL),
		Description: optional(p.Description),
		Tracks:      []models.Track{},
	}
}

// NeteaseScraper talks to a NeteaseCloudMusicApi instance.
type NeteaseScraper struct {
	base   string
	fetch  fetcher
	logger *utils.Logger
}

// NewNeteaseScraper builds the scraper for the API instance at base and
// verifies the session cookies belong to a logged-in account.
func NewNeteaseScraper(ctx context.Context, base string, client *http.Client, logger *utils.Logger) (*NeteaseScraper, error) {
	if u, err := url.ParseRequestURI(base); err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid netease instance %q", models.ErrConfiguration, base)
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	logger = logger.Named("netease_scraper")
	s := &NeteaseScraper{
		base: strings.TrimRight(base, "/"),
		fetch: fetcher{
			provider:  models.ProviderNetease,
			client:    client,
			userAgent: mobileUserAgent,
			logger:    logger,
		},
		logger: logger,
	}

	uid, err := s.Login(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Logged in", "user_id", uid)
	return s, nil
}

// Provider implements Scraper.
func (s *NeteaseScraper) Provider() models.Provider { return models.ProviderNetease }

// Login returns the id of the account the cookies belong to.
func (s *NeteaseScraper) Login(ctx context.Context) (string, error) {
	var resp struct {
		neteaseEnvelope
		Account *struct {
			ID int64 `json:"id"`
		} `json:"account"`
	}
	if err := s.get(ctx, "login", "/user/account", nil, &resp, &resp.neteaseEnvelope); err != nil {
		return "", err
	}
	if resp.Account == nil || resp.Account.ID == 0 {
		return "", models.NewProviderError(models.ProviderNetease, "login", models.ErrUnauthorized,
			fmt.Errorf("no account for the stored cookies"))
	}
	return strconv.FormatInt(resp.Account.ID, 10), nil
}

// get calls path on the instance and checks the envelope code.
func (s *NeteaseScraper) get(ctx context.Context, op, path string, query url.Values, v any, env *neteaseEnvelope) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("realIP", neteaseRealIP)
	if err := s.fetch.getJSON(ctx, op, s.base+path, query, v); err != nil {
		return err
	}
	if err := env.err(); err != nil {
		return models.Upstream(models.ProviderNetease, op, err)
	}
	return nil
}

// Suggest implements Scraper. Artist names come before song names.
func (s *NeteaseScraper) Suggest(ctx context.Context, keyword string) ([]string, error) {
	var resp struct {
		neteaseEnvelope
		Result struct {
			Artists []neteaseArtist `json:"artists"`
			Songs   []neteaseSong   `json:"songs"`
		} `json:"result"`
	}
	if err := s.get(ctx, "suggest", "/search/suggest", url.Values{"keywords": {keyword}}, &resp, &resp.neteaseEnvelope); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(resp.Result.Artists)+len(resp.Result.Songs))
	for _, a := range resp.Result.Artists {
		out = append(out, a.Name)
	}
	for _, song := range resp.Result.Songs {
		out = append(out, song.Name)
	}
	return out, nil
}

// Search implements Scraper.
func (s *NeteaseScraper) Search(ctx context.Context, keyword string, queryType models.QueryType, page int) ([]models.ResultItem, error) {
	code, ok := neteaseSearchTypes[queryType]
	if !ok {
		return nil, models.Unsupported(models.ProviderNetease, "search "+string(queryType))
	}

	var resp struct {
		neteaseEnvelope
		Result struct {
			Songs     []neteaseSong     `json:"songs"`
			Artists   []neteaseArtist   `json:"artists"`
			Playlists []neteasePlaylist `json:"playlists"`
		} `json:"result"`
	}
	query := url.Values{
		"keywords": {keyword},
		"type":     {strconv.Itoa(code)},
		"limit":    {strconv.Itoa(neteasePageSize)},
		"offset":   {strconv.Itoa((page - 1) * neteasePageSize)},
	}
	if err := s.get(ctx, "search", "/cloudsearch", query, &resp, &resp.neteaseEnvelope); err != nil {
		return nil, err
	}

	switch queryType {
	case models.QueryTrack:
		return lo.Map(resp.Result.Songs, func(song neteaseSong, _ int) models.ResultItem {
			return models.TrackItem(song.track())
		}), nil
	case models.QueryArtist:
		return lo.Map(resp.Result.Artists, func(a neteaseArtist, _ int) models.ResultItem {
			return models.ArtistItem(a.artist())
		}), nil
	default:
		return lo.Map(resp.Result.Playlists, func(p neteasePlaylist, _ int) models.ResultItem {
			return models.CollectionItem(p.collection())
		}), nil
	}
}

// Detail implements Scraper. Playlist tracks are fetched in batches by id.
func (s *NeteaseScraper) Detail(ctx context.Context, id string) (*models.Collection, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return nil, models.InvalidID(models.ProviderNetease, "detail", id)
	}

	var resp struct {
		neteaseEnvelope
		Playlist *neteasePlaylist `json:"playlist"`
	}
	if err := s.get(ctx, "detail", "/playlist/detail", url.Values{"id": {id}}, &resp, &resp.neteaseEnvelope); err != nil {
		return nil, err
	}
	if resp.Playlist == nil {
		return nil, models.InvalidID(models.ProviderNetease, "detail", id)
	}

	c := resp.Playlist.collection()
	ids := lo.Map(resp.Playlist.TrackIDs, func(t neteaseTrackRef, _ int) string {
		return strconv.FormatInt(t.ID, 10)
	})
	for _, batch := range lo.Chunk(ids, neteaseSongBatch) {
		songs, err := s.songs(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, song := range songs {
			c.Tracks = append(c.Tracks, song.track())
		}
	}
	return &c, nil
}

func (s *NeteaseScraper) songs(ctx context.Context, ids []string) ([]neteaseSong, error) {
	var resp struct {
		neteaseEnvelope
		Songs []neteaseSong `json:"songs"`
	}
	if err := s.get(ctx, "detail", "/song/detail", url.Values{"ids": {strings.Join(ids, ",")}}, &resp, &resp.neteaseEnvelope); err != nil {
		return nil, err
	}
	return resp.Songs, nil
}

// Stream implements Scraper. The download endpoint yields a single
// lossless URL when the account may fetch it.
func (s *NeteaseScraper) Stream(ctx context.Context, id string) ([]models.Stream, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return nil, models.InvalidID(models.ProviderNetease, "stream", id)
	}

	var resp struct {
		neteaseEnvelope
		Data json.RawMessage `json:"data"`
	}
	if err := s.get(ctx, "stream", "/song/download/url", url.Values{"id": {id}}, &resp, &resp.neteaseEnvelope); err != nil {
		return nil, err
	}

	var download struct {
		URL string `json:"url"`
		Br  int    `json:"br"`
	}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &download); err != nil {
			return nil, models.Malformed(models.ProviderNetease, "stream", err)
		}
	}
	if download.URL == "" {
		return nil, models.Upstream(models.ProviderNetease, "stream", fmt.Errorf("no download url for %s", id))
	}
	return []models.Stream{{Quality: "lossless", URL: download.URL}}, nil
}
