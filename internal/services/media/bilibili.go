package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

// BilibiliOrigin is where bilibili login cookies are scoped.
const BilibiliOrigin = "https://www.bilibili.com"

const (
	biliAPI     = "https://api.bilibili.com"
	biliSuggest = "https://s.search.bilibili.com/main/suggest"

	// fnval flags asking playurl for DASH plus dolby/flac audio.
	biliDashFlags = 16 | 256
)

var biliQualities = map[int]string{
	30216: "64kbps",
	30232: "132kbps",
	30280: "192kbps",
	30250: "dolby",
	30251: "flac",
}

type biliResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// biliAPIError is a non-zero code in an otherwise well-formed response.
type biliAPIError struct {
	Code    int
	Message string
}

func (e *biliAPIError) Error() string {
	return fmt.Sprintf("bilibili api code %d: %s", e.Code, e.Message)
}

type biliUser struct {
	Mid   int64  `json:"mid"`
	Name  string `json:"name"`
	Uname string `json:"uname"`
	Usign string `json:"usign"`
	Sign  string `json:"sign"`
	Upic  string `json:"upic"`
	Face  string `json:"face"`
}

func (u biliUser) artist() models.Artist {
	name := u.Name
	if name == "" {
		name = u.Uname
	}
	desc := u.Sign
	if desc == "" {
		desc = u.Usign
	}
	avatar := u.Face
	if avatar == "" {
		avatar = u.Upic
	}
	return models.Artist{
		ID:          strconv.FormatInt(u.Mid, 10),
		Name:        name,
		Description: optional(desc),
		Avatar:      coverURL(avatar),
	}
}

type biliSearchEntry struct {
	Type string `json:"type"`
	BVID string `json:"bvid"`
	biliUser
}

type biliSearchData struct {
	PageSize   int               `json:"pagesize"`
	NumResults int               `json:"numResults"`
	Result     []biliSearchEntry `json:"result"`
}

type biliPage struct {
	CID      int64  `json:"cid"`
	Part     string `json:"part"`
	Duration int    `json:"duration"`
}

type biliVideo struct {
	BVID     string     `json:"bvid"`
	Videos   int        `json:"videos"`
	Pic      string     `json:"pic"`
	Title    string     `json:"title"`
	Desc     string     `json:"desc"`
	Duration int        `json:"duration"`
	Owner    biliUser   `json:"owner"`
	Staff    []biliUser `json:"staff"`
	CID      int64      `json:"cid"`
	Pages    []biliPage `json:"pages"`
}

// artists lists the uploader followed by any co-creators.
func (v *biliVideo) artists() []models.Artist {
	out := make([]models.Artist, 0, 1+len(v.Staff))
	seen := map[int64]bool{}
	for _, u := range append([]biliUser{v.Owner}, v.Staff...) {
		if seen[u.Mid] {
			continue
		}
		seen[u.Mid] = true
		out = append(out, u.artist())
	}
	return out
}

func (v *biliVideo) track() models.Track {
	t := models.Track{
		ID:      biliTrackID(v.BVID, v.CID),
		Name:    plainText(v.Title),
		Artists: v.artists(),
		Cover:   coverURL(v.Pic),
	}
	if v.Duration > 0 {
		d := v.Duration
		t.Duration = &d
	}
	return t
}

func (v *biliVideo) collection(withTracks bool) models.Collection {
	c := models.Collection{
		ID:          v.BVID,
		Name:        plainText(v.Title),
		Artists:     v.artists(),
		Cover:       coverURL(v.Pic),
		Description: optional(v.Desc),
		Tracks:      []models.Track{},
	}
	if !withTracks {
		return c
	}
	for _, p := range v.Pages {
		t := models.Track{
			ID:      biliTrackID(v.BVID, p.CID),
			Name:    p.Part,
			Artists: c.Artists,
			Cover:   c.Cover,
		}
		if p.Duration > 0 {
			d := p.Duration
			t.Duration = &d
		}
		c.Tracks = append(c.Tracks, t)
	}
	return c
}

type biliAudio struct {
	ID        int      `json:"id"`
	BaseURL   string   `json:"base_url"`
	BackupURL []string `json:"backup_url"`
}

type biliPlayURL struct {
	Dash struct {
		Audio []biliAudio `json:"audio"`
		Dolby struct {
			Type  int         `json:"type"`
			Audio []biliAudio `json:"audio"`
		} `json:"dolby"`
		Flac *struct {
			Audio *biliAudio `json:"audio"`
		} `json:"flac"`
	} `json:"dash"`
}

func biliTrackID(bvid string, cid int64) string {
	return bvid + "::" + strconv.FormatInt(cid, 10)
}

// parseBiliTrackID splits "{bvid}::{cid}". Both halves must be non-empty.
func parseBiliTrackID(id string) (bvid, cid string, ok bool) {
	bvid, cid, found := strings.Cut(id, "::")
	if !found || bvid == "" || cid == "" {
		return "", "", false
	}
	return bvid, cid, true
}

// BilibiliScraper talks to the bilibili web API with the cookies of a
// logged-in account.
type BilibiliScraper struct {
	fetch fetcher
	// pages shares one video search per keyword and page between the
	// track and collection searches running for the same request.
	pages  singleflight.Group
	logger *utils.Logger
}

// NewBilibiliScraper builds the scraper and verifies the session cookies
// belong to a logged-in account.
func NewBilibiliScraper(ctx context.Context, client *http.Client, logger *utils.Logger) (*BilibiliScraper, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	logger = logger.Named("bilibili_scraper")
	s := &BilibiliScraper{
		fetch: fetcher{
			provider:  models.ProviderBilibili,
			client:    client,
			userAgent: desktopUserAgent,
			logger:    logger,
		},
		logger: logger,
	}

	name, err := s.Login(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Logged in", "username", name)
	return s, nil
}

// Provider implements Scraper.
func (s *BilibiliScraper) Provider() models.Provider { return models.ProviderBilibili }

// Login returns the user name of the account the cookies belong to.
func (s *BilibiliScraper) Login(ctx context.Context) (string, error) {
	var resp biliResponse[struct {
		IsLogin bool   `json:"isLogin"`
		Uname   string `json:"uname"`
	}]
	if err := s.fetch.getJSON(ctx, "login", biliAPI+"/x/web-interface/nav", nil, &resp); err != nil {
		return "", err
	}
	if resp.Code != 0 || !resp.Data.IsLogin || resp.Data.Uname == "" {
		return "", models.NewProviderError(models.ProviderBilibili, "login", models.ErrUnauthorized,
			&biliAPIError{Code: resp.Code, Message: resp.Message})
	}
	return resp.Data.Uname, nil
}

// biliGet decodes a bilibili envelope and rejects non-zero codes.
func biliGet[T any](ctx context.Context, f *fetcher, op, rawURL string, query url.Values) (T, error) {
	var resp biliResponse[T]
	if err := f.getJSON(ctx, op, rawURL, query, &resp); err != nil {
		return resp.Data, err
	}
	if resp.Code != 0 {
		apiErr := &biliAPIError{Code: resp.Code, Message: resp.Message}
		// -400 and -404 mean the id does not name a video
		if resp.Code == -400 || resp.Code == -404 {
			return resp.Data, models.NewProviderError(f.provider, op, models.ErrInvalidIdentifier, apiErr)
		}
		return resp.Data, models.Upstream(f.provider, op, apiErr)
	}
	return resp.Data, nil
}

// Suggest implements Scraper.
func (s *BilibiliScraper) Suggest(ctx context.Context, keyword string) ([]string, error) {
	var items map[string]struct {
		Value string `json:"value"`
	}
	if err := s.fetch.getJSON(ctx, "suggest", biliSuggest, url.Values{"term": {keyword}}, &items); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	// keys are list positions "0", "1", ...
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := items[k].Value; v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// Search implements Scraper. Video hits are resolved one by one so that
// single-part uploads become tracks and multi-part uploads collections.
func (s *BilibiliScraper) Search(ctx context.Context, keyword string, queryType models.QueryType, page int) ([]models.ResultItem, error) {
	switch queryType {
	case models.QueryArtist:
		entries, err := s.search(ctx, keyword, "bili_user", page)
		if err != nil {
			return nil, err
		}
		out := make([]models.ResultItem, 0, len(entries))
		for _, e := range entries {
			if e.Type != "bili_user" {
				continue
			}
			out = append(out, models.ArtistItem(e.biliUser.artist()))
		}
		return out, nil

	case models.QueryTrack, models.QueryCollection:
		videos, err := s.sharedVideos(ctx, keyword, page)
		if err != nil {
			return nil, err
		}
		out := make([]models.ResultItem, 0, len(videos))
		for _, v := range videos {
			single := v.Videos <= 1
			switch {
			case queryType == models.QueryTrack && single:
				out = append(out, models.TrackItem(v.track()))
			case queryType == models.QueryCollection && !single:
				out = append(out, models.CollectionItem(v.collection(false)))
			}
		}
		return out, nil
	}
	return nil, models.Unsupported(models.ProviderBilibili, "search "+string(queryType))
}

func (s *BilibiliScraper) search(ctx context.Context, keyword, searchType string, page int) ([]biliSearchEntry, error) {
	data, err := biliGet[biliSearchData](ctx, &s.fetch, "search", biliAPI+"/x/web-interface/search/type", url.Values{
		"search_type": {searchType},
		"keyword":     {keyword},
		"page":        {strconv.Itoa(page)},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Searched", "keyword", keyword, "type", searchType, "page", page, "results", len(data.Result))
	return data.Result, nil
}

func (s *BilibiliScraper) sharedVideos(ctx context.Context, keyword string, page int) ([]*biliVideo, error) {
	key := strconv.Itoa(page) + "\x00" + keyword
	ch := s.pages.DoChan(key, func() (any, error) {
		return s.searchVideos(context.WithoutCancel(ctx), keyword, page)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		// shared between callers, read only
		return r.Val.([]*biliVideo), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *BilibiliScraper) searchVideos(ctx context.Context, keyword string, page int) ([]*biliVideo, error) {
	entries, err := s.search(ctx, keyword, "video", page)
	if err != nil {
		return nil, err
	}

	videos := make([]*biliVideo, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		if e.Type != "video" || e.BVID == "" {
			continue
		}
		g.Go(func() error {
			v, err := s.video(gctx, e.BVID)
			if err != nil {
				return err
			}
			videos[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := videos[:0]
	for _, v := range videos {
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *BilibiliScraper) video(ctx context.Context, bvid string) (*biliVideo, error) {
	v, err := biliGet[biliVideo](ctx, &s.fetch, "detail", biliAPI+"/x/web-interface/view", url.Values{"bvid": {bvid}})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Detail implements Scraper. Every upload, single-part or not, resolves
// to a collection of its parts.
func (s *BilibiliScraper) Detail(ctx context.Context, id string) (*models.Collection, error) {
	if id == "" || strings.Contains(id, "::") {
		return nil, models.InvalidID(models.ProviderBilibili, "detail", id)
	}
	v, err := s.video(ctx, id)
	if err != nil {
		return nil, err
	}
	c := v.collection(true)
	return &c, nil
}

// Stream implements Scraper. Each audio format contributes its base URL
// followed by its backups.
func (s *BilibiliScraper) Stream(ctx context.Context, id string) ([]models.Stream, error) {
	bvid, cid, ok := parseBiliTrackID(id)
	if !ok {
		return nil, models.InvalidID(models.ProviderBilibili, "stream", id)
	}

	data, err := biliGet[biliPlayURL](ctx, &s.fetch, "stream", biliAPI+"/x/player/playurl", url.Values{
		"bvid":  {bvid},
		"cid":   {cid},
		"fnval": {strconv.Itoa(biliDashFlags)},
	})
	if err != nil {
		return nil, err
	}

	audio := append([]biliAudio{}, data.Dash.Audio...)
	audio = append(audio, data.Dash.Dolby.Audio...)
	if data.Dash.Flac != nil && data.Dash.Flac.Audio != nil {
		audio = append(audio, *data.Dash.Flac.Audio)
	}

	var streams []models.Stream
	for _, a := range audio {
		quality, known := biliQualities[a.ID]
		if !known {
			quality = strconv.Itoa(a.ID)
		}
		for _, u := range append([]string{a.BaseURL}, a.BackupURL...) {
			if u == "" {
				continue
			}
			streams = append(streams, models.Stream{Quality: quality, URL: u})
		}
	}
	if len(streams) == 0 {
		return nil, models.Upstream(models.ProviderBilibili, "stream", fmt.Errorf("no audio for %s", id))
	}
	return streams, nil
}
