package media

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

const neteaseBase = "netease.local:3000"

func neteaseRoutes(extra map[string]stubRoute) map[string]stubRoute {
	routes := map[string]stubRoute{
		neteaseBase + "/user/account": okJSON(`{"code":200,"account":{"id":42,"userName":"1_abc"},"profile":{"nickname":"me"}}`),
	}
	for k, v := range extra {
		routes[k] = v
	}
	return routes
}

func newTestNetease(t *testing.T, api *stubAPI) *NeteaseScraper {
	t.Helper()
	s, err := NewNeteaseScraper(context.Background(), "http://"+neteaseBase+"/", api.client(), utils.NewNopLogger())
	if err != nil {
		t.Fatalf("NewNeteaseScraper: %v", err)
	}
	return s
}

func TestNeteaseLogin(t *testing.T) {
	api := newStubAPI(t, map[string]stubRoute{
		neteaseBase + "/user/account": okJSON(`{"code":200,"account":null,"profile":null}`),
	})
	_, err := NewNeteaseScraper(context.Background(), "http://"+neteaseBase, api.client(), utils.NewNopLogger())
	if !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("got %v, want unauthorized", err)
	}

	_, err = NewNeteaseScraper(context.Background(), "not a url", api.client(), utils.NewNopLogger())
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("bad instance: got %v", err)
	}
}

func TestNeteaseSuggestAndSearch(t *testing.T) {
	api := newStubAPI(t, neteaseRoutes(map[string]stubRoute{
		neteaseBase + "/search/suggest": okJSON(`{"code":200,"result":{
			"songs":[{"id":1,"name":"Song A","artists":[{"id":5,"name":"A"}]}],
			"artists":[{"id":5,"name":"A"}]}}`),
		neteaseBase + "/cloudsearch": func(q url.Values) (int, string) {
			switch q.Get("type") {
			case "1":
				return 200, `{"code":200,"result":{"songs":[{"id":1,"name":"Song A","ar":[{"id":5,"name":"A"}],"al":{"picUrl":"https://p/1.jpg"},"dt":201000}]}}`
			case "100":
				return 200, `{"code":200,"result":{"artists":[{"id":5,"name":"A","img1v1Url":"https://p/a.jpg"}]}}`
			case "1000":
				return 200, `{"code":200,"result":{"playlists":[{"id":77,"name":"Mix","coverImgUrl":"https://p/m.jpg","creator":{"userId":9,"nickname":"dj"}}]}}`
			}
			return 200, `{"code":400,"message":"bad type"}`
		},
	}))
	s := newTestNetease(t, api)
	ctx := context.Background()

	got, err := s.Suggest(ctx, "a")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if strings.Join(got, "|") != "A|Song A" {
		t.Errorf("suggestions = %v", got)
	}

	tracks, err := s.Search(ctx, "a", models.QueryTrack, 3)
	if err != nil {
		t.Fatalf("search tracks: %v", err)
	}
	tr, _ := tracks[0].Track()
	if tr.ID != "1" || *tr.Cover != "https://p/1.jpg" || *tr.Duration != 201 || tr.Artists[0].Name != "A" {
		t.Errorf("track = %+v", tr)
	}
	q := api.requests(neteaseBase + "/cloudsearch")[0].URL.Query()
	if q.Get("offset") != "60" || q.Get("limit") != "30" || q.Get("realIP") == "" {
		t.Errorf("cloudsearch query = %v", q)
	}

	artists, err := s.Search(ctx, "a", models.QueryArtist, 1)
	if err != nil {
		t.Fatalf("search artists: %v", err)
	}
	if a, _ := artists[0].Artist(); *a.Avatar != "https://p/a.jpg" {
		t.Errorf("artist = %+v", a)
	}

	lists, err := s.Search(ctx, "a", models.QueryCollection, 1)
	if err != nil {
		t.Fatalf("search collections: %v", err)
	}
	if c, _ := lists[0].Collection(); c.ID != "77" || c.Artists[0].Name != "dj" || len(c.Tracks) != 0 {
		t.Errorf("collection = %+v", c)
	}
}

func TestNeteaseDetailAndStream(t *testing.T) {
	api := newStubAPI(t, neteaseRoutes(map[string]stubRoute{
		neteaseBase + "/playlist/detail": okJSON(`{"code":200,"playlist":{"id":77,"name":"Mix","description":"late night",
			"creator":{"userId":9,"nickname":"dj","signature":"spinning"},"trackIds":[{"id":1},{"id":2}]}}`),
		neteaseBase + "/song/detail": okJSON(`{"code":200,"songs":[{"id":1,"name":"one","ar":[]},{"id":2,"name":"two","ar":[]}]}`),
		neteaseBase + "/song/download/url": func(q url.Values) (int, string) {
			if q.Get("id") == "1" {
				return 200, `{"code":200,"data":{"url":"https://m/1.flac","br":999000}}`
			}
			return 200, `{"code":200,"data":{"url":null}}`
		},
	}))
	s := newTestNetease(t, api)
	ctx := context.Background()

	c, err := s.Detail(ctx, "77")
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if len(c.Tracks) != 2 || c.Tracks[1].Name != "two" || *c.Description != "late night" || *c.Artists[0].Description != "spinning" {
		t.Errorf("collection = %+v", c)
	}
	if ids := api.requests(neteaseBase + "/song/detail")[0].URL.Query().Get("ids"); ids != "1,2" {
		t.Errorf("ids = %q", ids)
	}

	streams, err := s.Stream(ctx, "1")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(streams) != 1 || streams[0] != (models.Stream{Quality: "lossless", URL: "https://m/1.flac"}) {
		t.Errorf("streams = %+v", streams)
	}

	if _, err := s.Stream(ctx, "2"); !errors.Is(err, models.ErrUpstreamFailure) {
		t.Errorf("no url: got %v", err)
	}
	if _, err := s.Stream(ctx, "abc"); !errors.Is(err, models.ErrInvalidIdentifier) {
		t.Errorf("bad id: got %v", err)
	}
	if _, err := s.Detail(ctx, "7x"); !errors.Is(err, models.ErrInvalidIdentifier) {
		t.Errorf("bad detail id: got %v", err)
	}
}

func TestNeteaseAPICode(t *testing.T) {
	api := newStubAPI(t, neteaseRoutes(map[string]stubRoute{
		neteaseBase + "/search/suggest": okJSON(`{"code":301,"msg":"需要登录"}`),
	}))
	s := newTestNetease(t, api)
	if _, err := s.Suggest(context.Background(), "a"); !errors.Is(err, models.ErrUpstreamFailure) {
		t.Errorf("got %v", err)
	}
}
