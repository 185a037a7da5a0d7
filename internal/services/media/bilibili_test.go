package media

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

const (
	biliNavOK = `{"code":0,"message":"0","data":{"isLogin":true,"uname":"tester"}}`

	biliSingle = `{"code":0,"message":"0","data":{
		"bvid":"BV1single","videos":1,"pic":"http://i0.hdslb.com/single.jpg",
		"title":"one song","desc":"","duration":215,
		"owner":{"mid":7,"name":"Taffy","face":"//i0.hdslb.com/face.jpg"},
		"staff":[{"mid":7,"name":"Taffy"},{"mid":9,"name":"Guest"}],
		"cid":1001,"pages":[{"cid":1001,"part":"one song","duration":215}]}}`

	biliMulti = `{"code":0,"message":"0","data":{
		"bvid":"BV1multi","videos":2,"pic":"http://i0.hdslb.com/multi.jpg",
		"title":"live set","desc":"two parts","duration":600,
		"owner":{"mid":7,"name":"Taffy"},
		"cid":2001,"pages":[{"cid":2001,"part":"P1","duration":300},{"cid":2002,"part":"P2","duration":300}]}}`
)

func biliRoutes(extra map[string]stubRoute) map[string]stubRoute {
	routes := map[string]stubRoute{
		"api.bilibili.com/x/web-interface/nav": okJSON(biliNavOK),
		"api.bilibili.com/x/web-interface/view": func(q url.Values) (int, string) {
			switch q.Get("bvid") {
			case "BV1single":
				return 200, biliSingle
			case "BV1multi":
				return 200, biliMulti
			}
			return 200, `{"code":-404,"message":"啥都木有","data":null}`
		},
		"api.bilibili.com/x/web-interface/search/type": func(q url.Values) (int, string) {
			if q.Get("search_type") == "bili_user" {
				return 200, `{"code":0,"message":"0","data":{"pagesize":20,"numResults":1,"result":[
					{"type":"bili_user","mid":7,"uname":"Taffy","usign":"hello","upic":"//i0.hdslb.com/u.jpg"}]}}`
			}
			return 200, `{"code":0,"message":"0","data":{"pagesize":20,"numResults":2,"result":[
				{"type":"video","bvid":"BV1single","title":"<em class=\"keyword\">one</em> song","pic":"//x","mid":7,"author":"Taffy","duration":"3:35"},
				{"type":"video","bvid":"BV1multi","title":"live set","pic":"//y","mid":7,"author":"Taffy","duration":"10:00"}]}}`
		},
	}
	for k, v := range extra {
		routes[k] = v
	}
	return routes
}

func newTestBilibili(t *testing.T, api *stubAPI) *BilibiliScraper {
	t.Helper()
	s, err := NewBilibiliScraper(context.Background(), api.client(), utils.NewNopLogger())
	if err != nil {
		t.Fatalf("NewBilibiliScraper: %v", err)
	}
	return s
}

func TestBilibiliLogin(t *testing.T) {
	api := newStubAPI(t, map[string]stubRoute{
		"api.bilibili.com/x/web-interface/nav": okJSON(`{"code":-101,"message":"账号未登录","data":{"isLogin":false}}`),
	})
	_, err := NewBilibiliScraper(context.Background(), api.client(), utils.NewNopLogger())
	if !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

func TestBilibiliSuggest(t *testing.T) {
	api := newStubAPI(t, biliRoutes(map[string]stubRoute{
		"s.search.bilibili.com/main/suggest": okJSON(`{"1":{"value":"taffy live"},"0":{"value":"taffy"},"10":{"value":"taffy 10"},"2":{"value":""}}`),
	}))
	s := newTestBilibili(t, api)

	got, err := s.Suggest(context.Background(), "taffy")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	want := []string{"taffy", "taffy live", "taffy 10"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("suggestion %d = %q, want %q", i, got[i], want[i])
		}
	}
	if term := api.requests("s.search.bilibili.com/main/suggest")[0].URL.Query().Get("term"); term != "taffy" {
		t.Errorf("term = %q", term)
	}
}

func TestBilibiliSearch(t *testing.T) {
	s := newTestBilibili(t, newStubAPI(t, biliRoutes(nil)))
	ctx := context.Background()

	tracks, err := s.Search(ctx, "taffy", models.QueryTrack, 1)
	if err != nil {
		t.Fatalf("search tracks: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(tracks))
	}
	track, ok := tracks[0].Track()
	if !ok {
		t.Fatalf("kind = %s", tracks[0].Kind())
	}
	if track.ID != "BV1single::1001" || track.Name != "one song" {
		t.Errorf("track = %+v", track)
	}
	if len(track.Artists) != 2 || track.Artists[1].Name != "Guest" {
		t.Errorf("artists = %+v", track.Artists)
	}
	if track.Duration == nil || *track.Duration != 215 {
		t.Errorf("duration = %v", track.Duration)
	}

	collections, err := s.Search(ctx, "taffy", models.QueryCollection, 1)
	if err != nil {
		t.Fatalf("search collections: %v", err)
	}
	if len(collections) != 1 {
		t.Fatalf("got %d collections, want 1", len(collections))
	}
	c, _ := collections[0].Collection()
	if c.ID != "BV1multi" || len(c.Tracks) != 0 {
		t.Errorf("collection = %+v", c)
	}

	artists, err := s.Search(ctx, "taffy", models.QueryArtist, 2)
	if err != nil {
		t.Fatalf("search artists: %v", err)
	}
	a, ok := artists[0].Artist()
	if !ok || a.ID != "7" || a.Name != "Taffy" || *a.Description != "hello" || *a.Avatar != "https://i0.hdslb.com/u.jpg" {
		t.Errorf("artist = %+v", a)
	}

	if _, err := s.Search(ctx, "taffy", models.QueryAll, 1); !errors.Is(err, models.ErrUnsupportedOperation) {
		t.Errorf("QueryAll: got %v", err)
	}
}

func TestBilibiliSearchSharesVideoLookups(t *testing.T) {
	routes := biliRoutes(nil)
	videoSearch := routes["api.bilibili.com/x/web-interface/search/type"]
	routes["api.bilibili.com/x/web-interface/search/type"] = func(q url.Values) (int, string) {
		// keep the first caller in flight while the second one arrives
		time.Sleep(100 * time.Millisecond)
		return videoSearch(q)
	}
	api := newStubAPI(t, routes)
	s := newTestBilibili(t, api)

	var wg sync.WaitGroup
	counts := make(map[models.QueryType]int)
	var mu sync.Mutex
	for _, qt := range []models.QueryType{models.QueryTrack, models.QueryCollection} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := s.Search(context.Background(), "taffy", qt, 1)
			if err != nil {
				t.Errorf("search %s: %v", qt, err)
				return
			}
			mu.Lock()
			counts[qt] = len(items)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counts[models.QueryTrack] != 1 || counts[models.QueryCollection] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if n := len(api.requests("api.bilibili.com/x/web-interface/search/type")); n != 1 {
		t.Errorf("video search ran %d times, want 1", n)
	}
	if n := len(api.requests("api.bilibili.com/x/web-interface/view")); n != 2 {
		t.Errorf("view ran %d times, want 2", n)
	}
}

func TestBilibiliDetail(t *testing.T) {
	s := newTestBilibili(t, newStubAPI(t, biliRoutes(nil)))
	ctx := context.Background()

	c, err := s.Detail(ctx, "BV1multi")
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if c.Name != "live set" || *c.Description != "two parts" || len(c.Tracks) != 2 {
		t.Fatalf("collection = %+v", c)
	}
	if c.Tracks[1].ID != "BV1multi::2002" || c.Tracks[1].Name != "P2" {
		t.Errorf("second track = %+v", c.Tracks[1])
	}
	if *c.Tracks[0].Cover != "http://i0.hdslb.com/multi.jpg" {
		t.Errorf("tracks share the cover, got %q", *c.Tracks[0].Cover)
	}

	if _, err := s.Detail(ctx, "BV1missing"); !errors.Is(err, models.ErrInvalidIdentifier) {
		t.Errorf("missing video: got %v", err)
	}
	if _, err := s.Detail(ctx, "BV1multi::2001"); !errors.Is(err, models.ErrInvalidIdentifier) {
		t.Errorf("track id: got %v", err)
	}
}

func TestBilibiliStream(t *testing.T) {
	api := newStubAPI(t, biliRoutes(map[string]stubRoute{
		"api.bilibili.com/x/player/playurl": okJSON(`{"code":0,"message":"0","data":{"dash":{
			"audio":[{"id":30280,"base_url":"https://cdn/192","backup_url":["https://bak/192"]},{"id":30216,"base_url":"https://cdn/64","backup_url":null}],
			"dolby":{"type":1,"audio":[{"id":30250,"base_url":"https://cdn/dolby","backup_url":[]}]},
			"flac":{"audio":{"id":30251,"base_url":"https://cdn/flac","backup_url":[]}}}}}`),
	}))
	s := newTestBilibili(t, api)

	got, err := s.Stream(context.Background(), "BV1single::1001")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := []models.Stream{
		{Quality: "192kbps", URL: "https://cdn/192"},
		{Quality: "192kbps", URL: "https://bak/192"},
		{Quality: "64kbps", URL: "https://cdn/64"},
		{Quality: "dolby", URL: "https://cdn/dolby"},
		{Quality: "flac", URL: "https://cdn/flac"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stream %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	q := api.requests("api.bilibili.com/x/player/playurl")[0].URL.Query()
	if q.Get("bvid") != "BV1single" || q.Get("cid") != "1001" || q.Get("fnval") != "272" {
		t.Errorf("playurl query = %v", q)
	}

	for _, id := range []string{"BV1single", "::1001", "BV1single::", ""} {
		if _, err := s.Stream(context.Background(), id); !errors.Is(err, models.ErrInvalidIdentifier) {
			t.Errorf("Stream(%q): got %v", id, err)
		}
	}
}
