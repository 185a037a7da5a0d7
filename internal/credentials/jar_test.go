package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

type memKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func mustURL(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func names(cookies []*http.Cookie) []string {
	out := make([]string, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, c.Name+"="+c.Value)
	}
	return out
}

func TestJarWithFileBackend(t *testing.T) {
	Convey("Given a cookie file for bilibili", t, func() {
		fs := afero.NewMemMapFs()
		So(afero.WriteFile(fs, "/cookies/bilibili.cookie", []byte("SESSDATA=abc%2C123; bili_jct=csrf; bad pair"), 0o600), ShouldBeNil)
		backend := NewFileBackend(fs, "/cookies/bilibili.cookie")

		jar, err := NewJar(context.Background(), models.ProviderBilibili, "https://www.bilibili.com", backend, utils.NewNopLogger())
		So(err, ShouldBeNil)

		Convey("stored cookies are sent to every subdomain", func() {
			got := names(jar.Cookies(mustURL("https://api.bilibili.com/x/web-interface/nav")))
			So(got, ShouldContain, "SESSDATA=abc%2C123")
			So(got, ShouldContain, "bili_jct=csrf")

			v, ok := jar.Get("bili_jct")
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, "csrf")
		})

		Convey("an unchanged jar does not rewrite the file", func() {
			So(afero.WriteFile(fs, "/cookies/bilibili.cookie", []byte("sentinel"), 0o600), ShouldBeNil)
			So(jar.Flush(context.Background()), ShouldBeNil)
			data, _ := afero.ReadFile(fs, "/cookies/bilibili.cookie")
			So(string(data), ShouldEqual, "sentinel")
		})

		Convey("cookies set by responses are written back on Close", func() {
			jar.SetCookies(mustURL("https://www.bilibili.com/"), []*http.Cookie{
				{Name: "buvid3", Value: "xyz", Domain: ".bilibili.com", Path: "/"},
			})
			So(jar.Close(context.Background()), ShouldBeNil)

			data, err := afero.ReadFile(fs, "/cookies/bilibili.cookie")
			So(err, ShouldBeNil)
			parts := strings.Split(string(data), "; ")
			So(parts, ShouldContain, "buvid3=xyz")
			So(parts, ShouldContain, "SESSDATA=abc%2C123")
			So(jar.Close(context.Background()), ShouldBeNil)
		})
	})

	Convey("A missing cookie file yields an empty jar", t, func() {
		backend := NewFileBackend(afero.NewMemMapFs(), "/nope/netease.cookie")
		jar, err := NewJar(context.Background(), models.ProviderNetease, "http://127.0.0.1:3000", backend, utils.NewNopLogger())
		So(err, ShouldBeNil)
		So(jar.Header(), ShouldBeEmpty)

		Convey("and host-only cookies persist for IP origins", func() {
			jar.SetCookies(mustURL("http://127.0.0.1:3000/login"), []*http.Cookie{{Name: "MUSIC_U", Value: "token"}})
			So(jar.Flush(context.Background()), ShouldBeNil)
			raw, err := backend.Load(context.Background())
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, "MUSIC_U=token")
		})
	})

	Convey("An invalid origin is a configuration error", t, func() {
		_, err := NewJar(context.Background(), models.ProviderBilibili, "not a url", NewFileBackend(afero.NewMemMapFs(), "/x"), utils.NewNopLogger())
		So(errors.Is(err, models.ErrConfiguration), ShouldBeTrue)
	})
}

func TestRedisBackend(t *testing.T) {
	Convey("Given a redis backend", t, func() {
		kv := &memKV{data: map[string]string{"bragi:cookies:netease": "MUSIC_U=abc"}}
		backend := NewRedisBackend(kv, "bragi:cookies:netease")

		Convey("the jar loads and saves through it", func() {
			jar, err := NewJar(context.Background(), models.ProviderNetease, "http://localhost:3000", backend, utils.NewNopLogger())
			So(err, ShouldBeNil)
			v, ok := jar.Get("MUSIC_U")
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, "abc")

			jar.SetCookies(mustURL("http://localhost:3000/"), []*http.Cookie{{Name: "MUSIC_U", Value: "def"}})
			So(jar.Flush(context.Background()), ShouldBeNil)
			So(kv.data["bragi:cookies:netease"], ShouldEqual, "MUSIC_U=def")
		})

		Convey("a failed save keeps the jar dirty", func() {
			jar, err := NewJar(context.Background(), models.ProviderNetease, "http://localhost:3000", backend, utils.NewNopLogger())
			So(err, ShouldBeNil)
			jar.SetCookies(mustURL("http://localhost:3000/"), []*http.Cookie{{Name: "k", Value: "v"}})

			kv.err = errors.New("connection refused")
			So(jar.Flush(context.Background()), ShouldNotBeNil)

			kv.err = nil
			So(jar.Flush(context.Background()), ShouldBeNil)
			So(kv.data["bragi:cookies:netease"], ShouldContainSubstring, "k=v")
		})

		Convey("a load failure fails construction", func() {
			kv.err = errors.New("timeout")
			_, err := NewJar(context.Background(), models.ProviderNetease, "http://localhost:3000", backend, utils.NewNopLogger())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestKeyringBackend(t *testing.T) {
	Convey("Given a mocked keyring", t, func() {
		keyring.MockInit()
		backend := NewKeyringBackend("bragi-test", "bilibili")

		Convey("an empty entry reads as not found", func() {
			_, err := backend.Load(context.Background())
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("saved cookies round trip", func() {
			So(backend.Save(context.Background(), "SESSDATA=1"), ShouldBeNil)
			v, err := backend.Load(context.Background())
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "SESSDATA=1")
		})
	})
}

func TestFlushLoop(t *testing.T) {
	Convey("Start flushes dirty cookies on its interval", t, func() {
		kv := &memKV{data: map[string]string{}}
		jar, err := NewJar(context.Background(), models.ProviderBilibili, "https://www.bilibili.com", NewRedisBackend(kv, "k"), utils.NewNopLogger())
		So(err, ShouldBeNil)

		jar.Start(20 * time.Millisecond)
		jar.SetCookies(mustURL("https://www.bilibili.com/"), []*http.Cookie{{Name: "a", Value: "1", Domain: ".bilibili.com", Path: "/"}})

		deadline := time.Now().Add(time.Second)
		var stored string
		for time.Now().Before(deadline) {
			stored, _, _ = kv.Get(context.Background(), "k")
			if stored != "" {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		So(stored, ShouldEqual, "a=1")
		So(jar.Close(context.Background()), ShouldBeNil)
	})
}
