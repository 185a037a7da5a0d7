package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"norelock.dev/listenify/bragi/internal/auth"
	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/rpc"
	"norelock.dev/listenify/bragi/internal/services/system"
	"norelock.dev/listenify/bragi/internal/utils"
)

type stubMedia struct {
	lastSearch struct {
		providers []models.Provider
		types     []models.QueryType
		page      int
	}
}

func (s *stubMedia) Providers() []models.Provider {
	return []models.Provider{models.ProviderBilibili, models.ProviderNetease}
}

func (s *stubMedia) Suggest(_ context.Context, keyword string, ps []models.Provider) ([]models.Tagged[string], error) {
	out := make([]models.Tagged[string], 0, len(ps))
	for _, p := range ps {
		out = append(out, models.Tag(p, keyword+"!"))
	}
	return out, nil
}

func (s *stubMedia) Search(_ context.Context, keyword string, ps []models.Provider, types []models.QueryType, page int) ([]models.Tagged[models.ResultItem], error) {
	s.lastSearch.providers, s.lastSearch.types, s.lastSearch.page = ps, types, page
	return []models.Tagged[models.ResultItem]{
		models.Tag(ps[0], models.ArtistItem(models.Artist{ID: "a1", Name: keyword})),
	}, nil
}

func (s *stubMedia) Detail(_ context.Context, p models.Provider, id string) (*models.Collection, error) {
	if p == models.ProviderSpotify {
		return nil, models.NewProviderError(p, "detail", models.ErrProviderNotEnabled, nil)
	}
	return &models.Collection{ID: id, Name: "mix", Artists: []models.Artist{}, Tracks: []models.Track{}}, nil
}

func (s *stubMedia) Stream(_ context.Context, p models.Provider, id string) ([]models.Stream, error) {
	if p == models.ProviderNetease {
		return nil, models.Upstream(p, "stream", context.DeadlineExceeded)
	}
	return []models.Stream{{Quality: "192kbps", URL: "https://cdn.example/" + id}}, nil
}

type testEnv struct {
	router  *Router
	media   *stubMedia
	metrics *system.MetricsService
	tokens  *auth.JWTProvider
}

func newTestEnv(t *testing.T, withAuth bool, limit int) *testEnv {
	t.Helper()
	logger := utils.NewNopLogger()
	svc := &stubMedia{}
	health := system.NewHealthService(nil, svc, logger, system.HealthServiceConfig{Version: "test"})
	health.CheckHealth(context.Background())
	metrics := system.NewMetricsService(logger)

	env := &testEnv{media: svc, metrics: metrics}
	deps := Dependencies{
		Media:      svc,
		Health:     health,
		Metrics:    metrics,
		Dispatcher: rpc.NewDispatcher(svc),
	}
	if withAuth {
		tokens, err := auth.NewJWTProvider(auth.JWTConfig{Secret: "test-secret", Issuer: "bragi"}, logger)
		if err != nil {
			t.Fatalf("NewJWTProvider: %v", err)
		}
		env.tokens = tokens
		deps.Verifier = tokens
	}
	if limit > 0 {
		deps.Limiter = utils.NewRateLimiter(time.Minute, limit)
	}
	env.router = NewRouter(deps, logger)
	return env
}

func (e *testEnv) do(method, target, token string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestMediaRoutes(t *testing.T) {
	env := newTestEnv(t, false, 0)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"suggest", "/api/v1/suggest?keyword=taffy&providers=netease", http.StatusOK},
		{"suggest missing keyword", "/api/v1/suggest?providers=netease", http.StatusBadRequest},
		{"suggest missing providers", "/api/v1/suggest?keyword=a", http.StatusBadRequest},
		{"suggest unknown provider", "/api/v1/suggest?keyword=a&providers=napster", http.StatusBadRequest},
		{"search", "/api/v1/search?keyword=a&providers=bilibili&types=track,artist&page=2", http.StatusOK},
		{"search missing providers", "/api/v1/search?keyword=a&types=track", http.StatusBadRequest},
		{"search bad type", "/api/v1/search?keyword=a&providers=bilibili&types=album", http.StatusBadRequest},
		{"search bad page", "/api/v1/search?keyword=a&providers=bilibili&page=two", http.StatusBadRequest},
		{"search negative page", "/api/v1/search?keyword=a&providers=bilibili&page=-1", http.StatusBadRequest},
		{"detail", "/api/v1/detail/bilibili/123", http.StatusOK},
		{"detail not enabled", "/api/v1/detail/spotify/123", http.StatusNotFound},
		{"detail unknown provider", "/api/v1/detail/napster/123", http.StatusBadRequest},
		{"stream", "/api/v1/stream/bilibili/BV1", http.StatusOK},
		{"stream upstream failure", "/api/v1/stream/netease/1", http.StatusBadGateway},
		{"providers", "/api/v1/providers", http.StatusOK},
		{"health", "/api/v1/health", http.StatusOK},
		{"unknown route", "/api/v1/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.target, "", "")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestSearchQueryParsing(t *testing.T) {
	env := newTestEnv(t, false, 0)

	rec := env.do(http.MethodGet, "/api/v1/search?keyword=a&providers=netease,NETEASE,&types=collection", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := env.media.lastSearch
	if len(got.providers) != 1 || got.providers[0] != models.ProviderNetease {
		t.Errorf("providers = %v", got.providers)
	}
	if len(got.types) != 1 || got.types[0] != models.QueryCollection || got.page != 1 {
		t.Errorf("types = %v, page = %d", got.types, got.page)
	}

	body := decode(t, rec)
	var items []models.Tagged[models.ResultItem]
	if err := json.Unmarshal(body.Data, &items); err != nil {
		t.Fatalf("data: %v", err)
	}
	if len(items) != 1 || items[0].Value.Kind() != models.KindArtist {
		t.Errorf("items = %s", body.Data)
	}

	env.do(http.MethodGet, "/api/v1/search?keyword=a&providers=bilibili", "", "")
	got = env.media.lastSearch
	if len(got.providers) != 1 || len(got.types) != 1 || got.types[0] != models.QueryAll || got.page != 1 {
		t.Errorf("defaults = %+v", got)
	}
}

func TestErrorBody(t *testing.T) {
	env := newTestEnv(t, false, 0)

	rec := env.do(http.MethodGet, "/api/v1/detail/spotify/x", "", "")
	var body models.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.Error.Code != http.StatusNotFound || body.Error.Provider != models.ProviderSpotify {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthAndScopes(t *testing.T) {
	env := newTestEnv(t, true, 0)

	if rec := env.do(http.MethodGet, "/api/v1/suggest?keyword=a&providers=netease", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/suggest?keyword=a&providers=netease", "garbage", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/providers", "", ""); rec.Code != http.StatusOK {
		t.Errorf("providers is public: %d", rec.Code)
	}

	limited, err := env.tokens.GenerateToken("limited", []string{rpc.MethodSuggest})
	if err != nil {
		t.Fatal(err)
	}
	if rec := env.do(http.MethodGet, "/api/v1/suggest?keyword=a&providers=netease", limited, ""); rec.Code != http.StatusOK {
		t.Errorf("granted scope: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/search?keyword=a&providers=netease", limited, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing scope: %d", rec.Code)
	}

	full, err := env.tokens.GenerateToken("full", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec := env.do(http.MethodGet, "/api/v1/search?keyword=a&providers=netease", full, ""); rec.Code != http.StatusOK {
		t.Errorf("unscoped token: %d", rec.Code)
	}

	call := `{"jsonrpc":"2.0","method":"search","params":{"keyword":"a","providers":["netease"]},"id":7}`
	if rec := env.do(http.MethodPost, "/rpc", "", call); rec.Code != http.StatusUnauthorized {
		t.Errorf("rpc without token: %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/rpc", limited, call)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"code":-32001`) {
		t.Errorf("rpc missing scope: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRPCOverHTTP(t *testing.T) {
	env := newTestEnv(t, false, 0)

	rec := env.do(http.MethodPost, "/rpc", "", `{"jsonrpc":"2.0","method":"suggest","params":{"keyword":"a","providers":["netease"]},"id":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"provider":"netease"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	if rec := env.do(http.MethodPost, "/rpc", "", `{"jsonrpc":"2.0","method":"ping"}`); rec.Code != http.StatusNoContent {
		t.Errorf("notification status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, false, 2)

	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodGet, "/api/v1/suggest?keyword=a&providers=netease", "", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := env.do(http.MethodGet, "/api/v1/suggest?keyword=a&providers=netease", "", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := env.do(http.MethodGet, "/api/v1/providers", "", ""); rec.Code != http.StatusOK {
		t.Errorf("public routes are not limited: %d", rec.Code)
	}
}

func TestAmbientRoutes(t *testing.T) {
	env := newTestEnv(t, false, 0)

	if rec := env.do(http.MethodGet, "/ping", "", ""); rec.Code != http.StatusOK {
		t.Errorf("ping = %d", rec.Code)
	}

	env.do(http.MethodGet, "/api/v1/detail/bilibili/1", "", "")
	rec := env.do(http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `path="/api/v1/detail/{provider}/{id}"`) {
		t.Error("requests are not labeled by route pattern")
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	pre := httptest.NewRecorder()
	env.router.ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent || pre.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Errorf("preflight = %d %v", pre.Code, pre.Header())
	}
}
