package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"norelock.dev/listenify/bragi/internal/config"
	"norelock.dev/listenify/bragi/internal/credentials"
	"norelock.dev/listenify/bragi/internal/db/redis"
	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/services/media"
	"norelock.dev/listenify/bragi/internal/utils"
	"norelock.dev/listenify/bragi/pkg/limitedhttp"
)

// providerStack owns what the enabled providers hold open.
type providerStack struct {
	scrapers []media.Scraper
	jars     []*credentials.Jar
	clients  []*limitedhttp.Client
}

// Close flushes the cookie jars and stops the limited clients.
func (s *providerStack) Close(logger *utils.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, jar := range s.jars {
		if err := jar.Close(ctx); err != nil {
			logger.Error("Failed to flush cookies", err, "provider", jar.Provider())
		}
	}
	for _, c := range s.clients {
		_ = c.Close()
	}
}

// buildProviders creates one limited client, optional cookie jar and
// scraper per enabled provider. On error everything created so far is
// released.
func buildProviders(ctx context.Context, cfg *config.Config, rdb *redis.Client, observer limitedhttp.Observer, logger *utils.Logger) (_ *providerStack, err error) {
	stack := &providerStack{}
	defer func() {
		if err != nil {
			stack.Close(logger)
		}
	}()

	fs := afero.NewOsFs()
	for _, p := range cfg.Provider.Enabled() {
		pc := cfg.Provider.Get(p)

		limited, err := limitedhttp.New(upstreamDoer(pc.Timeout), limitedhttp.Options{
			Name:        p.String(),
			QueueDepth:  pc.RequestLimit.RequestBufferSize,
			MaxInFlight: pc.RequestLimit.MaxConcurrencyNumber,
			RateLimit:   pc.RequestLimit.LimitRequestPerSeconds,
			RateWindow:  time.Second,
			Logger:      logger.Zap(),
			Observer:    observer,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		stack.clients = append(stack.clients, limited)

		var jar http.CookieJar
		if config.UsesCookies(p) {
			backend, err := cookieBackend(cfg, p, fs, rdb)
			if err != nil {
				return nil, err
			}
			origin := media.BilibiliOrigin
			if p == models.ProviderNetease {
				origin = pc.Instance
			}
			j, err := credentials.NewJar(ctx, p, origin, backend, logger)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			j.Start(cfg.Credentials.FlushInterval)
			stack.jars = append(stack.jars, j)
			jar = j
		}

		client := media.NewHTTPClient(limited, jar)
		scraper, err := newScraper(ctx, p, pc, client, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s scraper: %w", p, err)
		}
		stack.scrapers = append(stack.scrapers, scraper)
		logger.Info("Provider enabled", "provider", p)
	}
	return stack, nil
}

// upstreamDoer sends exactly one request per call. Redirects are returned to
// the outer client so its cookie jar sees every hop.
func upstreamDoer(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func newScraper(ctx context.Context, p models.Provider, pc *config.ProviderConfig, client *http.Client, logger *utils.Logger) (media.Scraper, error) {
	switch p {
	case models.ProviderBilibili:
		return media.NewBilibiliScraper(ctx, client, logger)
	case models.ProviderNetease:
		return media.NewNeteaseScraper(ctx, pc.Instance, client, logger)
	case models.ProviderYouTube:
		return media.NewYouTubeScraper(ctx, media.YouTubeOptions{APIKey: pc.APIKey, Instance: pc.Instance}, client, logger)
	case models.ProviderSpotify:
		return media.NewSpotifyScraper(ctx, media.SpotifyOptions{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			Market:       pc.Market,
		}, client, logger)
	}
	return nil, fmt.Errorf("%w: no scraper for %s", models.ErrConfiguration, p)
}

func cookieBackend(cfg *config.Config, p models.Provider, fs afero.Fs, rdb *redis.Client) (credentials.Backend, error) {
	switch cfg.Credentials.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("credentials backend redis requires redis")
		}
		return credentials.NewRedisBackend(rdb, rdb.Key("cookies", p.String())), nil
	case "keyring":
		return credentials.NewKeyringBackend(cfg.Credentials.KeyringService, p.String()), nil
	default:
		return credentials.NewFileBackend(fs, cfg.CookiePath(p)), nil
	}
}
