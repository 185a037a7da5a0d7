package system

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusUp indicates the component is healthy.
	StatusUp HealthStatus = "up"
	// StatusDown indicates the component is unhealthy.
	StatusDown HealthStatus = "down"
	// StatusDegraded indicates the component is functioning but with issues.
	StatusDegraded HealthStatus = "degraded"
)

// ComponentHealth represents the health of a system component.
type ComponentHealth struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Description string       `json:"description,omitempty"`
	Latency     int64        `json:"latency_ms,omitempty"` // Response time in milliseconds
	LastChecked time.Time    `json:"last_checked"`
}

// SystemHealth represents the overall health of the system.
type SystemHealth struct {
	Status      HealthStatus      `json:"status"`
	Components  []ComponentHealth `json:"components"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Uptime      int64             `json:"uptime_seconds"`
	StartTime   time.Time         `json:"start_time"`
	GoVersion   string            `json:"go_version"`
	GoRoutines  int               `json:"go_routines"`
	MemStats    MemoryStats       `json:"memory_stats"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	Alloc     uint64 `json:"alloc_bytes"`
	Sys       uint64 `json:"sys_bytes"`
	NumGC     uint32 `json:"num_gc"`
	HeapAlloc uint64 `json:"heap_alloc_bytes"`
}

// Pinger is a dependency that can be probed, such as the redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderLister reports the registered providers.
type ProviderLister interface {
	Providers() []models.Provider
}

// HealthService provides health checking functionality.
type HealthService struct {
	redis     Pinger
	providers ProviderLister
	logger    *utils.Logger

	startTime     time.Time
	version       string
	environment   string
	checkInterval time.Duration

	componentCache map[string]ComponentHealth
	cacheMutex     sync.RWMutex
}

// HealthServiceConfig contains configuration for the health service.
type HealthServiceConfig struct {
	Version       string
	Environment   string
	CheckInterval time.Duration
}

// NewHealthService creates a new health service. redis may be nil when no
// redis is configured.
func NewHealthService(redis Pinger, providers ProviderLister, logger *utils.Logger, config HealthServiceConfig) *HealthService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	interval := config.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthService{
		redis:          redis,
		providers:      providers,
		logger:         logger.Named("health_service"),
		startTime:      time.Now(),
		version:        config.Version,
		environment:    config.Environment,
		checkInterval:  interval,
		componentCache: make(map[string]ComponentHealth),
	}
}

// Start runs one check immediately and then one per interval until ctx ends.
func (s *HealthService) Start(ctx context.Context) {
	s.logger.Info("Starting health service", "interval", s.checkInterval)
	s.CheckHealth(ctx)

	go func() {
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Stopping health service")
				return
			case <-ticker.C:
				s.CheckHealth(ctx)
			}
		}
	}()
}

// CheckHealth refreshes every component.
func (s *HealthService) CheckHealth(ctx context.Context) {
	s.logger.Debug("Performing health check")
	if s.redis != nil {
		s.checkRedis(ctx)
	}
	s.checkProviders()
}

// GetHealth returns the last known status of every component.
func (s *HealthService) GetHealth() SystemHealth {
	s.cacheMutex.RLock()
	components := make([]ComponentHealth, 0, len(s.componentCache))
	for _, component := range s.componentCache {
		components = append(components, component)
	}
	s.cacheMutex.RUnlock()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	status := StatusUp
	for _, component := range components {
		if component.Status == StatusDown {
			status = StatusDown
			break
		} else if component.Status == StatusDegraded {
			status = StatusDegraded
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemHealth{
		Status:      status,
		Components:  components,
		Version:     s.version,
		Environment: s.environment,
		Uptime:      int64(time.Since(s.startTime).Seconds()),
		StartTime:   s.startTime,
		GoVersion:   runtime.Version(),
		GoRoutines:  runtime.NumGoroutine(),
		MemStats: MemoryStats{
			Alloc:     memStats.Alloc,
			Sys:       memStats.Sys,
			NumGC:     memStats.NumGC,
			HeapAlloc: memStats.HeapAlloc,
		},
	}
}

// checkRedis pings the credential store.
func (s *HealthService) checkRedis(ctx context.Context) {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.redis.Ping(pingCtx)
	latency := time.Since(start).Milliseconds()

	status := StatusUp
	description := "Redis connection is healthy"
	if err != nil {
		status = StatusDown
		description = "Failed to connect to Redis: " + err.Error()
		s.logger.Error("Redis health check failed", err)
	}

	s.updateComponentHealth("redis", status, description, latency)
}

// checkProviders reports each registered scraper. The gateway is degraded
// when nothing is registered.
func (s *HealthService) checkProviders() {
	var registered []models.Provider
	if s.providers != nil {
		registered = s.providers.Providers()
	}
	if len(registered) == 0 {
		s.updateComponentHealth("providers", StatusDegraded, "No provider is registered", 0)
		return
	}
	s.updateComponentHealth("providers", StatusUp, "", 0)
	for _, p := range registered {
		s.updateComponentHealth("provider:"+p.String(), StatusUp, "Scraper registered", 0)
	}
}

// updateComponentHealth updates the health status of a component in the cache.
func (s *HealthService) updateComponentHealth(name string, status HealthStatus, description string, latency int64) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	s.componentCache[name] = ComponentHealth{
		Name:        name,
		Status:      status,
		Description: description,
		Latency:     latency,
		LastChecked: time.Now(),
	}
}
