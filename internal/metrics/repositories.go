package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// RepositoryStore lists repositories for the repository collector.
type RepositoryStore interface {
	ListRepositories(ctx context.Context) ([]*models.Repository, error)
}

var repositoriesDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "", "repositories"),
	"Registered repositories by last check status.",
	[]string{"status"}, nil,
)

// RepositoryCollector reports repository counts from the store at scrape
// time. Results are cached so frequent scrapes do not hit the database.
type RepositoryCollector struct {
	store       RepositoryStore
	logger      zerolog.Logger
	cacheExpiry time.Duration
	timeout     time.Duration

	mu            sync.Mutex
	lastCollected time.Time
	cached        map[models.RepositoryStatus]int
}

// NewRepositoryCollector creates a RepositoryCollector.
func NewRepositoryCollector(store RepositoryStore, logger zerolog.Logger) *RepositoryCollector {
	return &RepositoryCollector{
		store:       store,
		logger:      logger.With().Str("component", "metrics").Logger(),
		cacheExpiry: 15 * time.Second,
		timeout:     5 * time.Second,
	}
}

// Describe implements prometheus.Collector.
func (c *RepositoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- repositoriesDesc
}

// Collect implements prometheus.Collector.
func (c *RepositoryCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.counts()
	for _, status := range []models.RepositoryStatus{
		models.RepositoryStatusOK,
		models.RepositoryStatusError,
		models.RepositoryStatusUnknown,
	} {
		ch <- prometheus.MustNewConstMetric(repositoriesDesc, prometheus.GaugeValue, float64(counts[status]), string(status))
	}
}

func (c *RepositoryCollector) counts() map[models.RepositoryStatus]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.lastCollected) < c.cacheExpiry {
		return c.cached
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	repos, err := c.store.ListRepositories(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to collect repository metrics")
		if c.cached != nil {
			return c.cached
		}
		return map[models.RepositoryStatus]int{}
	}

	counts := make(map[models.RepositoryStatus]int)
	for _, repo := range repos {
		counts[repo.Status]++
	}
	c.cached = counts
	c.lastCollected = time.Now()
	return counts
}
