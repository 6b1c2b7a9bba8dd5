package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type jobStatusCollector struct {
	store      store.Store
	jobsByType *prometheus.Desc
}

// NewJobStatusCollector exposes the current number of jobs per status, read from the store at scrape time.
func NewJobStatusCollector(s store.Store) prometheus.Collector {
	return &jobStatusCollector{
		store: s,
		jobsByType: prometheus.NewDesc(
			fmt.Sprintf("%s_jobs", cvbuilder),
			"Number of jobs not deleted, by status.",
			[]string{jobStatusLabel},
			prometheus.Labels{},
		),
	}
}

func (c *jobStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsByType
}

func (c *jobStatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.store.Job().CountByStatus(ctx, nil)
	if err != nil {
		zap.S().Named("job_collector").Errorf("failed to collect job statistics: %s", err)
		return
	}

	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(c.jobsByType, prometheus.GaugeValue, float64(count), status.String())
	}
}

func RegisterJobStatusCollector(s store.Store) {
	prometheus.MustRegister(NewJobStatusCollector(s))
}
