package web

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasnoah/patchfactory/internal/artifacts"
)

// runCollector exposes stored run summaries as gauges, read on every scrape.
type runCollector struct {
	store *artifacts.Store

	runs         *prometheus.Desc
	localization *prometheus.Desc
	cost         *prometheus.Desc
	scrapeErrors *prometheus.Desc
}

func newRunCollector(store *artifacts.Store) *runCollector {
	return &runCollector{
		store: store,
		runs: prometheus.NewDesc("patchfactory_runs",
			"Stored runs by final status.", []string{"status"}, nil),
		localization: prometheus.NewDesc("patchfactory_localization_score_mean",
			"Mean localization score over stored runs.", []string{"level"}, nil),
		cost: prometheus.NewDesc("patchfactory_cost_usd_total",
			"Total LLM cost over stored runs.", nil, nil),
		scrapeErrors: prometheus.NewDesc("patchfactory_store_scrape_errors",
			"1 when the artifact store could not be read.", nil, nil),
	}
}

func (c *runCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runs
	ch <- c.localization
	ch <- c.cost
	ch <- c.scrapeErrors
}

func (c *runCollector) Collect(ch chan<- prometheus.Metric) {
	sums, err := c.store.List("")
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, 0)

	byStatus := map[string]int{}
	var file, line, cost float64
	for _, s := range sums {
		byStatus[s.Status]++
		file += s.FileScore
		line += s.LineScore
		cost += s.CostUSD
	}
	for status, n := range byStatus {
		ch <- prometheus.MustNewConstMetric(c.runs, prometheus.GaugeValue, float64(n), status)
	}
	if n := float64(len(sums)); n > 0 {
		ch <- prometheus.MustNewConstMetric(c.localization, prometheus.GaugeValue, file/n, "file")
		ch <- prometheus.MustNewConstMetric(c.localization, prometheus.GaugeValue, line/n, "line")
	}
	ch <- prometheus.MustNewConstMetric(c.cost, prometheus.GaugeValue, cost)
}
