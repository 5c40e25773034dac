package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scrape progress
	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_fetched_total",
			Help: "History pages fetched from the API",
		},
	)

	MessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_messages_stored_total",
			Help: "Message rows written to the local store",
		},
	)

	ChannelsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_channels_completed_total",
			Help: "Channels scraped to the beginning of their history",
		},
	)

	ChannelsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_channels_failed_total",
			Help: "Channels skipped after a fetch error",
		},
	)

	// Rate limiting
	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_rate_limit_waits_total",
			Help: "Requests paused on a 429 response",
		},
	)

	PageFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_page_fetch_duration_seconds",
			Help:    "History page fetch latency, rate-limit waits included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)
