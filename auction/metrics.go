package auction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	auctionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealedbid_auctions_created_total",
		Help: "Total number of auctions created",
	})

	bidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealedbid_bids_total",
		Help: "Total number of bid submissions by outcome",
	}, []string{"status"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealedbid_settlements_total",
		Help: "Total number of settled auctions by outcome",
	}, []string{"outcome"})

	decryptionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealedbid_decryption_requests_total",
		Help: "Total number of decryption requests by status",
	}, []string{"status"})

	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealedbid_oracle_callbacks_total",
		Help: "Total number of oracle callbacks by result",
	}, []string{"result"})

	releasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealedbid_asset_releases_total",
		Help: "Total number of escrow releases",
	}, []string{"to"})

	handleReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealedbid_handle_releases_total",
		Help: "Total number of coprocessor handles released by result",
	}, []string{"result"})

	trackerUpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sealedbid_tracker_update_duration_seconds",
		Help:    "Duration of encrypted maximum updates",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
)

func recordBid(status string) {
	bidsTotal.WithLabelValues(status).Inc()
}

func recordSettlement(outcome string) {
	settlementsTotal.WithLabelValues(outcome).Inc()
}

func recordDecryptionRequest(status string) {
	decryptionRequestsTotal.WithLabelValues(status).Inc()
}

func recordCallback(result string) {
	callbacksTotal.WithLabelValues(result).Inc()
}

func recordHandleRelease(result string, n int) {
	handleReleasesTotal.WithLabelValues(result).Add(float64(n))
}
