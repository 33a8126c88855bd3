// Package metrics holds the process's Prometheus collectors, registered at
// package init via promauto the way the retrieval pack's vehicle-auction
// service does.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_bids_sent_total",
			Help: "Total number of bids the bidding engine emitted for placement.",
		},
	)

	AuctionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_bidding_engine_errors_total",
			Help: "Total number of errors the bidding engine recorded, by kind.",
		},
		[]string{"kind"},
	)

	AuctionHousePlaceBidErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_auction_house_place_bid_errors_total",
			Help: "Total number of failed PlaceBid calls to the auction house.",
		},
	)

	EventLoopIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_event_loop_iterations_total",
			Help: "Total number of event-loop iterations committed, by service.",
		},
		[]string{"service"},
	)

	EventLogTailOffset = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sniper_event_log_tail_offset",
			Help: "Offset one past the last event known to be durable in the log.",
		},
	)
)
