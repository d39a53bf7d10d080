package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dex_orders_submitted_total", Help: "Orders accepted by the engine"},
		[]string{"pair", "side", "type"},
	)
	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dex_orders_rejected_total", Help: "Orders rejected before matching"},
		[]string{"pair", "reason"},
	)
	TradesMatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dex_trades_matched_total", Help: "Executed matches"},
		[]string{"pair"},
	)
	SettlementsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dex_settlements_finalized_total", Help: "Provisional settlements committed"},
		[]string{"pair"},
	)
	SettlementsReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dex_settlements_released_total", Help: "Provisional settlements expired and released"},
		[]string{"pair"},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersRejected, TradesMatched, SettlementsFinalized, SettlementsReleased)
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
