package metrics

import (
	"github.com/omondi/mpesa-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	PaymentsInitiated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stk_payments_initiated_total",
			Help: "STK push requests accepted by the gateway",
		},
	)
	PaymentsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_payments_rejected_total",
			Help: "STK push initiations that never produced a transaction",
		},
		[]string{"reason"}, // validation|auth|gateway
	)
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_callbacks_total",
			Help: "Daraja callbacks received",
		},
		[]string{"outcome"}, // completed|failed|unmatched|ignored|malformed
	)
	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daraja_request_duration_seconds",
			Help:    "Outbound Daraja call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"}, // token|push
	)
)

func Init() {
	prometheus.MustRegister(PaymentsInitiated)
	prometheus.MustRegister(PaymentsRejected)
	prometheus.MustRegister(CallbacksTotal)
	prometheus.MustRegister(GatewayLatency)
}

// Serve exposes /metrics on its own listener so scrapes never compete with
// API traffic. Blocks; run it in a goroutine.
func Serve(addr string) {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	logger.Info("metrics listener starting", "addr", addr)
	if err := fasthttp.ListenAndServe(addr, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/metrics" {
			handler(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}); err != nil {
		logger.Error("metrics listener stopped", "error", err)
	}
}
